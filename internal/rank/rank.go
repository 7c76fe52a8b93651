// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rank scores validated candidates against the query embedding and
// returns them by descending similarity. Scoring tasks run on a worker pool
// shared by every pipeline run; a run stops early once enough candidates
// have scored.
package rank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/pdiddy/visual-search/internal/embed"
	"github.com/pdiddy/visual-search/internal/logger"
	"github.com/pdiddy/visual-search/internal/metrics"
	"github.com/pdiddy/visual-search/pkg/types"
)

// Stats summarizes one Rank call.
type Stats struct {
	Threshold    int  `json:"threshold" yaml:"threshold"`
	Submitted    int  `json:"submitted" yaml:"submitted"`
	Scored       int  `json:"scored" yaml:"scored"`
	Failed       int  `json:"failed" yaml:"failed"`
	Cancelled    int  `json:"cancelled" yaml:"cancelled"`
	Discarded    int  `json:"discarded" yaml:"discarded"`
	EarlyStopped bool `json:"early_stopped" yaml:"early_stopped"`
}

// Result is the ranked output of one Rank call.
type Result struct {
	Results []types.ScoredCandidate
	Stats   Stats
}

// Ranker scores candidates.
type Ranker struct {
	pool              *ants.Pool
	fetcher           Fetcher
	threshold         int
	detailedThreshold int
}

// New returns a Ranker that submits scoring tasks to pool and downloads
// images with fetcher.
func New(pool *ants.Pool, fetcher Fetcher, cfg types.RankingConfig) *Ranker {
	r := &Ranker{
		pool:              pool,
		fetcher:           fetcher,
		threshold:         cfg.Threshold,
		detailedThreshold: cfg.DetailedThreshold,
	}
	if r.threshold <= 0 {
		r.threshold = 20
	}
	if r.detailedThreshold <= 0 {
		r.detailedThreshold = 5
	}
	return r
}

// NewPool creates the shared scoring pool.
func NewPool(workers int) (*ants.Pool, error) {
	if workers < 1 {
		workers = 1
	}
	return ants.NewPool(workers)
}

// Threshold returns the early-stop count for a request. A positive target
// replaces the global default; detailed analysis is capped at the detailed
// threshold whatever the target.
func (r *Ranker) Threshold(target int, detailed bool) int {
	switch {
	case detailed && target > 0:
		return min(target, r.detailedThreshold)
	case detailed:
		return r.detailedThreshold
	case target > 0:
		return target
	default:
		return r.threshold
	}
}

// Rank scores cands against query with emb and returns at most Threshold
// results, highest score first, ties broken by validation order. Once the
// threshold is met the run's context is cancelled: tasks not yet started
// never touch the network and results still in flight are discarded.
// Per-candidate failures are counted, not returned.
func (r *Ranker) Rank(ctx context.Context, emb embed.Embedder, query types.Query, cands []types.ValidatedCandidate, target int, detailed bool) (Result, error) {
	threshold := r.Threshold(target, detailed)
	res := Result{Results: []types.ScoredCandidate{}, Stats: Stats{Threshold: threshold}}

	if emb == nil {
		return res, fmt.Errorf("no embedder: %w", types.ErrEmbeddingUnavailable)
	}
	if _, err := Normalize(query.Vector); err != nil {
		return res, fmt.Errorf("query vector: %w: %w", types.ErrEmbeddingUnavailable, err)
	}
	if len(cands) == 0 {
		return res, nil
	}
	log := logger.FromContext(ctx)
	detailed = detailed && len(query.Patches) > 0

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		scored  []types.ScoredCandidate
		stopped bool
		stats   = &res.Stats
	)

	for _, c := range cands {
		if runCtx.Err() != nil {
			mu.Lock()
			stats.Cancelled++
			mu.Unlock()
			metrics.ScoringTasksTotal.WithLabelValues("cancelled").Inc()
			continue
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()

			if runCtx.Err() != nil {
				mu.Lock()
				stats.Cancelled++
				mu.Unlock()
				metrics.ScoringTasksTotal.WithLabelValues("cancelled").Inc()
				return
			}

			sc, err := r.score(runCtx, emb, query, c, detailed)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case stopped:
				stats.Discarded++
				metrics.ScoringTasksTotal.WithLabelValues("discarded").Inc()
			case err != nil && runCtx.Err() != nil:
				stats.Cancelled++
				metrics.ScoringTasksTotal.WithLabelValues("cancelled").Inc()
			case err != nil:
				stats.Failed++
				metrics.ScoringTasksTotal.WithLabelValues("failed").Inc()
				log.Debug("Scoring failed", zap.String("url", c.URL), zap.Error(err))
			default:
				scored = append(scored, sc)
				metrics.ScoringTasksTotal.WithLabelValues("scored").Inc()
				if len(scored) >= threshold {
					stopped = true
					cancel()
				}
			}
		}

		if err := r.pool.Submit(task); err != nil {
			wg.Done()
			mu.Lock()
			stats.Failed++
			mu.Unlock()
			log.Warn("Submitting scoring task failed", zap.Error(err))
			continue
		}
		mu.Lock()
		stats.Submitted++
		mu.Unlock()
	}
	wg.Wait()

	stats.Scored = len(scored)
	stats.EarlyStopped = stopped
	if stopped {
		metrics.EarlyStopsTotal.Inc()
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Order < scored[j].Order
	})
	if len(scored) > threshold {
		scored = scored[:threshold]
	}
	if scored != nil {
		res.Results = scored
	}

	log.Info("Ranking complete",
		zap.Int("submitted", stats.Submitted),
		zap.Int("scored", stats.Scored),
		zap.Int("failed", stats.Failed),
		zap.Int("cancelled", stats.Cancelled),
		zap.Int("discarded", stats.Discarded),
		zap.Bool("early_stopped", stats.EarlyStopped))

	return res, nil
}

// score downloads, embeds and compares one candidate. Patch analysis
// failures leave Patch nil without failing the candidate.
func (r *Ranker) score(ctx context.Context, emb embed.Embedder, query types.Query, c types.ValidatedCandidate, detailed bool) (types.ScoredCandidate, error) {
	image, err := r.fetcher.Fetch(ctx, c.URL)
	if err != nil {
		return types.ScoredCandidate{}, fmt.Errorf("fetch: %w", err)
	}

	vec, err := emb.Embed(ctx, image)
	if err != nil {
		return types.ScoredCandidate{}, fmt.Errorf("embed: %w", err)
	}

	score, err := Cosine(query.Vector, vec)
	if err != nil {
		return types.ScoredCandidate{}, fmt.Errorf("similarity: %w", err)
	}

	sc := types.ScoredCandidate{ValidatedCandidate: c, Score: score}
	if !detailed {
		return sc, nil
	}

	patches, err := emb.EmbedPatches(ctx, image)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return types.ScoredCandidate{}, err
		}
		logger.FromContext(ctx).Debug("Patch embedding failed", zap.String("url", c.URL), zap.Error(err))
		return sc, nil
	}
	summary, err := PatchCorrespondence(query.Patches, patches)
	if err != nil {
		logger.FromContext(ctx).Debug("Patch comparison failed", zap.String("url", c.URL), zap.Error(err))
		return sc, nil
	}
	sc.Patch = &summary
	return sc, nil
}
