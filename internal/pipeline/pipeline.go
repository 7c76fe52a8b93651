// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs one visual search end to end: caption the query
// image when no text is given, embed it, gather candidates from the source
// tiers, drop unreachable ones and rank the rest by similarity.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/visual-search/internal/caption"
	"github.com/pdiddy/visual-search/internal/embed"
	"github.com/pdiddy/visual-search/internal/logger"
	"github.com/pdiddy/visual-search/internal/metrics"
	"github.com/pdiddy/visual-search/internal/rank"
	"github.com/pdiddy/visual-search/internal/runlog"
	"github.com/pdiddy/visual-search/internal/search"
	"github.com/pdiddy/visual-search/internal/validate"
	"github.com/pdiddy/visual-search/pkg/types"
)

// Searcher produces the candidate pool for a query.
type Searcher interface {
	Search(ctx context.Context, query, model string, count int) (search.Output, error)
}

// Validator filters candidates down to reachable ones.
type Validator interface {
	Validate(ctx context.Context, cands []types.Candidate) ([]types.ValidatedCandidate, validate.Stats)
}

// Ranker scores reachable candidates.
type Ranker interface {
	Rank(ctx context.Context, emb embed.Embedder, query types.Query, cands []types.ValidatedCandidate, target int, detailed bool) (rank.Result, error)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, e runlog.Entry) error
}

// Request is one search invocation.
type Request struct {
	// Image is the query image. Required.
	Image []byte

	// Text describes the image for source searches. When empty the image
	// is captioned.
	Text string

	// Model identifies the embedding model; empty selects the embedder's.
	Model string

	// Target is the number of results wanted; zero selects the ranker's
	// threshold.
	Target int

	// Detailed adds patch-level analysis to each result.
	Detailed bool

	// Deadline bounds the whole run when non-zero.
	Deadline time.Time
}

// Diagnostics explains how a response was produced.
type Diagnostics struct {
	RunID             string        `json:"run_id" yaml:"run_id"`
	Query             string        `json:"query" yaml:"query"`
	Captioned         bool          `json:"captioned" yaml:"captioned"`
	Model             string        `json:"model" yaml:"model"`
	Detailed          bool          `json:"detailed" yaml:"detailed"`
	TiersUsed         []string      `json:"tiers_used,omitempty" yaml:"tiers_used,omitempty"`
	SimplifiedRetries int           `json:"simplified_retries" yaml:"simplified_retries"`
	CacheHit          bool          `json:"cache_hit" yaml:"cache_hit"`
	SourceErrors      []string      `json:"source_errors,omitempty" yaml:"source_errors,omitempty"`
	Found             int           `json:"found" yaml:"found"`
	Reachable         int           `json:"reachable" yaml:"reachable"`
	Unreachable       int           `json:"unreachable" yaml:"unreachable"`
	TimedOut          int           `json:"timed_out" yaml:"timed_out"`
	Scored            int           `json:"scored" yaml:"scored"`
	Failed            int           `json:"failed" yaml:"failed"`
	Cancelled         int           `json:"cancelled" yaml:"cancelled"`
	EarlyStopped      bool          `json:"early_stopped" yaml:"early_stopped"`
	Reason            types.Reason  `json:"reason,omitempty" yaml:"reason,omitempty"`
	StartedAt         time.Time     `json:"started_at" yaml:"started_at"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
}

// Response is the outcome of a run. It is populated even when Run returns
// a no-results error.
type Response struct {
	Results     []types.ScoredCandidate `json:"results" yaml:"results"`
	Diagnostics Diagnostics             `json:"diagnostics" yaml:"diagnostics"`
}

// Deps are the stage handles a Pipeline drives. Describer and Recorder are
// optional.
type Deps struct {
	Searcher  Searcher
	Validator Validator
	Ranker    Ranker
	Embedder  embed.Embedder
	Describer caption.Describer
	Recorder  Recorder
	Logger    *zap.Logger
}

// Pipeline wires the stages together. It holds no per-run state and is safe
// for concurrent use.
type Pipeline struct {
	deps  Deps
	newID func() string
	now   func() time.Time
}

// New returns a Pipeline over deps.
func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, newID: uuid.NewString, now: time.Now}
}

// Run executes one search. A run that yields nothing returns a
// *types.NoResultsError alongside the partially filled Response; fewer
// results than requested is still success.
func (p *Pipeline) Run(ctx context.Context, req Request) (Response, error) {
	if len(req.Image) == 0 {
		return Response{}, errors.New("query image is required")
	}

	var resp Response
	d := &resp.Diagnostics
	d.RunID = p.newID()
	d.StartedAt = p.now()
	d.Model = req.Model
	if d.Model == "" && p.deps.Embedder != nil {
		d.Model = p.deps.Embedder.Model()
	}

	log := p.deps.Logger.With(zap.String("run_id", d.RunID))
	ctx = logger.WithContext(ctx, log)
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	err := p.run(ctx, req, &resp)
	d.Duration = p.now().Sub(d.StartedAt)
	d.Reason = types.ReasonOf(err)

	outcome := "ok"
	if d.Reason != "" {
		outcome = string(d.Reason)
	} else if err != nil {
		outcome = "error"
	}
	metrics.PipelineRunsTotal.WithLabelValues(outcome).Inc()

	log.Info("Pipeline run complete",
		zap.String("query", d.Query),
		zap.Int("results", len(resp.Results)),
		zap.String("outcome", outcome),
		zap.Duration("duration", d.Duration))

	p.record(ctx, req, resp)
	return resp, err
}

func (p *Pipeline) run(ctx context.Context, req Request, resp *Response) error {
	d := &resp.Diagnostics
	resp.Results = []types.ScoredCandidate{}
	if p.deps.Searcher == nil || p.deps.Validator == nil || p.deps.Ranker == nil {
		return errors.New("pipeline is missing a stage")
	}
	if p.deps.Embedder == nil {
		return types.NoResults(types.ReasonQueryEmbeddingUnavailable,
			fmt.Errorf("no embedder: %w", types.ErrEmbeddingUnavailable))
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		if p.deps.Describer == nil {
			return types.NoResults(types.ReasonCaptionUnavailable,
				fmt.Errorf("no captioner: %w", types.ErrCaptionUnavailable))
		}
		desc, err := p.deps.Describer.Describe(ctx, req.Image)
		if err != nil {
			return types.NoResults(types.ReasonCaptionUnavailable, err)
		}
		text = desc
		d.Captioned = true
	}
	d.Query = text

	// Query embedding and candidate search are independent; run them
	// together and abandon both when either fails.
	query := types.Query{Text: text}
	detailed := req.Detailed
	var pool search.Output

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := p.deps.Embedder.Embed(gctx, req.Image)
		if err != nil {
			return types.NoResults(types.ReasonQueryEmbeddingUnavailable, err)
		}
		query.Vector = vec
		if detailed {
			patches, err := p.deps.Embedder.EmbedPatches(gctx, req.Image)
			if err != nil {
				logger.FromContext(ctx).Warn("Query patch embedding failed, ranking on global vectors",
					zap.Error(err))
				detailed = false
				return nil
			}
			query.Patches = patches
		}
		return nil
	})
	g.Go(func() error {
		out, err := p.deps.Searcher.Search(gctx, text, d.Model, req.Target)
		pool = out
		switch {
		case err == nil:
			return nil
		case errors.Is(err, types.ErrSearchUnavailable):
			return types.NoResults(types.ReasonSearchUnavailable, err)
		default:
			return types.NoResults(types.ReasonNoCandidates, err)
		}
	})
	err := g.Wait()

	sd := pool.Diagnostics
	d.TiersUsed = sd.TiersUsed
	d.SimplifiedRetries = sd.SimplifiedRetries
	d.CacheHit = sd.CacheHit
	d.SourceErrors = sd.SourceErrors()
	d.Found = len(pool.Candidates)
	d.Detailed = detailed
	if err != nil {
		return err
	}
	if len(pool.Candidates) == 0 {
		return types.NoResults(types.ReasonNoCandidates, nil)
	}

	valid, vs := p.deps.Validator.Validate(ctx, pool.Candidates)
	d.Reachable = vs.Reachable
	d.Unreachable = vs.Unreachable
	d.TimedOut = vs.TimedOut
	if len(valid) == 0 {
		return types.NoResults(types.ReasonNoneReachable, vs.Err)
	}

	ranked, err := p.deps.Ranker.Rank(ctx, p.deps.Embedder, query, valid, req.Target, detailed)
	rs := ranked.Stats
	d.Scored = rs.Scored
	d.Failed = rs.Failed
	d.Cancelled = rs.Cancelled + rs.Discarded
	d.EarlyStopped = rs.EarlyStopped
	if err != nil {
		return types.NoResults(types.ReasonQueryEmbeddingUnavailable, err)
	}
	if len(ranked.Results) == 0 {
		return types.NoResults(types.ReasonNoneScored, ctx.Err())
	}
	resp.Results = ranked.Results
	return nil
}

// record writes the run to the run log. Failures are logged, never
// returned: history is a convenience.
func (p *Pipeline) record(ctx context.Context, req Request, resp Response) {
	if p.deps.Recorder == nil {
		return
	}
	d := resp.Diagnostics
	e := runlog.Entry{
		RunID:        d.RunID,
		StartedAt:    d.StartedAt,
		Duration:     d.Duration,
		Query:        d.Query,
		Captioned:    d.Captioned,
		Model:        d.Model,
		Target:       req.Target,
		Detailed:     d.Detailed,
		CacheHit:     d.CacheHit,
		TiersUsed:    d.TiersUsed,
		Found:        d.Found,
		Reachable:    d.Reachable,
		Scored:       d.Scored,
		Failed:       d.Failed,
		Cancelled:    d.Cancelled,
		EarlyStopped: d.EarlyStopped,
		Reason:       string(d.Reason),
	}
	for i, r := range resp.Results {
		e.Results = append(e.Results, runlog.Result{Rank: i + 1, Source: r.Source, URL: r.URL, Score: r.Score})
	}

	// The run's own deadline may already have passed.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.deps.Recorder.Record(rctx, e); err != nil {
		logger.FromContext(ctx).Warn("Recording run failed", zap.Error(err))
	}
}
