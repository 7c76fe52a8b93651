// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search turns a query string into a deduplicated pool of candidate
// images. The Coordinator consults the cache, then walks the configured
// source tiers in order, fanning out to every adapter of a tier
// concurrently, until the pool reaches its target size or the tiers run
// out.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/pdiddy/visual-search/internal/cache"
	"github.com/pdiddy/visual-search/internal/logger"
	"github.com/pdiddy/visual-search/internal/metrics"
	"github.com/pdiddy/visual-search/internal/source"
	"github.com/pdiddy/visual-search/pkg/types"
)

// SourceOutcome records one adapter call.
type SourceOutcome struct {
	Source     string        `json:"source" yaml:"source"`
	Tier       string        `json:"tier" yaml:"tier"`
	Query      string        `json:"query" yaml:"query"`
	Simplified bool          `json:"simplified,omitempty" yaml:"simplified,omitempty"`
	Count      int           `json:"count" yaml:"count"`
	Err        string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Diagnostics describes how a pool was assembled.
type Diagnostics struct {
	CacheHit          bool            `json:"cache_hit" yaml:"cache_hit"`
	Shared            bool            `json:"shared,omitempty" yaml:"shared,omitempty"`
	TiersUsed         []string        `json:"tiers_used,omitempty" yaml:"tiers_used,omitempty"`
	SimplifiedRetries int             `json:"simplified_retries" yaml:"simplified_retries"`
	DuplicatesRemoved int             `json:"duplicates_removed" yaml:"duplicates_removed"`
	Sources           []SourceOutcome `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// SourceErrors returns "source: error" lines for every failed call.
func (d Diagnostics) SourceErrors() []string {
	var out []string
	for _, s := range d.Sources {
		if s.Err != "" {
			out = append(out, fmt.Sprintf("%s: %s", s.Source, s.Err))
		}
	}
	return out
}

// Output holds the candidate pool and how it was built.
type Output struct {
	Candidates  []types.Candidate
	Diagnostics Diagnostics
}

// Coordinator runs tiered searches. It is safe for concurrent use and is
// meant to be shared by every pipeline run in the process.
type Coordinator struct {
	tiers          []source.Tier
	cache          cache.Cache
	sem            *semaphore.Weighted
	flights        singleflight.Group
	mu             sync.Mutex
	inflight       map[string]*flight
	gen            uint64
	callTimeout    time.Duration
	perSourceLimit int
	target         int
}

// New builds a Coordinator over resolved tiers. c may be nil to disable
// caching. The semaphore bounds in-flight adapter calls across every
// search the Coordinator runs.
func New(tiers []source.Tier, c cache.Cache, cfg types.SearchConfig) *Coordinator {
	maxCalls := cfg.MaxConcurrentCalls
	if maxCalls <= 0 {
		maxCalls = 16
	}
	target := cfg.TargetPoolSize
	if target <= 0 {
		target = 20
	}
	return &Coordinator{
		tiers:          tiers,
		cache:          c,
		sem:            semaphore.NewWeighted(int64(maxCalls)),
		inflight:       make(map[string]*flight),
		callTimeout:    cfg.CallTimeout,
		perSourceLimit: cfg.PerSourceLimit,
		target:         target,
	}
}

// Tiers returns the resolved tiers in search order.
func (c *Coordinator) Tiers() []source.Tier { return c.tiers }

// Search returns a deduplicated pool for query. count is the number of
// results the caller will rank; it is part of the cache key and raises the
// pool size above the configured target when larger. Identical concurrent
// searches share one fan-out, which keeps running while any caller still
// waits on it. An empty pool is not an error; ErrSearchUnavailable is
// returned only when every adapter call failed as unavailable and nothing
// was found.
func (c *Coordinator) Search(ctx context.Context, query, model string, count int) (Output, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Output{}, fmt.Errorf("query is empty")
	}
	if count <= 0 {
		count = c.target
	}
	poolSize := max(count, c.target)

	key := cache.Key(query, model, count)
	if c.cache != nil {
		if pool, ok := c.cache.Get(ctx, key); ok {
			logger.FromContext(ctx).Debug("Candidate pool served from cache",
				zap.String("query", query), zap.Int("candidates", len(pool)))
			return Output{Candidates: pool, Diagnostics: Diagnostics{CacheHit: true}}, nil
		}
	}

	f := c.join(ctx, key)
	defer c.leave(key, f)

	ch := c.flights.DoChan(f.id, func() (any, error) {
		out, err := c.run(f.ctx, query, poolSize)
		if err == nil && len(out.Candidates) > 0 && f.ctx.Err() == nil && c.cache != nil {
			c.cache.Put(f.ctx, key, out.Candidates)
		}
		return out, err
	})

	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	case res := <-ch:
		out, _ := res.Val.(Output)
		// Each waiter gets its own copy of the shared pool.
		out.Candidates = types.CloneCandidates(out.Candidates)
		out.Diagnostics.Shared = res.Shared
		return out, res.Err
	}
}

// flight is a shared search run. Its context is detached from every
// caller's and cancelled only when the last waiter leaves.
type flight struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers the caller as a waiter on the flight for key, starting a
// new flight when none is live.
func (c *Coordinator) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.inflight[key]
	if f == nil {
		c.gen++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{id: fmt.Sprintf("%s#%d", key, c.gen), ctx: fctx, cancel: cancel}
		c.inflight[key] = f
	}
	f.waiters++
	return f
}

func (c *Coordinator) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.inflight[key] == f {
		delete(c.inflight, key)
	}
}

// call is one scheduled adapter search.
type call struct {
	adapter    source.Adapter
	query      string
	simplified bool
}

// result is a finished call, in the position its call was scheduled.
type result struct {
	call       call
	candidates []types.Candidate
	outcome    SourceOutcome
	err        error
}

// run walks the tiers. It never consults the cache.
func (c *Coordinator) run(ctx context.Context, query string, target int) (Output, error) {
	log := logger.FromContext(ctx)
	limit := c.perSourceLimit
	if limit <= 0 {
		limit = target
	}

	var (
		out         Output
		seen        = make(map[string]bool)
		attempts    int
		unavailable int
	)

	merge := func(results []result) int {
		added := 0
		for _, r := range results {
			out.Diagnostics.Sources = append(out.Diagnostics.Sources, r.outcome)
			attempts++
			if r.err != nil {
				if errors.Is(r.err, types.ErrSourceUnavailable) {
					unavailable++
				}
				log.Warn("Source search failed",
					zap.String("source", r.outcome.Source),
					zap.String("tier", r.outcome.Tier),
					zap.Error(r.err))
				continue
			}
			for _, cand := range r.candidates {
				k := NormalizeURL(cand.URL)
				if seen[k] {
					out.Diagnostics.DuplicatesRemoved++
					continue
				}
				seen[k] = true
				out.Candidates = append(out.Candidates, cand)
				added++
			}
		}
		return added
	}

	for _, tier := range c.tiers {
		if len(out.Candidates) >= target || ctx.Err() != nil {
			break
		}
		out.Diagnostics.TiersUsed = append(out.Diagnostics.TiersUsed, tier.Name)

		calls := make([]call, len(tier.Adapters))
		for i, a := range tier.Adapters {
			calls[i] = call{adapter: a, query: query}
		}
		results := c.fanOut(ctx, tier.Name, calls, limit)
		if merge(results) > 0 {
			continue
		}

		// Nothing new from this tier: give each healthy adapter one try
		// with its own simplified query.
		var retries []call
		for _, r := range results {
			if r.err != nil {
				continue
			}
			a := r.call.adapter
			sq := strings.TrimSpace(a.Simplify(query))
			if sq == "" || strings.EqualFold(sq, query) {
				continue
			}
			retries = append(retries, call{adapter: a, query: sq, simplified: true})
		}
		if len(retries) == 0 || ctx.Err() != nil {
			continue
		}
		out.Diagnostics.SimplifiedRetries++
		log.Info("Retrying tier with simplified queries",
			zap.String("tier", tier.Name), zap.Int("sources", len(retries)))
		merge(c.fanOut(ctx, tier.Name, retries, limit))
	}

	log.Info("Search complete",
		zap.String("query", query),
		zap.Int("candidates", len(out.Candidates)),
		zap.Strings("tiers", out.Diagnostics.TiersUsed),
		zap.Int("duplicates", out.Diagnostics.DuplicatesRemoved))

	if len(out.Candidates) == 0 && ctx.Err() != nil {
		return out, ctx.Err()
	}
	if len(out.Candidates) == 0 && attempts > 0 && unavailable == attempts {
		return out, fmt.Errorf("all %d source calls failed: %w", attempts, types.ErrSearchUnavailable)
	}
	return out, nil
}

// fanOut runs calls concurrently and returns their results in call order.
func (c *Coordinator) fanOut(ctx context.Context, tier string, calls []call, limit int) []result {
	results := make([]result, len(calls))
	var wg sync.WaitGroup

	for i, cl := range calls {
		wg.Add(1)
		go func(i int, cl call) {
			defer wg.Done()
			results[i] = c.searchOne(ctx, tier, cl, limit)
		}(i, cl)
	}
	wg.Wait()
	return results
}

// searchOne runs a single adapter call under the process-wide semaphore and
// the per-call timeout.
func (c *Coordinator) searchOne(ctx context.Context, tier string, cl call, limit int) result {
	name := cl.adapter.Name()
	r := result{call: cl, outcome: SourceOutcome{
		Source:     name,
		Tier:       tier,
		Query:      cl.query,
		Simplified: cl.simplified,
	}}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		r.err = fmt.Errorf("%s: waiting for a call slot: %w", name, err)
		r.outcome.Err = r.err.Error()
		metrics.SourceRequestsTotal.WithLabelValues(name, "cancelled").Inc()
		return r
	}
	defer c.sem.Release(1)

	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	start := time.Now()
	cands, err := cl.adapter.Search(callCtx, cl.query, limit)
	r.outcome.Duration = time.Since(start)
	metrics.SourceRequestDuration.WithLabelValues(name).Observe(r.outcome.Duration.Seconds())

	// An abandoned search says nothing about the source.
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%s: search abandoned: %w", name, ctx.Err())
	}

	switch {
	case err != nil && ctx.Err() != nil:
		metrics.SourceRequestsTotal.WithLabelValues(name, "cancelled").Inc()
	case err != nil && errors.Is(err, types.ErrSourceUnavailable):
		metrics.SourceRequestsTotal.WithLabelValues(name, "unavailable").Inc()
	case err != nil:
		metrics.SourceRequestsTotal.WithLabelValues(name, "error").Inc()
	case len(cands) == 0:
		metrics.SourceRequestsTotal.WithLabelValues(name, "empty").Inc()
	default:
		metrics.SourceRequestsTotal.WithLabelValues(name, "ok").Inc()
	}

	if err != nil {
		r.err = err
		r.outcome.Err = err.Error()
		return r
	}

	for i := range cands {
		if cands[i].Source == "" {
			cands[i].Source = name
		}
	}
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	r.candidates = cands
	r.outcome.Count = len(cands)
	return r
}
