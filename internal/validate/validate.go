// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package validate filters a candidate pool down to resources that still
// answer an existence check. Checks run on a worker pool shared by every
// pipeline run and are bounded by a per-batch deadline.
package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/pdiddy/visual-search/internal/logger"
	"github.com/pdiddy/visual-search/internal/metrics"
	"github.com/pdiddy/visual-search/internal/source"
	"github.com/pdiddy/visual-search/pkg/types"
)

// Checker reports whether a URL is reachable. source.Adapter satisfies it.
type Checker interface {
	Validate(ctx context.Context, url string) (bool, error)
}

// Lookup finds the adapter registered for a source name.
// *source.Registry satisfies it.
type Lookup interface {
	Get(name string) (source.Adapter, bool)
}

// Stats summarizes one Validate call.
type Stats struct {
	Checked     int   `json:"checked" yaml:"checked"`
	Reachable   int   `json:"reachable" yaml:"reachable"`
	Unreachable int   `json:"unreachable" yaml:"unreachable"`
	TimedOut    int   `json:"timed_out" yaml:"timed_out"`
	Err         error `json:"-" yaml:"-"`
}

// Validator runs reachability checks.
type Validator struct {
	pool         *ants.Pool
	lookup       Lookup
	fallback     Checker
	batchTimeout time.Duration
	checkTimeout time.Duration
	now          func() time.Time
}

// New returns a Validator that submits checks to pool. Candidates whose
// source has no adapter in lookup are checked with fallback. lookup may be
// nil.
func New(pool *ants.Pool, lookup Lookup, fallback Checker, cfg types.ValidationConfig) *Validator {
	return &Validator{
		pool:         pool,
		lookup:       lookup,
		fallback:     fallback,
		batchTimeout: cfg.BatchTimeout,
		checkTimeout: cfg.CheckTimeout,
		now:          time.Now,
	}
}

// NewPool creates the shared validation pool. Submit blocks while all
// workers are busy.
func NewPool(workers int) (*ants.Pool, error) {
	if workers < 1 {
		workers = 1
	}
	return ants.NewPool(workers)
}

type outcome struct {
	idx int
	ok  bool
	err error
}

// Validate checks every candidate and returns the reachable ones in input
// order. A candidate whose check has not finished when the batch deadline
// (or ctx) expires counts as unreachable and Stats.Err wraps
// types.ErrValidationTimeout; the batch itself never fails.
func (v *Validator) Validate(ctx context.Context, cands []types.Candidate) ([]types.ValidatedCandidate, Stats) {
	stats := Stats{Checked: len(cands)}
	if len(cands) == 0 {
		return []types.ValidatedCandidate{}, stats
	}
	log := logger.FromContext(ctx)

	batchCtx, cancel := ctx, context.CancelFunc(func() {})
	if v.batchTimeout > 0 {
		batchCtx, cancel = context.WithTimeout(ctx, v.batchTimeout)
	}
	defer cancel()

	// Buffered so abandoned checks can still report and exit.
	results := make(chan outcome, len(cands))

	go func() {
		for i, c := range cands {
			i, c := i, c
			if batchCtx.Err() != nil {
				results <- outcome{idx: i, err: batchCtx.Err()}
				continue
			}
			task := func() {
				ok, err := v.check(batchCtx, c)
				results <- outcome{idx: i, ok: ok, err: err}
			}
			if err := v.pool.Submit(task); err != nil {
				results <- outcome{idx: i, err: fmt.Errorf("submitting check: %w", err)}
			}
		}
	}()

	reachable := make([]bool, len(cands))
	checkedAt := make([]time.Time, len(cands))
	received := 0

collect:
	for received < len(cands) {
		select {
		case o := <-results:
			received++
			checkedAt[o.idx] = v.now()
			reachable[o.idx] = o.ok && o.err == nil
			switch {
			case reachable[o.idx]:
				metrics.ValidationChecksTotal.WithLabelValues("reachable").Inc()
			case errors.Is(o.err, context.DeadlineExceeded) || errors.Is(o.err, context.Canceled):
				metrics.ValidationChecksTotal.WithLabelValues("timeout").Inc()
				stats.TimedOut++
			default:
				metrics.ValidationChecksTotal.WithLabelValues("unreachable").Inc()
				log.Debug("Candidate unreachable",
					zap.String("url", cands[o.idx].URL), zap.Error(o.err))
			}
		case <-batchCtx.Done():
			break collect
		}
	}

	if pending := len(cands) - received; pending > 0 {
		stats.TimedOut += pending
		metrics.ValidationChecksTotal.WithLabelValues("timeout").Add(float64(pending))
	}
	if batchCtx.Err() != nil && stats.TimedOut > 0 {
		stats.Err = fmt.Errorf("%d of %d checks unfinished: %w", stats.TimedOut, len(cands), types.ErrValidationTimeout)
		log.Warn("Validation deadline reached", zap.Int("unfinished", stats.TimedOut))
	}

	out := make([]types.ValidatedCandidate, 0, len(cands))
	for i, c := range cands {
		if !reachable[i] {
			continue
		}
		out = append(out, types.ValidatedCandidate{
			Candidate:   c,
			Reachable:   true,
			ValidatedAt: checkedAt[i],
			Order:       i,
		})
	}
	stats.Reachable = len(out)
	stats.Unreachable = len(cands) - len(out)
	return out, stats
}

// check runs one candidate's reachability check under the per-check timeout.
func (v *Validator) check(ctx context.Context, c types.Candidate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := c.Validate(); err != nil {
		return false, err
	}

	var checker Checker = v.fallback
	if v.lookup != nil {
		if a, ok := v.lookup.Get(c.Source); ok {
			checker = a
		}
	}
	if checker == nil {
		return false, fmt.Errorf("no checker for source %q", c.Source)
	}

	checkCtx := ctx
	if v.checkTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, v.checkTimeout)
		defer cancel()
	}
	return checker.Validate(checkCtx, c.URL)
}
