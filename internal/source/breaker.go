// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pdiddy/visual-search/pkg/types"
)

// Guarded wraps an Adapter in a circuit breaker. After a run of consecutive
// Search failures the breaker opens and Search fails fast with
// types.ErrSourceUnavailable until the cooldown elapses. Validate and
// Simplify pass straight through.
type Guarded struct {
	Adapter
	cb *gobreaker.CircuitBreaker
}

// WithBreaker wraps a. failures is the consecutive-failure count that trips
// the breaker; zero disables wrapping.
func WithBreaker(a Adapter, failures uint32, cooldown time.Duration) Adapter {
	if failures == 0 {
		return a
	}
	st := gobreaker.Settings{
		Name:    a.Name(),
		Timeout: cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// A search cut short by the caller says nothing about source health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &Guarded{Adapter: a, cb: gobreaker.NewCircuitBreaker(st)}
}

// Search runs the wrapped Search through the breaker.
func (g *Guarded) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.Adapter.Search(ctx, query, limit)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w: %w", g.Name(), types.ErrSourceUnavailable, err)
		}
		return nil, err
	}
	cands, _ := out.([]types.Candidate)
	return cands, nil
}

// State reports the breaker state ("closed", "half-open" or "open").
func (g *Guarded) State() string {
	return g.cb.State().String()
}

// Unwrap returns the guarded adapter.
func (g *Guarded) Unwrap() Adapter { return g.Adapter }
