// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pdiddy/visual-search/internal/logger"
	"github.com/pdiddy/visual-search/internal/metrics"
	"github.com/pdiddy/visual-search/pkg/types"
)

// Layered fronts a remote Backend with an in-memory LRU. Lookups try memory
// first and promote remote hits; writes go to both. A failing remote tier
// costs latency only.
type Layered struct {
	local  *Memory
	remote Backend
}

// NewLayered combines local and remote. A nil remote makes Layered behave
// exactly like local.
func NewLayered(local *Memory, remote Backend) *Layered {
	return &Layered{local: local, remote: remote}
}

// Get implements Cache.
func (l *Layered) Get(ctx context.Context, key string) ([]types.Candidate, bool) {
	if v, ok := l.local.Get(ctx, key); ok {
		return v, true
	}
	if l.remote == nil {
		return nil, false
	}

	v, err := l.remote.Load(ctx, key)
	switch {
	case err == nil:
		metrics.CacheLookupsTotal.WithLabelValues("redis", "hit").Inc()
		l.local.Put(ctx, key, v)
		return v, true
	case errors.Is(err, ErrNotFound):
		metrics.CacheLookupsTotal.WithLabelValues("redis", "miss").Inc()
	default:
		metrics.CacheLookupsTotal.WithLabelValues("redis", "error").Inc()
		logger.FromContext(ctx).Warn("Remote cache lookup failed", zap.Error(err))
	}
	return nil, false
}

// Put implements Cache.
func (l *Layered) Put(ctx context.Context, key string, value []types.Candidate) {
	l.local.Put(ctx, key, value)
	if l.remote == nil {
		return
	}
	if err := l.remote.Store(ctx, key, value); err != nil {
		logger.FromContext(ctx).Warn("Remote cache write failed", zap.Error(err))
	}
}
