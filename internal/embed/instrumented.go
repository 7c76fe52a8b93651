// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/visual-search/internal/logger"
	"github.com/pdiddy/visual-search/internal/metrics"
)

// Instrumented wraps an Embedder with request metrics and debug logging.
type Instrumented struct {
	inner Embedder
}

// Instrument wraps inner.
func Instrument(inner Embedder) *Instrumented {
	return &Instrumented{inner: inner}
}

// Model implements Embedder.
func (e *Instrumented) Model() string { return e.inner.Model() }

// Embed implements Embedder.
func (e *Instrumented) Embed(ctx context.Context, image []byte) ([]float32, error) {
	start := time.Now()
	vec, err := e.inner.Embed(ctx, image)
	e.observe(ctx, "global", start, err, len(vec))
	return vec, err
}

// EmbedPatches implements Embedder.
func (e *Instrumented) EmbedPatches(ctx context.Context, image []byte) ([][]float32, error) {
	start := time.Now()
	patches, err := e.inner.EmbedPatches(ctx, image)
	e.observe(ctx, "patches", start, err, len(patches))
	return patches, err
}

func (e *Instrumented) observe(ctx context.Context, kind string, start time.Time, err error, n int) {
	model := e.inner.Model()
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, kind, "error").Inc()
		logger.FromContext(ctx).Debug("Embedding request failed",
			zap.String("model", model),
			zap.String("kind", kind),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(model, kind, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(model, kind).Observe(duration.Seconds())
	logger.FromContext(ctx).Debug("Embedding request completed",
		zap.String("model", model),
		zap.String("kind", kind),
		zap.Duration("duration", duration),
		zap.Int("size", n),
	)
}
