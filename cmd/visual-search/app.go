// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pdiddy/visual-search/internal/cache"
	"github.com/pdiddy/visual-search/internal/caption"
	"github.com/pdiddy/visual-search/internal/embed"
	"github.com/pdiddy/visual-search/internal/httputil"
	"github.com/pdiddy/visual-search/internal/pipeline"
	"github.com/pdiddy/visual-search/internal/rank"
	"github.com/pdiddy/visual-search/internal/runlog"
	"github.com/pdiddy/visual-search/internal/search"
	"github.com/pdiddy/visual-search/internal/source"
	"github.com/pdiddy/visual-search/internal/validate"
	"github.com/pdiddy/visual-search/pkg/types"
)

// app holds the process-wide stage handles built from configuration.
type app struct {
	registry *source.Registry
	tiers    []source.Tier
	pipeline *pipeline.Pipeline

	validatePool *ants.Pool
	rankPool     *ants.Pool
	redis        *redis.Client
	runlog       *runlog.Store
}

// newApp constructs every stage. The caller must Close the result.
func newApp(cfg types.PipelineConfig, log *zap.Logger) (*app, error) {
	a := &app{}

	a.registry = source.Build(cfg.Search, httputil.NewClient(cfg.Search.HTTPConfig))
	tiers, err := a.registry.Resolve(cfg.Search.Tiers)
	if err != nil {
		return nil, err
	}
	a.tiers = tiers
	for name, reason := range a.registry.Disabled() {
		log.Debug("Source disabled", zap.String("source", name), zap.String("reason", reason))
	}

	var pool cache.Cache
	mem := cache.NewMemory(cfg.Cache.Capacity, cfg.Cache.TTL)
	pool = mem
	if cfg.Cache.RedisAddr != "" {
		remote, client := cache.NewRedisFromConfig(cfg.Cache)
		a.redis = client
		pool = cache.NewLayered(mem, remote)
	}
	coordinator := search.New(tiers, pool, cfg.Search)

	if a.validatePool, err = validate.NewPool(cfg.Validation.Workers); err != nil {
		a.Close()
		return nil, fmt.Errorf("creating validation pool: %w", err)
	}
	validationClient := httputil.NewClient(cfg.Validation.HTTPConfig)
	validator := validate.New(a.validatePool, a.registry,
		source.NewHTTPChecker(validationClient, cfg.Validation.UserAgent), cfg.Validation)

	if a.rankPool, err = rank.NewPool(cfg.Ranking.Workers); err != nil {
		a.Close()
		return nil, fmt.Errorf("creating ranking pool: %w", err)
	}
	fetcher := rank.NewHTTPFetcher(httputil.NewClient(cfg.Ranking.HTTPConfig), cfg.Ranking)
	ranker := rank.New(a.rankPool, fetcher, cfg.Ranking)

	embedClient := httputil.NewClient(types.HTTPConfig{Timeout: cfg.Embedding.Timeout})
	embedder := embed.Instrument(embed.NewClient(cfg.Embedding, embedClient))
	describer := caption.NewClient(cfg.Caption, embedClient)

	deps := pipeline.Deps{
		Searcher:  coordinator,
		Validator: validator,
		Ranker:    ranker,
		Embedder:  embedder,
		Describer: describer,
		Logger:    log,
	}
	if cfg.RunLogPath != "" {
		store, err := runlog.Open(cfg.RunLogPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.runlog = store
		deps.Recorder = store
	}
	a.pipeline = pipeline.New(deps)
	return a, nil
}

// Close releases pools and connections.
func (a *app) Close() error {
	var errs []error
	if a.validatePool != nil {
		a.validatePool.Release()
	}
	if a.rankPool != nil {
		a.rankPool.Release()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.runlog != nil {
		errs = append(errs, a.runlog.Close())
	}
	return errors.Join(errs...)
}
