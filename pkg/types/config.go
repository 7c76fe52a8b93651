// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP client timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "visual-search/0.1"). Wikimedia rejects requests without one.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// SearchConfig holds settings for the search coordinator and source adapters.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Tiers lists source groups in priority order.
	Tiers []SearchTier `json:"tiers" yaml:"tiers" mapstructure:"tiers"`

	// TargetPoolSize stops tier advancement once this many unique
	// candidates are pooled (default 20).
	TargetPoolSize int `json:"target_pool_size" yaml:"target_pool_size" mapstructure:"target_pool_size"`

	// PerSourceLimit is the result count requested from each adapter
	// (default: TargetPoolSize).
	PerSourceLimit int `json:"per_source_limit" yaml:"per_source_limit" mapstructure:"per_source_limit"`

	// CallTimeout bounds a single adapter search call (default 8s).
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout" mapstructure:"call_timeout"`

	// MaxConcurrentCalls bounds adapter calls in flight across all requests
	// in the process (default 16).
	MaxConcurrentCalls int `json:"max_concurrent_calls" yaml:"max_concurrent_calls" mapstructure:"max_concurrent_calls"`

	// BreakerFailures is the number of consecutive failures that opens a
	// source's circuit breaker (default 5).
	BreakerFailures uint32 `json:"breaker_failures" yaml:"breaker_failures" mapstructure:"breaker_failures"`

	// BreakerCooldown is how long an open breaker rejects calls (default 30s).
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`

	// UnsplashAccessKey enables the Unsplash adapter.
	UnsplashAccessKey string `json:"unsplash_access_key,omitempty" yaml:"unsplash_access_key,omitempty" mapstructure:"unsplash_access_key"`

	// PexelsAPIKey enables the Pexels adapter.
	PexelsAPIKey string `json:"pexels_api_key,omitempty" yaml:"pexels_api_key,omitempty" mapstructure:"pexels_api_key"`

	// PixabayAPIKey enables the Pixabay adapter.
	PixabayAPIKey string `json:"pixabay_api_key,omitempty" yaml:"pixabay_api_key,omitempty" mapstructure:"pixabay_api_key"`
}

// ValidationConfig holds settings for the reachability validator.
type ValidationConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Workers is the maximum number of concurrent checks (default 10).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// BatchTimeout bounds the wall time of one Validate call (default 10s).
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout" mapstructure:"batch_timeout"`

	// CheckTimeout bounds a single reachability check (default 4s).
	CheckTimeout time.Duration `json:"check_timeout" yaml:"check_timeout" mapstructure:"check_timeout"`
}

// RankingConfig holds settings for the similarity ranker.
type RankingConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Workers is the maximum number of concurrent scoring tasks (default 8).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// Threshold is the early-stop count for global-vector scoring (default 20).
	Threshold int `json:"threshold" yaml:"threshold" mapstructure:"threshold"`

	// DetailedThreshold is the early-stop count when patch analysis runs (default 5).
	DetailedThreshold int `json:"detailed_threshold" yaml:"detailed_threshold" mapstructure:"detailed_threshold"`

	// FetchRetries is the number of retries for a failed image download (default 2).
	FetchRetries int `json:"fetch_retries" yaml:"fetch_retries" mapstructure:"fetch_retries"`

	// MaxImageBytes caps a downloaded image (default 10 MiB).
	MaxImageBytes int64 `json:"max_image_bytes" yaml:"max_image_bytes" mapstructure:"max_image_bytes"`
}

// CacheConfig holds settings for the candidate-pool cache.
type CacheConfig struct {
	// Capacity is the maximum number of in-memory entries (default 1000).
	Capacity int `json:"capacity" yaml:"capacity" mapstructure:"capacity"`

	// TTL is the maximum age of an entry (default 1h).
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`

	// RedisAddr enables the shared Redis tier when non-empty.
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`

	// RedisPassword authenticates to Redis.
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty" mapstructure:"redis_password"`

	// RedisDB selects the Redis logical database.
	RedisDB int `json:"redis_db" yaml:"redis_db" mapstructure:"redis_db"`

	// RedisPrefix namespaces cache keys (default "visual-search:pool:").
	RedisPrefix string `json:"redis_prefix" yaml:"redis_prefix" mapstructure:"redis_prefix"`

	// RedisTimeout bounds each Redis operation (default 200ms).
	RedisTimeout time.Duration `json:"redis_timeout" yaml:"redis_timeout" mapstructure:"redis_timeout"`
}

// EmbeddingConfig holds settings for the image embedding service client.
type EmbeddingConfig struct {
	// Endpoint is the base URL of the embedding service.
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`

	// Model is the embedding model identifier; it is part of the cache key.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is sent as a bearer token when set.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Timeout bounds one embedding call (default 30s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// CaptionConfig holds settings for the captioning client, an
// OpenAI-compatible vision chat endpoint.
type CaptionConfig struct {
	// BaseURL overrides the API base URL (empty = OpenAI).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// Model is the vision model identifier (default "gpt-4o-mini").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxTokens caps the description length (default 60).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Env selects the encoder: prod (JSON) or local/dev (console). Default local.
	Env string `json:"env" yaml:"env" mapstructure:"env"`

	// Level overrides the level: debug, info, warn, error.
	Level string `json:"level,omitempty" yaml:"level,omitempty" mapstructure:"level"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Search     SearchConfig     `json:"search" yaml:"search" mapstructure:"search"`
	Validation ValidationConfig `json:"validation" yaml:"validation" mapstructure:"validation"`
	Ranking    RankingConfig    `json:"ranking" yaml:"ranking" mapstructure:"ranking"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" mapstructure:"cache"`
	Embedding  EmbeddingConfig  `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Caption    CaptionConfig    `json:"caption" yaml:"caption" mapstructure:"caption"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging" mapstructure:"logging"`

	// RunLogPath is the SQLite file for run history. Empty disables it.
	RunLogPath string `json:"run_log_path" yaml:"run_log_path" mapstructure:"run_log_path"`
}

const defaultUserAgent = "visual-search/0.1 (+https://github.com/pdiddy/visual-search)"

// DefaultTiers is the built-in tier order: keyless open-license sources
// first, keyed stock-photo APIs second, public feeds last.
func DefaultTiers() []SearchTier {
	return []SearchTier{
		{Name: "open", Sources: []string{"openverse", "wikimedia"}},
		{Name: "stock", Sources: []string{"unsplash", "pexels", "pixabay"}},
		{Name: "feeds", Sources: []string{"flickr"}},
	}
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() PipelineConfig {
	var c PipelineConfig
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *PipelineConfig) ApplyDefaults() {
	applyHTTP(&c.Search.HTTPConfig, 15*time.Second)
	if len(c.Search.Tiers) == 0 {
		c.Search.Tiers = DefaultTiers()
	}
	if c.Search.TargetPoolSize <= 0 {
		c.Search.TargetPoolSize = 20
	}
	if c.Search.PerSourceLimit <= 0 {
		c.Search.PerSourceLimit = c.Search.TargetPoolSize
	}
	if c.Search.CallTimeout <= 0 {
		c.Search.CallTimeout = 8 * time.Second
	}
	if c.Search.MaxConcurrentCalls <= 0 {
		c.Search.MaxConcurrentCalls = 16
	}
	if c.Search.BreakerFailures == 0 {
		c.Search.BreakerFailures = 5
	}
	if c.Search.BreakerCooldown <= 0 {
		c.Search.BreakerCooldown = 30 * time.Second
	}

	applyHTTP(&c.Validation.HTTPConfig, 5*time.Second)
	if c.Validation.Workers <= 0 {
		c.Validation.Workers = 10
	}
	if c.Validation.BatchTimeout <= 0 {
		c.Validation.BatchTimeout = 10 * time.Second
	}
	if c.Validation.CheckTimeout <= 0 {
		c.Validation.CheckTimeout = 4 * time.Second
	}

	applyHTTP(&c.Ranking.HTTPConfig, 20*time.Second)
	if c.Ranking.Workers <= 0 {
		c.Ranking.Workers = 8
	}
	if c.Ranking.Threshold <= 0 {
		c.Ranking.Threshold = 20
	}
	if c.Ranking.DetailedThreshold <= 0 {
		c.Ranking.DetailedThreshold = 5
	}
	if c.Ranking.FetchRetries < 0 {
		c.Ranking.FetchRetries = 0
	} else if c.Ranking.FetchRetries == 0 {
		c.Ranking.FetchRetries = 2
	}
	if c.Ranking.MaxImageBytes <= 0 {
		c.Ranking.MaxImageBytes = 10 << 20
	}

	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = 1000
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Cache.RedisPrefix == "" {
		c.Cache.RedisPrefix = "visual-search:pool:"
	}
	if c.Cache.RedisTimeout <= 0 {
		c.Cache.RedisTimeout = 200 * time.Millisecond
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = "clip-vit-b-32"
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = 30 * time.Second
	}

	if c.Caption.Model == "" {
		c.Caption.Model = "gpt-4o-mini"
	}
	if c.Caption.MaxTokens <= 0 {
		c.Caption.MaxTokens = 60
	}

	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}
}

func applyHTTP(h *HTTPConfig, timeout time.Duration) {
	if h.Timeout <= 0 {
		h.Timeout = timeout
	}
	if h.UserAgent == "" {
		h.UserAgent = defaultUserAgent
	}
}

// Validate reports configuration values that cannot work.
func (c *PipelineConfig) Validate() error {
	var errs []error
	if len(c.Search.Tiers) == 0 {
		errs = append(errs, errors.New("search.tiers: at least one tier is required"))
	}
	seen := make(map[string]string)
	for i, t := range c.Search.Tiers {
		if len(t.Sources) == 0 {
			errs = append(errs, fmt.Errorf("search.tiers[%d] (%s): no sources", i, t.Name))
		}
		for _, s := range t.Sources {
			if prev, ok := seen[s]; ok {
				errs = append(errs, fmt.Errorf("search.tiers[%d]: source %q already listed in tier %q", i, s, prev))
			}
			seen[s] = t.Name
		}
	}
	if c.Search.TargetPoolSize < 0 {
		errs = append(errs, errors.New("search.target_pool_size must be positive"))
	}
	if c.Validation.Workers < 0 || c.Ranking.Workers < 0 {
		errs = append(errs, errors.New("worker counts must be positive"))
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, errors.New("cache.capacity must be positive"))
	}
	if c.Ranking.DetailedThreshold > c.Ranking.Threshold && c.Ranking.Threshold > 0 {
		errs = append(errs, fmt.Errorf("ranking.detailed_threshold (%d) exceeds ranking.threshold (%d)",
			c.Ranking.DetailedThreshold, c.Ranking.Threshold))
	}
	return errors.Join(errs...)
}
