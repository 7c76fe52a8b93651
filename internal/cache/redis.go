// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pdiddy/visual-search/pkg/types"
)

// ErrNotFound is returned by a Backend when the key is absent.
var ErrNotFound = errors.New("cache key not found")

// Backend is a remote cache tier. Unlike Cache it reports failures, so the
// layer above can log and count them before degrading to a miss.
type Backend interface {
	Load(ctx context.Context, key string) ([]types.Candidate, error)
	Store(ctx context.Context, key string, value []types.Candidate) error
}

// Redis stores candidate pools as JSON with a server-side TTL.
type Redis struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedis wraps a go-redis client. timeout bounds every operation so a
// slow Redis never stalls a search.
func NewRedis(client redis.Cmdable, prefix string, ttl, timeout time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, timeout: timeout}
}

// NewRedisFromConfig dials nothing; go-redis connects lazily on first use.
func NewRedisFromConfig(cfg types.CacheConfig) (*Redis, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisTimeout,
		ReadTimeout:  cfg.RedisTimeout,
		WriteTimeout: cfg.RedisTimeout,
		MaxRetries:   -1,
	})
	return NewRedis(client, cfg.RedisPrefix, cfg.TTL, cfg.RedisTimeout), client
}

// Load fetches and decodes the pool under key.
func (r *Redis) Load(ctx context.Context, key string) ([]types.Candidate, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w: %w", types.ErrCacheUnavailable, err)
	}

	var out []types.Candidate
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding cached pool: %w: %w", types.ErrCacheUnavailable, err)
	}
	return out, nil
}

// Store encodes value and writes it with the configured TTL.
func (r *Redis) Store(ctx context.Context, key string, value []types.Candidate) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding pool: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Set(ctx, r.redisKey(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w: %w", types.ErrCacheUnavailable, err)
	}
	return nil
}

func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

// redisKey hashes the logical key so free-text queries never leak into
// Redis key names.
func (r *Redis) redisKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return r.prefix + hex.EncodeToString(h[:16])
}
