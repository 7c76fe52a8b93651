// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache stores deduplicated candidate pools keyed by query, model,
// and result count. The in-memory Memory cache is a TTL-bounded LRU; Redis
// adds an optional tier shared between processes, and Layered combines the
// two. Every cache degrades to a miss on failure.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/pdiddy/visual-search/internal/metrics"
	"github.com/pdiddy/visual-search/pkg/types"
)

// Cache is the contract the search coordinator consumes. Get never fails:
// any backend problem is reported as a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]types.Candidate, bool)
	Put(ctx context.Context, key string, value []types.Candidate)
}

// entry is one cached pool. value is owned by the cache and never handed out.
type entry struct {
	key          string
	value        []types.Candidate
	createdAt    time.Time
	lastAccessAt time.Time
}

// Memory is a capacity-bounded LRU cache whose entries expire TTL after they
// were written. Expired entries are removed lazily when looked up. All
// methods are safe for concurrent use.
type Memory struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	ll    *list.List // front = most recently used
	items map[string]*list.Element
}

// Option configures a Memory cache.
type Option func(*Memory)

// WithClock substitutes the time source. Tests use it to step through TTL
// boundaries without sleeping.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates a cache holding at most capacity entries for at most ttl.
// A non-positive capacity is treated as 1; a non-positive ttl disables
// expiry.
func NewMemory(capacity int, ttl time.Duration, opts ...Option) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	m := &Memory{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the pool stored under key. An entry older than the
// TTL is evicted and reported as a miss.
func (m *Memory) Get(_ context.Context, key string) ([]types.Candidate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues("memory", "miss").Inc()
		return nil, false
	}

	e := el.Value.(*entry)
	now := m.now()
	if m.ttl > 0 && now.Sub(e.createdAt) > m.ttl {
		m.removeElement(el)
		metrics.CacheLookupsTotal.WithLabelValues("memory", "expired").Inc()
		return nil, false
	}

	e.lastAccessAt = now
	m.ll.MoveToFront(el)
	metrics.CacheLookupsTotal.WithLabelValues("memory", "hit").Inc()
	return types.CloneCandidates(e.value), true
}

// Put stores a copy of value under key, evicting the least recently used
// entry when the cache is full. Writing an existing key refreshes its TTL.
func (m *Memory) Put(_ context.Context, key string, value []types.Candidate) {
	stored := types.CloneCandidates(value)
	if stored == nil {
		stored = []types.Candidate{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if el, ok := m.items[key]; ok {
		e := el.Value.(*entry)
		e.value = stored
		e.createdAt = now
		e.lastAccessAt = now
		m.ll.MoveToFront(el)
		return
	}

	if m.ll.Len() >= m.capacity {
		if oldest := m.ll.Back(); oldest != nil {
			m.removeElement(oldest)
			metrics.CacheEvictionsTotal.Inc()
		}
	}

	m.items[key] = m.ll.PushFront(&entry{
		key:          key,
		value:        stored,
		createdAt:    now,
		lastAccessAt: now,
	})
}

// Delete removes key if present.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
}

// Len returns the number of entries, including expired ones not yet evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// Purge drops every entry.
func (m *Memory) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ll.Init()
	m.items = make(map[string]*list.Element, m.capacity)
}

func (m *Memory) removeElement(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(*entry).key)
}
