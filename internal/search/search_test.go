// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/visual-search/internal/cache"
	"github.com/pdiddy/visual-search/internal/source"
	"github.com/pdiddy/visual-search/pkg/types"
)

// --- fake adapter ---

type fakeAdapter struct {
	name     string
	results  map[string][]types.Candidate // by query; "*" matches any
	err      error
	simplify func(string) string
	delay    time.Duration
	block    chan struct{}

	abandoned atomic.Int32

	mu      sync.Mutex
	queries []string
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			f.abandoned.Add(1)
			return nil, fmt.Errorf("%s: %w: %w", f.name, types.ErrSourceUnavailable, ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[query]; ok {
		return types.CloneCandidates(r), nil
	}
	return types.CloneCandidates(f.results["*"]), nil
}

func (f *fakeAdapter) Validate(context.Context, string) (bool, error) { return true, nil }

func (f *fakeAdapter) Simplify(q string) string {
	if f.simplify != nil {
		return f.simplify(q)
	}
	return q
}

func (f *fakeAdapter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func cands(src string, urls ...string) []types.Candidate {
	out := make([]types.Candidate, len(urls))
	for i, u := range urls {
		out[i] = types.Candidate{Source: src, URL: u}
	}
	return out
}

func urls(cs []types.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.URL
	}
	return out
}

func unavailableErr(name string) error {
	return fmt.Errorf("%s: %w", name, types.ErrSourceUnavailable)
}

func testSearchCfg(target int) types.SearchConfig {
	return types.SearchConfig{
		TargetPoolSize:     target,
		CallTimeout:        time.Second,
		MaxConcurrentCalls: 4,
	}
}

// --- Coordinator ---

func TestSearchIsIdempotentThroughCache(t *testing.T) {
	a := &fakeAdapter{name: "a", results: map[string][]types.Candidate{"*": cands("a", "https://x/1", "https://x/2")}}
	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{a}}},
		cache.NewMemory(10, time.Hour), testSearchCfg(2))

	ctx := context.Background()
	first, err := c.Search(ctx, "red bicycle", "clip", 0)
	require.NoError(t, err)
	assert.False(t, first.Diagnostics.CacheHit)

	second, err := c.Search(ctx, "Red  Bicycle", "clip", 0)
	require.NoError(t, err)
	assert.True(t, second.Diagnostics.CacheHit)
	assert.Equal(t, urls(first.Candidates), urls(second.Candidates))
	assert.Equal(t, 1, a.calls(), "second search must not reach the adapter")

	_, err = c.Search(ctx, "red bicycle", "siglip", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, a.calls(), "a different model is a different key")
}

func TestSearchDedupsAcrossTiers(t *testing.T) {
	a := &fakeAdapter{name: "a", results: map[string][]types.Candidate{"*": cands("a", "https://x.example/A.jpg", "https://x.example/b.jpg")}}
	b := &fakeAdapter{name: "b", results: map[string][]types.Candidate{"*": cands("b", "HTTPS://X.example/a.jpg?utm=1", "https://x.example/c.jpg/")}}
	c := New([]source.Tier{
		{Name: "t1", Adapters: []source.Adapter{a}},
		{Name: "t2", Adapters: []source.Adapter{b}},
	}, nil, testSearchCfg(5))

	out, err := c.Search(context.Background(), "q", "m", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.example/A.jpg", "https://x.example/b.jpg", "https://x.example/c.jpg/"}, urls(out.Candidates))
	assert.Equal(t, 1, out.Diagnostics.DuplicatesRemoved)
	assert.Equal(t, []string{"t1", "t2"}, out.Diagnostics.TiersUsed)
}

func TestSearchFallsBackWhenTierUnavailable(t *testing.T) {
	a1 := &fakeAdapter{name: "a1", err: unavailableErr("a1")}
	a2 := &fakeAdapter{name: "a2", err: unavailableErr("a2")}
	b := &fakeAdapter{name: "b", results: map[string][]types.Candidate{"*": cands("b", "https://x/1")}}
	c := New([]source.Tier{
		{Name: "t1", Adapters: []source.Adapter{a1, a2}},
		{Name: "t2", Adapters: []source.Adapter{b}},
	}, nil, testSearchCfg(5))

	out, err := c.Search(context.Background(), "q", "m", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/1"}, urls(out.Candidates))
	assert.Equal(t, []string{"t1", "t2"}, out.Diagnostics.TiersUsed)
	assert.Len(t, out.Diagnostics.SourceErrors(), 2)
	assert.Equal(t, 0, out.Diagnostics.SimplifiedRetries, "unavailable adapters are not retried")
}

func TestSearchSkipsLaterTiersOnceTargetReached(t *testing.T) {
	a := &fakeAdapter{name: "a", results: map[string][]types.Candidate{"*": cands("a", "https://x/1", "https://x/2", "https://x/3")}}
	b := &fakeAdapter{name: "b", results: map[string][]types.Candidate{"*": cands("b", "https://x/4")}}
	c := New([]source.Tier{
		{Name: "t1", Adapters: []source.Adapter{a}},
		{Name: "t2", Adapters: []source.Adapter{b}},
	}, nil, testSearchCfg(3))

	out, err := c.Search(context.Background(), "q", "m", 0)
	require.NoError(t, err)
	assert.Len(t, out.Candidates, 3)
	assert.Equal(t, 0, b.calls())
	assert.Equal(t, []string{"t1"}, out.Diagnostics.TiersUsed)
}

func TestSearchMergesTierInAdapterOrder(t *testing.T) {
	slow := &fakeAdapter{name: "slow", delay: 30 * time.Millisecond, results: map[string][]types.Candidate{"*": cands("slow", "https://x/s")}}
	fast := &fakeAdapter{name: "fast", results: map[string][]types.Candidate{"*": cands("fast", "https://x/f")}}
	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{slow, fast}}}, nil, testSearchCfg(5))

	out, err := c.Search(context.Background(), "q", "m", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/s", "https://x/f"}, urls(out.Candidates))
}

func TestSearchRetriesEmptyTierWithSimplifiedQuery(t *testing.T) {
	simpler := func(string) string { return "bicycle" }
	a := &fakeAdapter{
		name:     "a",
		simplify: simpler,
		results:  map[string][]types.Candidate{"bicycle": cands("a", "https://x/1")},
	}
	same := &fakeAdapter{name: "same"} // Simplify leaves the query unchanged
	down := &fakeAdapter{name: "down", err: unavailableErr("down"), simplify: simpler}

	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{a, same, down}}}, nil, testSearchCfg(5))

	out, err := c.Search(context.Background(), "a photo of a red bicycle", "m", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/1"}, urls(out.Candidates))
	assert.Equal(t, 1, out.Diagnostics.SimplifiedRetries)

	assert.Equal(t, []string{"a photo of a red bicycle", "bicycle"}, a.queries)
	assert.Equal(t, 1, same.calls())
	assert.Equal(t, 1, down.calls())

	var simplified []string
	for _, s := range out.Diagnostics.Sources {
		if s.Simplified {
			simplified = append(simplified, s.Source)
		}
	}
	assert.Equal(t, []string{"a"}, simplified)
}

func TestSearchUnavailableWhenEverySourceFails(t *testing.T) {
	a := &fakeAdapter{name: "a", err: unavailableErr("a")}
	b := &fakeAdapter{name: "b", err: unavailableErr("b")}
	mem := cache.NewMemory(10, time.Hour)
	c := New([]source.Tier{
		{Name: "t1", Adapters: []source.Adapter{a}},
		{Name: "t2", Adapters: []source.Adapter{b}},
	}, mem, testSearchCfg(5))

	_, err := c.Search(context.Background(), "q", "m", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSearchUnavailable)
	assert.Equal(t, 0, mem.Len())
}

func TestSearchEmptyButHealthyIsNotAnError(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	mem := cache.NewMemory(10, time.Hour)
	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{a}}}, mem, testSearchCfg(5))

	out, err := c.Search(context.Background(), "q", "m", 0)
	require.NoError(t, err)
	assert.Empty(t, out.Candidates)
	assert.Equal(t, 0, mem.Len(), "empty pools are not cached")

	_, err = c.Search(context.Background(), "q", "m", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, a.calls())
}

func TestSearchPerCallTimeout(t *testing.T) {
	slow := &fakeAdapter{name: "slow", delay: time.Minute}
	fast := &fakeAdapter{name: "fast", results: map[string][]types.Candidate{"*": cands("fast", "https://x/1")}}
	cfg := testSearchCfg(5)
	cfg.CallTimeout = 20 * time.Millisecond
	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{slow, fast}}}, nil, cfg)

	start := time.Now()
	out, err := c.Search(context.Background(), "q", "m", 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"https://x/1"}, urls(out.Candidates))
	assert.Len(t, out.Diagnostics.SourceErrors(), 1)
}

func TestSearchCollapsesConcurrentIdenticalQueries(t *testing.T) {
	release := make(chan struct{})
	a := &fakeAdapter{name: "a", block: release, results: map[string][]types.Candidate{"*": cands("a", "https://x/1")}}
	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{a}}},
		cache.NewMemory(10, time.Hour), testSearchCfg(1))

	const n = 8
	var wg sync.WaitGroup
	outs := make([]Output, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = c.Search(context.Background(), "q", "m", 0)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, a.calls())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"https://x/1"}, urls(outs[i].Candidates))
	}
	outs[0].Candidates[0].URL = "mutated"
	assert.Equal(t, "https://x/1", outs[1].Candidates[0].URL, "waiters get independent copies")
}

func TestSearchSharedRunOutlivesFirstCallersDeadline(t *testing.T) {
	a := &fakeAdapter{name: "a", delay: 300 * time.Millisecond, results: map[string][]types.Candidate{"*": cands("a", "https://x/1")}}
	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{a}}}, nil, testSearchCfg(5))

	var leaderErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, leaderErr = c.Search(ctx, "q", "m", 0)
	}()
	require.Eventually(t, func() bool { return a.calls() == 1 }, time.Second, time.Millisecond)

	out, err := c.Search(context.Background(), "q", "m", 0)
	<-done

	require.NoError(t, err)
	assert.True(t, out.Diagnostics.Shared)
	assert.Equal(t, []string{"https://x/1"}, urls(out.Candidates))
	assert.Equal(t, 1, a.calls())
	assert.Equal(t, int32(0), a.abandoned.Load())

	assert.ErrorIs(t, leaderErr, context.DeadlineExceeded)
	assert.NotErrorIs(t, leaderErr, types.ErrSearchUnavailable)
}

func TestSearchAbandonedWhenLastCallerLeaves(t *testing.T) {
	a := &fakeAdapter{name: "a", delay: time.Minute}
	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{a}}}, nil, testSearchCfg(5))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Search(ctx, "q", "m", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, types.ErrSearchUnavailable)

	require.Eventually(t, func() bool { return a.abandoned.Load() == 1 }, time.Second, time.Millisecond)

	// A later identical search starts a fresh run.
	a.delay = 0
	a.results = map[string][]types.Candidate{"*": cands("a", "https://x/1")}
	out, err := c.Search(context.Background(), "q", "m", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/1"}, urls(out.Candidates))
}

func TestRunCancelledIsNotSourceUnavailable(t *testing.T) {
	slow := &fakeAdapter{name: "slow", delay: time.Minute}
	empty := &fakeAdapter{name: "empty"}
	cfg := testSearchCfg(5)
	cfg.MaxConcurrentCalls = 1
	cfg.CallTimeout = 0
	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{slow, empty}}}, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out, err := c.run(ctx, "q", 5)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, types.ErrSearchUnavailable)
	assert.Len(t, out.Diagnostics.Sources, 2)
	for _, s := range out.Diagnostics.Sources {
		assert.NotContains(t, s.Err, types.ErrSourceUnavailable.Error(), s.Source)
	}
}

func TestSearchPoolSizeIsIndependentOfCount(t *testing.T) {
	a := &fakeAdapter{name: "a", results: map[string][]types.Candidate{"*": cands("a", "https://x/1", "https://x/2", "https://x/3")}}
	b := &fakeAdapter{name: "b", results: map[string][]types.Candidate{"*": cands("b", "https://x/4", "https://x/5")}}
	tiers := []source.Tier{
		{Name: "t1", Adapters: []source.Adapter{a}},
		{Name: "t2", Adapters: []source.Adapter{b}},
	}

	t.Run("small count keeps the configured pool size", func(t *testing.T) {
		c := New(tiers, nil, testSearchCfg(20))
		out, err := c.Search(context.Background(), "q", "m", 3)
		require.NoError(t, err)
		assert.Len(t, out.Candidates, 5)
		assert.Equal(t, []string{"t1", "t2"}, out.Diagnostics.TiersUsed)
	})

	t.Run("large count raises the pool size", func(t *testing.T) {
		c := New(tiers, nil, testSearchCfg(2))
		out, err := c.Search(context.Background(), "q", "m", 4)
		require.NoError(t, err)
		assert.Len(t, out.Candidates, 5)
		assert.Equal(t, []string{"t1", "t2"}, out.Diagnostics.TiersUsed)
	})

	t.Run("count within the pool size stops after the first tier", func(t *testing.T) {
		c := New(tiers, nil, testSearchCfg(3))
		out, err := c.Search(context.Background(), "q", "m", 1)
		require.NoError(t, err)
		assert.Len(t, out.Candidates, 3)
		assert.Equal(t, []string{"t1"}, out.Diagnostics.TiersUsed)
	})
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	c := New(nil, nil, testSearchCfg(5))
	_, err := c.Search(context.Background(), "  ", "m", 0)
	assert.Error(t, err)
}

func TestSearchHonorsCancelledContext(t *testing.T) {
	a := &fakeAdapter{name: "a", delay: time.Minute}
	c := New([]source.Tier{{Name: "t1", Adapters: []source.Adapter{a}}}, nil, types.SearchConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Search(ctx, "q", "m", 0)
	require.Error(t, err)
}

// --- NormalizeURL ---

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/Img.JPG", "https://example.com/img.jpg"},
		{"https://example.com/a.jpg?w=200#top", "https://example.com/a.jpg"},
		{"https://example.com/dir/", "https://example.com/dir"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"https://example.com:8443/a", "https://example.com:8443/a"},
		{"not a url/", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

// --- tier file ---

func TestReadTierFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`tiers:
  - name: stock
    sources: [pexels, unsplash]
  - name: open
    sources: [openverse]
`), 0o644))

	tiers, err := ReadTierFile(path)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "stock", tiers[0].Name)
	assert.Equal(t, []string{"pexels", "unsplash"}, tiers[0].Sources)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("tiers: []\n"), 0o644))
	_, err = ReadTierFile(empty)
	assert.ErrorContains(t, err, "no tiers")

	_, err = ReadTierFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteTierFileIsReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, WriteTierFile(path, types.DefaultTiers()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "openverse")
}
