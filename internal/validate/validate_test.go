// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/visual-search/internal/source"
	"github.com/pdiddy/visual-search/pkg/types"
)

// stubChecker reports reachability from a fixed set of dead URLs.
type stubChecker struct {
	dead  map[string]bool
	hang  map[string]bool
	calls atomic.Int32
}

func (s *stubChecker) Validate(ctx context.Context, url string) (bool, error) {
	s.calls.Add(1)
	if s.hang[url] {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if s.dead[url] {
		return false, errors.New("HTTP 404")
	}
	return true, nil
}

// stubAdapter routes Validate to a checker.
type stubAdapter struct {
	name string
	*stubChecker
}

func (a stubAdapter) Name() string { return a.name }
func (a stubAdapter) Search(context.Context, string, int) ([]types.Candidate, error) {
	return nil, nil
}
func (a stubAdapter) Simplify(q string) string { return q }

type mapLookup map[string]source.Adapter

func (m mapLookup) Get(name string) (source.Adapter, bool) {
	a, ok := m[name]
	return a, ok
}

func testPool(t *testing.T, size int) *ants.Pool {
	t.Helper()
	p, err := NewPool(size)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func candidates(n int, src string) []types.Candidate {
	out := make([]types.Candidate, n)
	for i := range out {
		out[i] = types.Candidate{Source: src, URL: fmt.Sprintf("https://img.example/%d.jpg", i)}
	}
	return out
}

func testCfg() types.ValidationConfig {
	return types.ValidationConfig{BatchTimeout: 5 * time.Second, CheckTimeout: time.Second}
}

func TestValidateKeepsReachableInOrder(t *testing.T) {
	cands := candidates(10, "s")
	checker := &stubChecker{dead: map[string]bool{
		cands[1].URL: true,
		cands[4].URL: true,
		cands[8].URL: true,
	}}
	v := New(testPool(t, 3), mapLookup{"s": stubAdapter{"s", checker}}, nil, testCfg())

	got, stats := v.Validate(context.Background(), cands)

	require.Len(t, got, 7)
	var orders []int
	for _, c := range got {
		assert.True(t, c.Reachable)
		assert.False(t, c.ValidatedAt.IsZero())
		orders = append(orders, c.Order)
	}
	assert.Equal(t, []int{0, 2, 3, 5, 6, 7, 9}, orders)
	assert.Equal(t, cands[2].URL, got[1].URL)

	assert.Equal(t, 10, stats.Checked)
	assert.Equal(t, 7, stats.Reachable)
	assert.Equal(t, 3, stats.Unreachable)
	assert.NoError(t, stats.Err)
	assert.Equal(t, int32(10), checker.calls.Load())
}

func TestValidateBatchTimeoutMarksPendingUnreachable(t *testing.T) {
	cands := candidates(4, "s")
	checker := &stubChecker{hang: map[string]bool{cands[2].URL: true}}
	cfg := types.ValidationConfig{BatchTimeout: 50 * time.Millisecond}
	v := New(testPool(t, 4), mapLookup{"s": stubAdapter{"s", checker}}, nil, cfg)

	start := time.Now()
	got, stats := v.Validate(context.Background(), cands)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1, 3}, []int{got[0].Order, got[1].Order, got[2].Order})
	assert.Equal(t, 1, stats.TimedOut)
	assert.ErrorIs(t, stats.Err, types.ErrValidationTimeout)
}

func TestValidatePerCheckTimeout(t *testing.T) {
	cands := candidates(2, "s")
	checker := &stubChecker{hang: map[string]bool{cands[0].URL: true}}
	cfg := types.ValidationConfig{BatchTimeout: 5 * time.Second, CheckTimeout: 20 * time.Millisecond}
	v := New(testPool(t, 2), mapLookup{"s": stubAdapter{"s", checker}}, nil, cfg)

	got, stats := v.Validate(context.Background(), cands)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Order)
	assert.Equal(t, 1, stats.TimedOut)
	assert.NoError(t, stats.Err, "a per-check timeout is not a batch timeout")
}

func TestValidateFallsBackForUnknownSource(t *testing.T) {
	fallback := &stubChecker{}
	known := &stubChecker{}
	v := New(testPool(t, 2), mapLookup{"known": stubAdapter{"known", known}}, fallback, testCfg())

	in := []types.Candidate{
		{Source: "known", URL: "https://a.example/1.jpg"},
		{Source: "elsewhere", URL: "https://b.example/2.jpg"},
	}
	got, _ := v.Validate(context.Background(), in)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(1), known.calls.Load())
	assert.Equal(t, int32(1), fallback.calls.Load())
}

func TestValidateRejectsMalformedURLWithoutNetwork(t *testing.T) {
	checker := &stubChecker{}
	v := New(testPool(t, 1), nil, checker, testCfg())

	got, stats := v.Validate(context.Background(), []types.Candidate{{Source: "x", URL: "/relative.jpg"}})
	assert.Empty(t, got)
	assert.Equal(t, 1, stats.Unreachable)
	assert.Equal(t, int32(0), checker.calls.Load())
}

func TestValidateEmptyInput(t *testing.T) {
	v := New(testPool(t, 1), nil, &stubChecker{}, testCfg())
	got, stats := v.Validate(context.Background(), nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 0, stats.Checked)
}

func TestValidateCancelledContext(t *testing.T) {
	v := New(testPool(t, 2), nil, &stubChecker{}, testCfg())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, stats := v.Validate(ctx, candidates(3, "s"))
	assert.Empty(t, got)
	assert.Equal(t, 3, stats.TimedOut)
}

func TestValidateWithHTTPChecker(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "gone") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
	}))
	defer ts.Close()

	v := New(testPool(t, 2), nil, source.NewHTTPChecker(ts.Client(), "test/0.1"), testCfg())
	in := []types.Candidate{
		{Source: "x", URL: ts.URL + "/ok.jpg"},
		{Source: "x", URL: ts.URL + "/gone.jpg"},
	}
	got, stats := v.Validate(context.Background(), in)
	require.Len(t, got, 1)
	assert.Equal(t, ts.URL+"/ok.jpg", got[0].URL)
	assert.Equal(t, 1, stats.Unreachable)
}
