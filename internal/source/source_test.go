// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/visual-search/internal/httputil"
	"github.com/pdiddy/visual-search/pkg/types"
)

func testBase(ts *httptest.Server) base {
	return base{Client: ts.Client(), UserAgent: "test/0.1"}
}

// withBase points *target at ts for the duration of the test.
func withBase(t *testing.T, target *string, ts *httptest.Server) {
	t.Helper()
	old := *target
	*target = ts.URL
	t.Cleanup(func() { *target = old })
}

func jsonServer(t *testing.T, body string, captured **http.Request) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = r
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// --- Openverse ---

func TestOpenverseSearch(t *testing.T) {
	var req *http.Request
	ts := jsonServer(t, `{"result_count":3,"results":[
		{"id":"1","title":" Red bike ","url":"https://img.example/1.jpg","thumbnail":"https://img.example/1t.jpg","creator":"ann","license":"by","license_version":"4.0","foreign_landing_url":"https://flickr.example/1","width":800,"height":600},
		{"id":"2","title":"broken","url":"not a url"},
		{"id":"3","title":"Blue bike","url":"https://img.example/3.jpg","license":"cc0"}
	]}`, &req)
	withBase(t, &openverseAPIBase, ts)

	o := &Openverse{base: testBase(ts)}
	got, err := o.Search(context.Background(), "red bicycle", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "red bicycle", req.URL.Query().Get("q"))
	assert.Equal(t, "10", req.URL.Query().Get("page_size"))
	assert.Equal(t, "test/0.1", req.Header.Get("User-Agent"))

	assert.Equal(t, "openverse", got[0].Source)
	assert.Equal(t, "https://img.example/1.jpg", got[0].URL)
	assert.Equal(t, "Red bike", got[0].Metadata.Title)
	assert.Equal(t, "BY 4.0", got[0].Metadata.License)
	assert.Equal(t, 800, got[0].Metadata.Width)
	assert.Equal(t, "https://img.example/3.jpg", got[1].URL)
}

func TestOpenverseEmptyQuery(t *testing.T) {
	o := &Openverse{}
	got, err := o.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSearchFailuresAreSourceUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"results": [`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()
			withBase(t, &openverseAPIBase, ts)

			o := &Openverse{base: testBase(ts)}
			_, err := o.Search(context.Background(), "cat", 5)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrSourceUnavailable)
		})
	}
}

func TestSearchNetworkErrorIsSourceUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	withBase(t, &openverseAPIBase, ts)

	o := &Openverse{base: base{Client: &http.Client{Timeout: time.Second}}}
	_, err := o.Search(context.Background(), "cat", 5)
	assert.ErrorIs(t, err, types.ErrSourceUnavailable)
}

func TestSearchRetriesRateLimit(t *testing.T) {
	old := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	defer func() { httputil.RetryBaseDelay = old }()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"results":[{"url":"https://img.example/1.jpg"}]}`)
	}))
	defer ts.Close()
	withBase(t, &openverseAPIBase, ts)

	o := &Openverse{base: testBase(ts)}
	got, err := o.Search(context.Background(), "cat", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), calls.Load())
}

// --- Wikimedia ---

func TestWikimediaSearchOrdersByIndex(t *testing.T) {
	var req *http.Request
	ts := jsonServer(t, `{"query":{"pages":{
		"20":{"pageid":20,"title":"File:Second.jpg","index":2,"imageinfo":[{"url":"https://upload.example/2.jpg","descriptionurl":"https://commons.example/2","mime":"image/jpeg","width":10,"height":20,
			"extmetadata":{"Artist":{"value":"<a href=\"x\">Bob &amp; Co</a>"},"LicenseShortName":{"value":"CC BY-SA 4.0"}}}]},
		"10":{"pageid":10,"title":"File:First.png","index":1,"imageinfo":[{"url":"https://upload.example/1.png","mime":"image/png"}]},
		"30":{"pageid":30,"title":"File:Doc.pdf","index":3,"imageinfo":[{"url":"https://upload.example/3.pdf","mime":"application/pdf"}]},
		"40":{"pageid":40,"title":"File:Missing.jpg","index":4}
	}}}`, &req)
	withBase(t, &wikimediaAPIBase, ts)

	w := &Wikimedia{base: testBase(ts)}
	got, err := w.Search(context.Background(), "lighthouse", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "lighthouse filetype:bitmap", req.URL.Query().Get("gsrsearch"))
	assert.Equal(t, "6", req.URL.Query().Get("gsrnamespace"))
	assert.Equal(t, "First.png", got[0].Metadata.Title)
	assert.Equal(t, "https://upload.example/2.jpg", got[1].URL)
	assert.Equal(t, "Bob & Co", got[1].Metadata.Creator)
	assert.Equal(t, "CC BY-SA 4.0", got[1].Metadata.License)
}

func TestWikimediaNoHits(t *testing.T) {
	ts := jsonServer(t, `{"batchcomplete":""}`, nil)
	withBase(t, &wikimediaAPIBase, ts)

	w := &Wikimedia{base: testBase(ts)}
	got, err := w.Search(context.Background(), "zzzz", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// --- Keyed stock sources ---

func TestUnsplashSendsClientID(t *testing.T) {
	var req *http.Request
	ts := jsonServer(t, `{"total":1,"results":[{"id":"a","width":4,"height":3,"description":"","alt_description":"a dog",
		"urls":{"regular":"https://images.example/a?w=1080","thumb":"https://images.example/a?w=200"},
		"links":{"html":"https://unsplash.example/a"},"user":{"name":"Cam"}}]}`, &req)
	withBase(t, &unsplashAPIBase, ts)

	u := &Unsplash{base: testBase(ts), AccessKey: "k123"}
	got, err := u.Search(context.Background(), "dog", 50)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "Client-ID k123", req.Header.Get("Authorization"))
	assert.Equal(t, "30", req.URL.Query().Get("per_page"), "per_page is capped at the API maximum")
	assert.Equal(t, "a dog", got[0].Metadata.Title)
	assert.Equal(t, "Cam", got[0].Metadata.Creator)
}

func TestPexelsSendsAPIKey(t *testing.T) {
	var req *http.Request
	ts := jsonServer(t, `{"total_results":1,"photos":[{"id":7,"width":1,"height":1,"url":"https://pexels.example/p/7",
		"photographer":"Dee","alt":"a cat","src":{"large":"https://images.pexels.example/7.jpeg","tiny":"https://images.pexels.example/7t.jpeg"}}]}`, &req)
	withBase(t, &pexelsAPIBase, ts)

	p := &Pexels{base: testBase(ts), APIKey: "pk"}
	got, err := p.Search(context.Background(), "cat", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "pk", req.Header.Get("Authorization"))
	assert.Equal(t, "https://images.pexels.example/7.jpeg", got[0].URL)
	assert.Equal(t, "https://pexels.example/p/7", got[0].Metadata.PageURL)
}

func TestPixabayQueryBounds(t *testing.T) {
	var req *http.Request
	ts := jsonServer(t, `{"total":3,"totalHits":3,"hits":[
		{"id":1,"webformatURL":"https://pixabay.example/1.jpg","tags":"tree, forest","user":"eve"},
		{"id":2,"webformatURL":"https://pixabay.example/2.jpg"},
		{"id":3,"webformatURL":"https://pixabay.example/3.jpg"}]}`, &req)
	withBase(t, &pixabayAPIBase, ts)

	p := &Pixabay{base: testBase(ts), APIKey: "xk"}
	long := strings.Repeat("forest ", 30)
	got, err := p.Search(context.Background(), long, 1)
	require.NoError(t, err)

	q := req.URL.Query()
	assert.Equal(t, "xk", q.Get("key"))
	assert.LessOrEqual(t, len(q.Get("q")), pixabayMaxQuery)
	assert.Equal(t, "3", q.Get("per_page"))
	require.Len(t, got, 1, "results are trimmed to the requested limit")
	assert.Equal(t, "tree, forest", got[0].Metadata.Title)
}

// --- Flickr ---

const flickrAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>Harbour at dusk</title>
    <link rel="alternate" type="text/html" href="https://www.flickr.example/photos/u/1/"/>
    <link rel="enclosure" type="image/jpeg" href="https://live.staticflickr.example/1_b.jpg"/>
    <author><name>gus</name></author>
  </entry>
  <entry>
    <title>No image</title>
    <link rel="alternate" type="text/html" href="https://www.flickr.example/photos/u/2/"/>
  </entry>
  <entry>
    <title>Boats</title>
    <link rel="enclosure" type="image/jpeg" href="https://live.staticflickr.example/3_b.jpg"/>
  </entry>
</feed>`

func TestFlickrSearch(t *testing.T) {
	var req *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req = r
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, flickrAtom)
	}))
	defer ts.Close()
	withBase(t, &flickrFeedBase, ts)

	f := &Flickr{base: testBase(ts)}
	got, err := f.Search(context.Background(), "A harbour, at dusk", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "harbour,dusk", req.URL.Query().Get("tags"))
	assert.Equal(t, "all", req.URL.Query().Get("tagmode"))
	assert.Equal(t, "https://live.staticflickr.example/1_b.jpg", got[0].URL)
	assert.Equal(t, "https://www.flickr.example/photos/u/1/", got[0].Metadata.PageURL)
	assert.Equal(t, "gus", got[0].Metadata.Creator)

	got, err = f.Search(context.Background(), "harbour", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// --- Validate ---

func TestCheckReachable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		opts    checkOptions
		want    bool
	}{
		{"head ok", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/jpeg")
		}, checkOptions{requireImage: true}, true},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}, checkOptions{}, false},
		{"head refused, ranged get ok", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if r.Header.Get("Range") != "bytes=0-0" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte{0xff})
		}, checkOptions{}, true},
		{"html where image required", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}, checkOptions{requireImage: true}, false},
		{"html allowed", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
		}, checkOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			ok, err := testBase(ts).checkReachable(context.Background(), ts.URL+"/img.jpg", tt.opts)
			assert.Equal(t, tt.want, ok)
			if !tt.want {
				assert.Error(t, err)
			}
		})
	}
}

func TestWikimediaValidateSendsAPIUserAgent(t *testing.T) {
	var ua string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("Api-User-Agent")
		w.Header().Set("Content-Type", "image/png")
	}))
	defer ts.Close()

	w := &Wikimedia{base: testBase(ts)}
	ok, err := w.Validate(context.Background(), ts.URL+"/a.png")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "test/0.1", ua)
}

func TestValidateUnreachableHost(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	o := &Openverse{base: base{Client: &http.Client{Timeout: time.Second}}}
	ok, err := o.Validate(context.Background(), url+"/a.jpg")
	assert.False(t, ok)
	assert.Error(t, err)
}

// --- Simplify ---

func TestSimplify(t *testing.T) {
	tests := []struct {
		name    string
		adapter Adapter
		query   string
		want    string
	}{
		{"default drops framing", &Openverse{}, "A photo of a red bicycle leaning on a wall", "red bicycle leaning"},
		{"qualifiers dropped", &Unsplash{}, "very old wooden boat", "wooden boat"},
		{"punctuation trimmed", &Pexels{}, "Sunset, over the sea!", "sunset over sea"},
		{"wikimedia two terms", &Wikimedia{}, "lighthouse on rocky coast", "lighthouse rocky"},
		{"flickr two terms", &Flickr{}, "dog running beach", "dog running"},
		{"all stop words keeps first", &Pixabay{}, "the of a", "the"},
		{"empty", &Openverse{}, "   ", ""},
		{"duplicates dropped", &Openverse{}, "cat cat Cat dog", "cat dog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.adapter.Simplify(tt.query))
		})
	}
}

// --- Breaker ---

type stubAdapter struct {
	name  string
	calls atomic.Int32
	err   error
	out   []types.Candidate
}

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Search(context.Context, string, int) ([]types.Candidate, error) {
	s.calls.Add(1)
	return s.out, s.err
}
func (s *stubAdapter) Validate(context.Context, string) (bool, error) { return true, nil }
func (s *stubAdapter) Simplify(q string) string                       { return q }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubAdapter{name: "flaky", err: fmt.Errorf("x: %w", types.ErrSourceUnavailable)}
	g := WithBreaker(stub, 3, time.Hour)

	for i := 0; i < 3; i++ {
		_, err := g.Search(context.Background(), "q", 5)
		require.ErrorIs(t, err, types.ErrSourceUnavailable)
	}
	assert.Equal(t, "open", g.(*Guarded).State())

	_, err := g.Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, types.ErrSourceUnavailable)
	assert.Equal(t, int32(3), stub.calls.Load(), "open breaker must not call the source")
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	stub := &stubAdapter{name: "slow", err: context.Canceled}
	g := WithBreaker(stub, 1, time.Hour)

	for i := 0; i < 3; i++ {
		_, err := g.Search(context.Background(), "q", 5)
		assert.True(t, errors.Is(err, context.Canceled))
	}
	assert.Equal(t, "closed", g.(*Guarded).State())
}

func TestBreakerPassesResults(t *testing.T) {
	stub := &stubAdapter{name: "ok", out: []types.Candidate{{Source: "ok", URL: "https://x/1"}}}
	g := WithBreaker(stub, 2, time.Minute)
	got, err := g.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "ok", g.Name())

	assert.Same(t, stub, WithBreaker(stub, 0, time.Minute))
}

// --- Registry ---

func TestBuildRegistersKeyedSourcesOnlyWithKeys(t *testing.T) {
	cfg := types.DefaultConfig().Search
	r := Build(cfg, http.DefaultClient)
	assert.Equal(t, []string{"flickr", "openverse", "wikimedia"}, r.Names())
	assert.Contains(t, r.Disabled(), "unsplash")

	cfg.UnsplashAccessKey = "u"
	cfg.PexelsAPIKey = "p"
	cfg.PixabayAPIKey = "x"
	r = Build(cfg, http.DefaultClient)
	assert.Len(t, r.Names(), len(Known))
	assert.Empty(t, r.Disabled())

	a, ok := r.Get("pexels")
	require.True(t, ok)
	_, guarded := a.(*Guarded)
	assert.True(t, guarded)
}

func TestResolve(t *testing.T) {
	r := Build(types.DefaultConfig().Search, http.DefaultClient)

	tiers, err := r.Resolve(types.DefaultTiers())
	require.NoError(t, err)
	require.Len(t, tiers, 2, "stock tier has no keyed sources and is dropped")
	assert.Equal(t, "open", tiers[0].Name)
	assert.Equal(t, "wikimedia", tiers[0].Adapters[1].Name())
	assert.Equal(t, "feeds", tiers[1].Name)

	_, err = r.Resolve([]types.SearchTier{{Name: "x", Sources: []string{"bing"}}})
	assert.ErrorContains(t, err, "unknown source")

	_, err = r.Resolve([]types.SearchTier{{Name: "x", Sources: []string{"pexels"}}})
	assert.ErrorContains(t, err, "no usable sources")
}
