// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/pdiddy/visual-search/internal/httputil"
	"github.com/pdiddy/visual-search/pkg/types"
)

// base carries the HTTP plumbing shared by every adapter.
type base struct {
	Client    *http.Client
	UserAgent string
}

func (b base) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return http.DefaultClient
}

// unavailable wraps err as a source-unavailable failure for platform.
func unavailable(platform string, err error) error {
	return fmt.Errorf("%s: %w: %w", platform, types.ErrSourceUnavailable, err)
}

// getJSON issues a GET with retry on 429 and decodes a 200 body into out.
// Every failure is reported as source unavailability.
func (b base) getJSON(ctx context.Context, platform, reqURL string, header http.Header, out any) error {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Accept", "application/json")

	resp, err := b.get(ctx, platform, reqURL, h)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return unavailable(platform, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

// get issues a GET and returns the response only when the status is 200.
func (b base) get(ctx context.Context, platform, reqURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, unavailable(platform, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("User-Agent", b.UserAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := httputil.DoWithRetry(ctx, b.client(), req, 0)
	if err != nil {
		return nil, unavailable(platform, fmt.Errorf("API request: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, unavailable(platform, fmt.Errorf("API returned HTTP %d", resp.StatusCode))
	}
	return resp, nil
}

// checkOptions tunes the shared reachability check per platform.
type checkOptions struct {
	header       http.Header
	requireImage bool
}

// checkReachable performs a HEAD request against rawURL, falling back to a
// one-byte ranged GET when the server refuses HEAD. A 2xx answer (206
// included) counts as reachable. With requireImage, a declared
// non-image Content-Type makes the resource unreachable.
func (b base) checkReachable(ctx context.Context, rawURL string, opts checkOptions) (bool, error) {
	resp, err := b.probe(ctx, http.MethodHead, rawURL, opts.header)
	if err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		resp, err = b.probe(ctx, http.MethodGet, rawURL, opts.header)
		if err != nil {
			return false, err
		}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if opts.requireImage {
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			mt, _, _ := mime.ParseMediaType(ct)
			if !strings.HasPrefix(mt, "image/") {
				return false, fmt.Errorf("content type %q is not an image", ct)
			}
		}
	}
	return true, nil
}

func (b base) probe(ctx context.Context, method, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", b.UserAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return b.client().Do(req)
}

// clampLimit bounds limit to [1, max], defaulting non-positive values to def.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// keep appends c to out when its URL is well formed.
func keep(out []types.Candidate, c types.Candidate) []types.Candidate {
	if c.Validate() != nil {
		return out
	}
	return append(out, c)
}

// HTTPChecker is the default reachability check for candidates whose
// source has no registered adapter.
type HTTPChecker struct {
	base
}

// NewHTTPChecker returns a checker using client and userAgent.
func NewHTTPChecker(client *http.Client, userAgent string) *HTTPChecker {
	return &HTTPChecker{base: base{Client: client, UserAgent: userAgent}}
}

// Validate performs the shared HEAD check against rawURL.
func (h *HTTPChecker) Validate(ctx context.Context, rawURL string) (bool, error) {
	return h.checkReachable(ctx, rawURL, checkOptions{})
}
