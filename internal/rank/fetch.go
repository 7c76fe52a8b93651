// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package rank

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pdiddy/visual-search/pkg/types"
)

// FetchRetryInterval is the first wait between image download attempts.
// Tests override it to avoid real sleeps.
var FetchRetryInterval = 250 * time.Millisecond

// Fetcher downloads candidate image bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher downloads images over HTTP, retrying transient failures with
// exponential backoff and refusing bodies over MaxBytes.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
	Retries   int
}

// NewHTTPFetcher returns a fetcher configured from cfg.
func NewHTTPFetcher(client *http.Client, cfg types.RankingConfig) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    client,
		UserAgent: cfg.UserAgent,
		MaxBytes:  cfg.MaxImageBytes,
		Retries:   cfg.FetchRetries,
	}
}

// Fetch implements Fetcher. 4xx answers other than 408 and 429 are not
// retried.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		if f.UserAgent != "" {
			req.Header.Set("User-Agent", f.UserAgent)
		}

		resp, err := f.client().Do(req)
		if err != nil {
			return fmt.Errorf("downloading image: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("image download returned HTTP %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
				resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}

		r := io.Reader(resp.Body)
		if f.MaxBytes > 0 {
			r = io.LimitReader(resp.Body, f.MaxBytes+1)
		}
		body, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		if f.MaxBytes > 0 && int64(len(body)) > f.MaxBytes {
			return backoff.Permanent(fmt.Errorf("image exceeds %d bytes", f.MaxBytes))
		}
		if len(body) == 0 {
			return backoff.Permanent(fmt.Errorf("image is empty"))
		}
		data = body
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = FetchRetryInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(bo, uint64(max(f.Retries, 0)))

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return data, nil
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}
