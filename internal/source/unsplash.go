// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/visual-search/pkg/types"
)

// unsplashAPIBase is the Unsplash photo search endpoint. Declared as a var
// so tests can substitute an httptest server.
var unsplashAPIBase = "https://api.unsplash.com/search/photos"

// Unsplash queries the Unsplash API. It is registered only when an access
// key is configured.
type Unsplash struct {
	base
	AccessKey string
}

// Name returns the adapter identifier.
func (u *Unsplash) Name() string { return "unsplash" }

// Search queries Unsplash for up to limit photos.
func (u *Unsplash) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.Candidate{}, nil
	}

	params := url.Values{
		"query":          {query},
		"per_page":       {fmt.Sprintf("%d", clampLimit(limit, 20, 30))},
		"content_filter": {"high"},
	}
	header := http.Header{
		"Authorization":  {"Client-ID " + u.AccessKey},
		"Accept-Version": {"v1"},
	}

	var body unsplashResponse
	if err := u.getJSON(ctx, "unsplash", unsplashAPIBase+"?"+params.Encode(), header, &body); err != nil {
		return nil, err
	}

	out := make([]types.Candidate, 0, len(body.Results))
	for _, p := range body.Results {
		title := p.Description
		if title == "" {
			title = p.AltDescription
		}
		out = keep(out, types.Candidate{
			Source: "unsplash",
			URL:    p.URLs.Regular,
			Metadata: &types.Metadata{
				Title:     strings.TrimSpace(title),
				Creator:   p.User.Name,
				License:   "Unsplash License",
				PageURL:   p.Links.HTML,
				Thumbnail: p.URLs.Thumb,
				Width:     p.Width,
				Height:    p.Height,
			},
		})
	}
	return out, nil
}

// Validate checks the CDN URL. The CDN does not need the API key.
func (u *Unsplash) Validate(ctx context.Context, rawURL string) (bool, error) {
	return u.checkReachable(ctx, rawURL, checkOptions{})
}

// Simplify keeps the three leading subject terms.
func (u *Unsplash) Simplify(query string) string { return simplify(query) }

type unsplashResponse struct {
	Total   int             `json:"total"`
	Results []unsplashPhoto `json:"results"`
}

type unsplashPhoto struct {
	ID             string `json:"id"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Description    string `json:"description"`
	AltDescription string `json:"alt_description"`
	URLs           struct {
		Regular string `json:"regular"`
		Thumb   string `json:"thumb"`
	} `json:"urls"`
	Links struct {
		HTML string `json:"html"`
	} `json:"links"`
	User struct {
		Name string `json:"name"`
	} `json:"user"`
}
