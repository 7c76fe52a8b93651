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

// pexelsAPIBase is the Pexels photo search endpoint. Declared as a var so
// tests can substitute an httptest server.
var pexelsAPIBase = "https://api.pexels.com/v1/search"

// Pexels queries the Pexels API. It is registered only when an API key is
// configured.
type Pexels struct {
	base
	APIKey string
}

// Name returns the adapter identifier.
func (p *Pexels) Name() string { return "pexels" }

// Search queries Pexels for up to limit photos.
func (p *Pexels) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.Candidate{}, nil
	}

	params := url.Values{
		"query":    {query},
		"per_page": {fmt.Sprintf("%d", clampLimit(limit, 20, 80))},
	}
	header := http.Header{"Authorization": {p.APIKey}}

	var body pexelsResponse
	if err := p.getJSON(ctx, "pexels", pexelsAPIBase+"?"+params.Encode(), header, &body); err != nil {
		return nil, err
	}

	out := make([]types.Candidate, 0, len(body.Photos))
	for _, ph := range body.Photos {
		out = keep(out, types.Candidate{
			Source: "pexels",
			URL:    ph.Src.Large,
			Metadata: &types.Metadata{
				Title:     strings.TrimSpace(ph.Alt),
				Creator:   ph.Photographer,
				License:   "Pexels License",
				PageURL:   ph.URL,
				Thumbnail: ph.Src.Tiny,
				Width:     ph.Width,
				Height:    ph.Height,
			},
		})
	}
	return out, nil
}

// Validate checks the image URL directly.
func (p *Pexels) Validate(ctx context.Context, rawURL string) (bool, error) {
	return p.checkReachable(ctx, rawURL, checkOptions{requireImage: true})
}

// Simplify keeps the three leading subject terms.
func (p *Pexels) Simplify(query string) string { return simplify(query) }

type pexelsResponse struct {
	TotalResults int           `json:"total_results"`
	Photos       []pexelsPhoto `json:"photos"`
}

type pexelsPhoto struct {
	ID           int    `json:"id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	URL          string `json:"url"`
	Photographer string `json:"photographer"`
	Alt          string `json:"alt"`
	Src          struct {
		Large string `json:"large"`
		Tiny  string `json:"tiny"`
	} `json:"src"`
}
