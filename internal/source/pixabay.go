// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pdiddy/visual-search/pkg/types"
)

// pixabayAPIBase is the Pixabay image search endpoint. Declared as a var so
// tests can substitute an httptest server.
var pixabayAPIBase = "https://pixabay.com/api/"

// pixabayMaxQuery is the longest q value Pixabay accepts.
const pixabayMaxQuery = 100

// Pixabay queries the Pixabay API. It is registered only when an API key is
// configured.
type Pixabay struct {
	base
	APIKey string
}

// Name returns the adapter identifier.
func (p *Pixabay) Name() string { return "pixabay" }

// Search queries Pixabay for up to limit photos.
func (p *Pixabay) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.Candidate{}, nil
	}
	if len(query) > pixabayMaxQuery {
		query = strings.TrimSpace(query[:pixabayMaxQuery])
	}

	params := url.Values{
		"key":        {p.APIKey},
		"q":          {query},
		"image_type": {"photo"},
		"safesearch": {"true"},
		// Pixabay rejects per_page below 3.
		"per_page": {fmt.Sprintf("%d", max(clampLimit(limit, 20, 200), 3))},
	}

	var body pixabayResponse
	if err := p.getJSON(ctx, "pixabay", pixabayAPIBase+"?"+params.Encode(), nil, &body); err != nil {
		return nil, err
	}

	out := make([]types.Candidate, 0, len(body.Hits))
	for _, h := range body.Hits {
		out = keep(out, types.Candidate{
			Source: "pixabay",
			URL:    h.WebformatURL,
			Metadata: &types.Metadata{
				Title:     h.Tags,
				Creator:   h.User,
				License:   "Pixabay Content License",
				PageURL:   h.PageURL,
				Thumbnail: h.PreviewURL,
				Width:     h.ImageWidth,
				Height:    h.ImageHeight,
			},
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Validate checks the image URL directly.
func (p *Pixabay) Validate(ctx context.Context, rawURL string) (bool, error) {
	return p.checkReachable(ctx, rawURL, checkOptions{requireImage: true})
}

// Simplify keeps the three leading subject terms.
func (p *Pixabay) Simplify(query string) string { return simplify(query) }

type pixabayResponse struct {
	Total     int          `json:"total"`
	TotalHits int          `json:"totalHits"`
	Hits      []pixabayHit `json:"hits"`
}

type pixabayHit struct {
	ID           int    `json:"id"`
	PageURL      string `json:"pageURL"`
	Tags         string `json:"tags"`
	PreviewURL   string `json:"previewURL"`
	WebformatURL string `json:"webformatURL"`
	ImageWidth   int    `json:"imageWidth"`
	ImageHeight  int    `json:"imageHeight"`
	User         string `json:"user"`
}
