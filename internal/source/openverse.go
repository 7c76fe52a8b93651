// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pdiddy/visual-search/pkg/types"
)

// openverseAPIBase is the Openverse image search endpoint. Declared as a var
// so tests can substitute an httptest server.
var openverseAPIBase = "https://api.openverse.org/v1/images/"

// Openverse queries the Openverse catalogue of openly licensed images. No
// credentials are required.
type Openverse struct {
	base
}

// Name returns the adapter identifier.
func (o *Openverse) Name() string { return "openverse" }

// Search queries Openverse for up to limit images.
func (o *Openverse) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.Candidate{}, nil
	}

	params := url.Values{
		"q":           {query},
		"page_size":   {fmt.Sprintf("%d", clampLimit(limit, 20, 20))},
		"mature":      {"false"},
		"filter_dead": {"true"},
	}

	var body openverseResponse
	if err := o.getJSON(ctx, "openverse", openverseAPIBase+"?"+params.Encode(), nil, &body); err != nil {
		return nil, err
	}

	out := make([]types.Candidate, 0, len(body.Results))
	for _, r := range body.Results {
		license := strings.ToUpper(r.License)
		if r.LicenseVersion != "" {
			license += " " + r.LicenseVersion
		}
		out = keep(out, types.Candidate{
			Source: "openverse",
			URL:    r.URL,
			Metadata: &types.Metadata{
				Title:     strings.TrimSpace(r.Title),
				Creator:   r.Creator,
				License:   license,
				PageURL:   r.ForeignLandingURL,
				Thumbnail: r.Thumbnail,
				Width:     r.Width,
				Height:    r.Height,
			},
		})
	}
	return out, nil
}

// Validate checks the image URL directly.
func (o *Openverse) Validate(ctx context.Context, rawURL string) (bool, error) {
	return o.checkReachable(ctx, rawURL, checkOptions{})
}

// Simplify keeps the three leading subject terms.
func (o *Openverse) Simplify(query string) string { return simplify(query) }

type openverseResponse struct {
	ResultCount int               `json:"result_count"`
	Results     []openverseResult `json:"results"`
}

type openverseResult struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	URL               string `json:"url"`
	Thumbnail         string `json:"thumbnail"`
	Creator           string `json:"creator"`
	License           string `json:"license"`
	LicenseVersion    string `json:"license_version"`
	ForeignLandingURL string `json:"foreign_landing_url"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
}
