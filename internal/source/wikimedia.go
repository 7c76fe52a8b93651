// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/pdiddy/visual-search/pkg/types"
)

// wikimediaAPIBase is the Wikimedia Commons MediaWiki API. Declared as a var
// so tests can substitute an httptest server.
var wikimediaAPIBase = "https://commons.wikimedia.org/w/api.php"

// Wikimedia searches the File namespace of Wikimedia Commons. Commons
// rejects requests without a descriptive User-Agent, so one is always sent,
// and validation additionally insists on an image content type since
// missing files redirect to HTML description pages.
type Wikimedia struct {
	base
}

// Name returns the adapter identifier.
func (w *Wikimedia) Name() string { return "wikimedia" }

// Search runs a full-text File: search and expands each hit's image info.
func (w *Wikimedia) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.Candidate{}, nil
	}

	params := url.Values{
		"action":       {"query"},
		"format":       {"json"},
		"generator":    {"search"},
		"gsrsearch":    {query + " filetype:bitmap"},
		"gsrnamespace": {"6"},
		"gsrlimit":     {fmt.Sprintf("%d", clampLimit(limit, 20, 50))},
		"prop":         {"imageinfo"},
		"iiprop":       {"url|size|mime|extmetadata"},
		"iiurlwidth":   {"320"},
	}

	var body wikimediaResponse
	if err := w.getJSON(ctx, "wikimedia", wikimediaAPIBase+"?"+params.Encode(), nil, &body); err != nil {
		return nil, err
	}

	// Pages come back as a map; index carries the search rank.
	pages := make([]wikimediaPage, 0, len(body.Query.Pages))
	for _, p := range body.Query.Pages {
		pages = append(pages, p)
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })

	out := make([]types.Candidate, 0, len(pages))
	for _, p := range pages {
		if len(p.ImageInfo) == 0 {
			continue
		}
		info := p.ImageInfo[0]
		if !strings.HasPrefix(info.Mime, "image/") {
			continue
		}
		out = keep(out, types.Candidate{
			Source: "wikimedia",
			URL:    info.URL,
			Metadata: &types.Metadata{
				Title:     strings.TrimPrefix(p.Title, "File:"),
				Creator:   stripTags(info.ExtMetadata.Artist.Value),
				License:   info.ExtMetadata.LicenseShortName.Value,
				PageURL:   info.DescriptionURL,
				Thumbnail: info.ThumbURL,
				Width:     info.Width,
				Height:    info.Height,
			},
		})
	}
	return out, nil
}

// Validate checks the file URL and requires an image content type.
func (w *Wikimedia) Validate(ctx context.Context, rawURL string) (bool, error) {
	return w.checkReachable(ctx, rawURL, checkOptions{
		header:       http.Header{"Api-User-Agent": {w.UserAgent}},
		requireImage: true,
	})
}

// Simplify keeps two subject terms; Commons full-text search requires every
// term to match.
func (w *Wikimedia) Simplify(query string) string {
	return strings.Join(simplifyTerms(query, 2), " ")
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripTags removes the HTML markup extmetadata wraps around artist names.
func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

type wikimediaResponse struct {
	Query struct {
		Pages map[string]wikimediaPage `json:"pages"`
	} `json:"query"`
}

type wikimediaPage struct {
	PageID    int                  `json:"pageid"`
	Title     string               `json:"title"`
	Index     int                  `json:"index"`
	ImageInfo []wikimediaImageInfo `json:"imageinfo"`
}

type wikimediaImageInfo struct {
	URL            string `json:"url"`
	DescriptionURL string `json:"descriptionurl"`
	ThumbURL       string `json:"thumburl"`
	Mime           string `json:"mime"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	ExtMetadata    struct {
		Artist           wikimediaMetaValue `json:"Artist"`
		LicenseShortName wikimediaMetaValue `json:"LicenseShortName"`
	} `json:"extmetadata"`
}

type wikimediaMetaValue struct {
	Value string `json:"value"`
}
