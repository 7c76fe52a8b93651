// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/pdiddy/visual-search/pkg/types"
)

// flickrFeedBase is the Flickr public photos Atom feed. Declared as a var so
// tests can substitute an httptest server.
var flickrFeedBase = "https://www.flickr.com/services/feeds/photos_public.gne"

// Flickr reads the public photo feed filtered by tags. The feed takes tags
// rather than free text and returns at most twenty recent photos, so it
// sits in the last tier.
type Flickr struct {
	base
}

// Name returns the adapter identifier.
func (f *Flickr) Name() string { return "flickr" }

// Search turns query into a tag list and reads the matching feed.
func (f *Flickr) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	tags := flickrTags(query)
	if tags == "" {
		return []types.Candidate{}, nil
	}

	params := url.Values{
		"tags":    {tags},
		"tagmode": {"all"},
		"format":  {"atom"},
	}

	resp, err := f.get(ctx, "flickr", flickrFeedBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var feed flickrFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, unavailable("flickr", err)
	}

	out := make([]types.Candidate, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		var image, page string
		for _, l := range e.Links {
			switch l.Rel {
			case "enclosure":
				image = l.Href
			case "alternate":
				page = l.Href
			}
		}
		out = keep(out, types.Candidate{
			Source: "flickr",
			URL:    image,
			Metadata: &types.Metadata{
				Title:   strings.TrimSpace(e.Title),
				Creator: strings.TrimSpace(e.Author.Name),
				PageURL: page,
			},
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Validate checks the static image URL.
func (f *Flickr) Validate(ctx context.Context, rawURL string) (bool, error) {
	return f.checkReachable(ctx, rawURL, checkOptions{requireImage: true})
}

// Simplify keeps the two leading subject terms, since every tag must match.
func (f *Flickr) Simplify(query string) string {
	return strings.Join(simplifyTerms(query, 2), " ")
}

// flickrTags converts free text into the feed's comma-separated tag list.
func flickrTags(query string) string {
	var tags []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w == "" || stopWords[w] {
			continue
		}
		tags = append(tags, w)
	}
	return strings.Join(tags, ",")
}

// Flickr Atom feed XML structures.
type flickrFeed struct {
	Entries []flickrEntry `xml:"entry"`
}

type flickrEntry struct {
	Title  string       `xml:"title"`
	Links  []flickrLink `xml:"link"`
	Author struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

type flickrLink struct {
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
	Href string `xml:"href,attr"`
}
