// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package source implements the image-platform adapters the search
// coordinator fans out to. Each adapter knows one platform's query API and
// response shape, how to check that one of its image URLs is still
// reachable, and how to simplify a query that returned nothing.
//
// The set of adapters is fixed: Build constructs every variant whose
// credentials are configured, once, at startup.
package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/pdiddy/visual-search/pkg/types"
)

// Adapter queries a single image platform. Implementations must be safe for
// concurrent use.
type Adapter interface {
	// Name returns the adapter identifier used in tiers and candidate tags.
	Name() string

	// Search returns up to limit candidates for query. A healthy source with
	// no matches returns an empty slice and nil. Any failure to obtain an
	// answer wraps types.ErrSourceUnavailable.
	Search(ctx context.Context, query string, limit int) ([]types.Candidate, error)

	// Validate reports whether url currently answers an existence check
	// without downloading the image. The error explains a false result.
	Validate(ctx context.Context, url string) (bool, error)

	// Simplify returns a reduced query for the fallback rung. It is pure and
	// is invoked by the coordinator, never by Search itself.
	Simplify(query string) string
}

// Known lists every adapter variant, in the order Build registers them.
var Known = []string{"openverse", "wikimedia", "unsplash", "pexels", "pixabay", "flickr"}

// Registry holds the adapters constructed at startup, keyed by name.
type Registry struct {
	adapters map[string]Adapter
	disabled map[string]string // name -> reason
}

// NewRegistry registers adapters under their Name.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		disabled: make(map[string]string),
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Disabled returns known variants that were not registered and why.
func (r *Registry) Disabled() map[string]string {
	out := make(map[string]string, len(r.disabled))
	for k, v := range r.disabled {
		out[k] = v
	}
	return out
}

// Tier is a resolved SearchTier: its adapters in configured order.
type Tier struct {
	Name     string
	Adapters []Adapter
}

// Resolve maps configured tiers onto registered adapters. Unknown names are
// an error; known but disabled adapters are skipped, and a tier left with no
// adapters is dropped.
func (r *Registry) Resolve(tiers []types.SearchTier) ([]Tier, error) {
	known := make(map[string]bool, len(Known))
	for _, k := range Known {
		known[k] = true
	}

	var out []Tier
	for _, t := range tiers {
		rt := Tier{Name: t.Name}
		for _, name := range t.Sources {
			a, ok := r.adapters[name]
			if !ok {
				if known[name] {
					continue
				}
				return nil, fmt.Errorf("tier %q: unknown source %q", t.Name, name)
			}
			rt.Adapters = append(rt.Adapters, a)
		}
		if len(rt.Adapters) > 0 {
			out = append(out, rt)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable sources in configured tiers")
	}
	return out, nil
}

// Build constructs every adapter variant whose credentials are present and
// wraps each in a circuit breaker.
func Build(cfg types.SearchConfig, client *http.Client) *Registry {
	base := base{Client: client, UserAgent: cfg.UserAgent}

	var adapters []Adapter
	disabled := make(map[string]string)

	adapters = append(adapters, &Openverse{base: base})
	adapters = append(adapters, &Wikimedia{base: base})

	if cfg.UnsplashAccessKey != "" {
		adapters = append(adapters, &Unsplash{base: base, AccessKey: cfg.UnsplashAccessKey})
	} else {
		disabled["unsplash"] = "no access key"
	}
	if cfg.PexelsAPIKey != "" {
		adapters = append(adapters, &Pexels{base: base, APIKey: cfg.PexelsAPIKey})
	} else {
		disabled["pexels"] = "no API key"
	}
	if cfg.PixabayAPIKey != "" {
		adapters = append(adapters, &Pixabay{base: base, APIKey: cfg.PixabayAPIKey})
	} else {
		disabled["pixabay"] = "no API key"
	}

	adapters = append(adapters, &Flickr{base: base})

	for i, a := range adapters {
		adapters[i] = WithBreaker(a, cfg.BreakerFailures, cfg.BreakerCooldown)
	}

	r := NewRegistry(adapters...)
	r.disabled = disabled
	return r
}
