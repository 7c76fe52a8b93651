// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"net/url"
	"strings"
)

// NormalizeURL returns the dedup key for an image URL: scheme, host and
// path lowercased, default port dropped, query string and fragment
// stripped, trailing slash trimmed. Unparseable input falls back to the
// trimmed lowercase string.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	path := strings.TrimRight(strings.ToLower(u.EscapedPath()), "/")
	return scheme + "://" + host + path
}
