// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"strings"
	"unicode"
)

// stopWords are dropped when simplifying a query. The list covers English
// function words plus the framing captioners tend to add ("a photo of").
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "with": true, "in": true,
	"on": true, "at": true, "and": true, "or": true, "to": true, "for": true,
	"from": true, "by": true, "is": true, "are": true, "its": true, "it": true,
	"this": true, "that": true, "there": true, "some": true, "near": true,
	"photo": true, "photograph": true, "image": true, "picture": true,
	"showing": true, "shows": true, "depicting": true, "view": true,
	"close-up": true, "closeup": true,
}

// qualifiers are descriptive words that narrow a search more than they
// identify its subject.
var qualifiers = map[string]bool{
	"very": true, "small": true, "large": true, "big": true, "little": true,
	"bright": true, "dark": true, "beautiful": true, "old": true, "new": true,
	"vintage": true, "modern": true, "high": true, "low": true, "quality": true,
	"detailed": true, "blurry": true, "sunny": true, "cloudy": true,
}

// simplifyTerms reduces query to at most max subject terms: lower case,
// punctuation trimmed, stop words and qualifiers removed, duplicates dropped.
// When filtering removes everything, the first original word is kept.
func simplifyTerms(query string, max int) []string {
	words := strings.Fields(strings.ToLower(query))
	var terms []string
	seen := make(map[string]bool)
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
		})
		if w == "" || stopWords[w] || qualifiers[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if max > 0 && len(terms) == max {
			break
		}
	}
	if len(terms) == 0 && len(words) > 0 {
		terms = append(terms, words[0])
	}
	return terms
}

// simplify is the default Simplify: up to three subject terms joined by
// spaces.
func simplify(query string) string {
	return strings.Join(simplifyTerms(query, 3), " ")
}
