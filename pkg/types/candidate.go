// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the visual-search pipeline:
// queries, candidates at each pipeline stage, configuration, and the error
// taxonomy that components use to report recoverable and fatal failures.
package types

import (
	"fmt"
	"net/url"
	"time"
)

// Query is the immutable input to one pipeline invocation. Text drives the
// source searches; Vector and Patches carry the query image's features for
// ranking.
type Query struct {
	// Text is the description used to search external sources.
	Text string `json:"text" yaml:"text"`

	// Vector is the query image's global embedding. Optional.
	Vector []float32 `json:"-" yaml:"-"`

	// Patches is the query image's patch-feature grid, row-major. Optional;
	// required only for detailed analysis.
	Patches [][]float32 `json:"-" yaml:"-"`
}

// Metadata is optional source-provided information about a candidate.
type Metadata struct {
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Creator   string `json:"creator,omitempty" yaml:"creator,omitempty"`
	License   string `json:"license,omitempty" yaml:"license,omitempty"`
	PageURL   string `json:"page_url,omitempty" yaml:"page_url,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
	Width     int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height    int    `json:"height,omitempty" yaml:"height,omitempty"`
}

// Candidate is an image location returned by a source adapter.
type Candidate struct {
	// Source is the adapter name that produced the candidate (e.g. "openverse").
	Source string `json:"source" yaml:"source"`

	// URL is the absolute location of the image resource.
	URL string `json:"url" yaml:"url"`

	// Metadata is optional; adapters fill what their platform returns.
	Metadata *Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate reports whether the candidate's URL is a well-formed absolute
// http(s) URL.
func (c Candidate) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("candidate url %q: %w", c.URL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("candidate url %q is not absolute", c.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("candidate url %q has unsupported scheme %q", c.URL, u.Scheme)
	}
	return nil
}

// Clone returns a deep copy so the copy shares no memory with c.
func (c Candidate) Clone() Candidate {
	out := c
	if c.Metadata != nil {
		m := *c.Metadata
		out.Metadata = &m
	}
	return out
}

// CloneCandidates deep-copies a candidate list. A nil input yields nil.
func CloneCandidates(in []Candidate) []Candidate {
	if in == nil {
		return nil
	}
	out := make([]Candidate, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// ValidatedCandidate is a candidate after the reachability check.
type ValidatedCandidate struct {
	Candidate `yaml:",inline"`

	// Reachable reports whether the resource answered the existence check.
	Reachable bool `json:"reachable" yaml:"reachable"`

	// ValidatedAt is when the check completed (or was abandoned).
	ValidatedAt time.Time `json:"validated_at" yaml:"validated_at"`

	// Order is the candidate's position in the validator's input. The
	// ranker breaks score ties on it.
	Order int `json:"order" yaml:"order"`
}

// PatchSummary condenses a patch-level comparison between two images.
type PatchSummary struct {
	// MeanBestMatch is the mean, over query patches, of the best cosine
	// similarity against any candidate patch.
	MeanBestMatch float64 `json:"mean_best_match" yaml:"mean_best_match"`

	// MutualMatches counts patch pairs that are each other's best match.
	MutualMatches int `json:"mutual_matches" yaml:"mutual_matches"`

	// QueryPatches and CandidatePatches are the grid sizes compared.
	QueryPatches     int `json:"query_patches" yaml:"query_patches"`
	CandidatePatches int `json:"candidate_patches" yaml:"candidate_patches"`
}

// ScoredCandidate is a reachable candidate with its similarity to the query.
type ScoredCandidate struct {
	ValidatedCandidate `yaml:",inline"`

	// Score is the cosine similarity in [-1, 1].
	Score float64 `json:"score" yaml:"score"`

	// Patch is set only when detailed analysis ran for this candidate.
	Patch *PatchSummary `json:"patch,omitempty" yaml:"patch,omitempty"`
}

// SearchTier is an ordered group of source adapters queried together before
// the coordinator falls back to the next tier.
type SearchTier struct {
	Name    string   `json:"name" yaml:"name" mapstructure:"name"`
	Sources []string `json:"sources" yaml:"sources" mapstructure:"sources"`
}
