// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is returned by a source adapter when its platform
	// is unreachable, rate limited, or failing. The coordinator recovers by
	// falling back to the next tier.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSearchUnavailable is returned by the coordinator when every adapter
	// in every tier was unavailable and no candidate was produced.
	ErrSearchUnavailable = errors.New("search unavailable")

	// ErrCaptionUnavailable is returned by the captioning capability.
	ErrCaptionUnavailable = errors.New("caption unavailable")

	// ErrEmbeddingUnavailable is returned by the embedding capability. The
	// ranker drops the affected candidate.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrValidationTimeout marks checks abandoned at the validator deadline.
	ErrValidationTimeout = errors.New("validation timeout")

	// ErrCacheUnavailable is returned by a cache backend that failed. Callers
	// treat it as a miss.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrNoResults is the pipeline-level "no results" outcome. Concrete
	// failures are *NoResultsError values carrying a Reason.
	ErrNoResults = errors.New("no results")
)

// Reason codes carried by NoResultsError.
type Reason string

const (
	ReasonSearchUnavailable         Reason = "search_unavailable"
	ReasonNoCandidates              Reason = "no_candidates"
	ReasonNoneReachable             Reason = "none_reachable"
	ReasonNoneScored                Reason = "none_scored"
	ReasonCaptionUnavailable        Reason = "caption_unavailable"
	ReasonQueryEmbeddingUnavailable Reason = "query_embedding_unavailable"
)

// NoResultsError is the explicit "no results" outcome of a pipeline run.
// errors.Is matches both ErrNoResults and the wrapped cause.
type NoResultsError struct {
	Reason Reason
	Err    error
}

func (e *NoResultsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no results (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("no results (%s)", e.Reason)
}

func (e *NoResultsError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNoResults, e.Err}
	}
	return []error{ErrNoResults}
}

// NoResults builds a NoResultsError for reason with an optional cause.
func NoResults(reason Reason, cause error) error {
	return &NoResultsError{Reason: reason, Err: cause}
}

// ReasonOf extracts the reason code from err, or "" when err is not a
// NoResultsError.
func ReasonOf(err error) Reason {
	var nr *NoResultsError
	if errors.As(err, &nr) {
		return nr.Reason
	}
	return ""
}
