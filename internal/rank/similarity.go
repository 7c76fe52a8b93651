// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package rank

import (
	"errors"
	"fmt"
	"math"

	"github.com/pdiddy/visual-search/pkg/types"
)

var (
	errZeroVector        = errors.New("zero-length or zero-norm vector")
	errDimensionMismatch = errors.New("vector dimensions differ")
)

// Normalize returns v scaled to unit L2 norm.
func Normalize(v []float32) ([]float64, error) {
	if len(v) == 0 {
		return nil, errZeroVector
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, errZeroVector
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1].
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", errDimensionMismatch, len(a), len(b))
	}
	na, err := Normalize(a)
	if err != nil {
		return 0, err
	}
	nb, err := Normalize(b)
	if err != nil {
		return 0, err
	}
	return dot(na, nb), nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return clamp(s)
}

func clamp(s float64) float64 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// PatchCorrespondence summarizes how the query's patches match the
// candidate's. For every query patch it finds the most similar candidate
// patch; MeanBestMatch averages those similarities and MutualMatches counts
// pairs that are each other's best match.
func PatchCorrespondence(query, candidate [][]float32) (types.PatchSummary, error) {
	qn, err := normalizeAll(query)
	if err != nil {
		return types.PatchSummary{}, fmt.Errorf("query patches: %w", err)
	}
	cn, err := normalizeAll(candidate)
	if err != nil {
		return types.PatchSummary{}, fmt.Errorf("candidate patches: %w", err)
	}
	if len(qn[0]) != len(cn[0]) {
		return types.PatchSummary{}, fmt.Errorf("%w: %d vs %d", errDimensionMismatch, len(qn[0]), len(cn[0]))
	}

	sim := make([][]float64, len(qn))
	for i := range qn {
		sim[i] = make([]float64, len(cn))
		for j := range cn {
			sim[i][j] = dot(qn[i], cn[j])
		}
	}

	bestForQuery := make([]int, len(qn))
	var total float64
	for i := range qn {
		best := 0
		for j := 1; j < len(cn); j++ {
			if sim[i][j] > sim[i][best] {
				best = j
			}
		}
		bestForQuery[i] = best
		total += sim[i][best]
	}

	bestForCandidate := make([]int, len(cn))
	for j := range cn {
		best := 0
		for i := 1; i < len(qn); i++ {
			if sim[i][j] > sim[best][j] {
				best = i
			}
		}
		bestForCandidate[j] = best
	}

	mutual := 0
	for i, j := range bestForQuery {
		if bestForCandidate[j] == i {
			mutual++
		}
	}

	return types.PatchSummary{
		MeanBestMatch:    total / float64(len(qn)),
		MutualMatches:    mutual,
		QueryPatches:     len(qn),
		CandidatePatches: len(cn),
	}, nil
}

// normalizeAll normalizes every patch and checks they share a dimension.
func normalizeAll(patches [][]float32) ([][]float64, error) {
	if len(patches) == 0 {
		return nil, errZeroVector
	}
	out := make([][]float64, len(patches))
	for i, p := range patches {
		n, err := Normalize(p)
		if err != nil {
			return nil, fmt.Errorf("patch %d: %w", i, err)
		}
		if i > 0 && len(n) != len(out[0]) {
			return nil, fmt.Errorf("patch %d: %w", i, errDimensionMismatch)
		}
		out[i] = n
	}
	return out, nil
}
