// Package rerank is the Reranker layer (spec §4.6): a pluggable
// second-pass reordering of a candidate set, grounded on the teacher's
// core.Reranker interface (pkg/core/reranker.go) and its built-in
// rerankers, generalized from text-query rerankers to vector-candidate
// rerankers.
package rerank

import (
	"sort"

	"github.com/vectorcore/engine/internal/types"
)

// Candidate is one result carried into reranking: its distance from the
// first-pass search, plus enough context (vector, metadata) for the
// reranker to recompute a score.
type Candidate struct {
	ID       types.VectorID
	Vector   []float32
	Distance float32
	Metadata types.Metadata
}

// Reranker reorders candidates and truncates to k.
type Reranker interface {
	Rerank(query []float32, candidates []Candidate, k int) []Candidate
}

// Func adapts a plain function to the Reranker interface, mirroring the
// teacher's RerankerFunc adapter.
type Func func(query []float32, candidates []Candidate, k int) []Candidate

// Rerank implements Reranker.
func (f Func) Rerank(query []float32, candidates []Candidate, k int) []Candidate {
	return f(query, candidates, k)
}

// Standard returns the first-pass order verbatim, truncated to k: a
// stable identity pass for callers that request reranking uniformly but
// sometimes pick the no-op strategy (spec §4.6).
type Standard struct{}

// Rerank implements Reranker.
func (Standard) Rerank(_ []float32, candidates []Candidate, k int) []Candidate {
	if k > 0 && k < len(candidates) {
		return append([]Candidate(nil), candidates[:k]...)
	}
	return append([]Candidate(nil), candidates...)
}
