package vstore

import (
	"sort"

	"github.com/vectorcore/engine/internal/distance"
	"github.com/vectorcore/engine/internal/types"
)

// SearchOptions configures FindNearest.
type SearchOptions struct {
	Metric          distance.Metric
	MismatchPenalty float32
	Filter          types.Filter
}

// Result is one ranked hit.
type Result struct {
	ID       types.VectorID
	Distance float32
}

// FindNearest performs an exact linear scan. The filter, when set, is
// evaluated BEFORE the distance kernel runs for that candidate, so
// unmatched candidates skip the distance computation entirely (spec
// §4.1). Cosine skips candidates whose length differs from the query;
// Euclidean instead applies MismatchPenalty under the square root.
// Results are sorted ascending by distance, truncated to k, ties broken
// by insertion order.
func (s *Store) FindNearest(query []float32, k int, opts SearchOptions) []Result {
	if k <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		id   types.VectorID
		dist float32
		seq  uint64
	}

	candidates := make([]candidate, 0, len(s.order))
	for _, key := range s.order {
		r := s.records[key]

		if opts.Filter != nil && !opts.Filter(r.id, r.metadata) {
			continue
		}

		if opts.Metric == distance.Cosine && len(r.vector) != len(query) {
			// DimensionMismatch: locally skipped, never raised (spec §7).
			continue
		}

		var d float32
		switch opts.Metric {
		case distance.Cosine:
			d = distance.Cos(query, r.vector)
		case distance.SquaredEuclidean:
			d = distance.SquaredEuclidean(query, r.vector, opts.MismatchPenalty)
		case distance.Manhattan, distance.Chebyshev, distance.InnerProduct, distance.Hamming:
			d = distance.Func(opts.Metric, 0)(query, r.vector)
		default:
			d = distance.Euclidean(query, r.vector, opts.MismatchPenalty)
		}

		candidates = append(candidates, candidate{id: r.id, dist: d, seq: r.seq})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].seq < candidates[j].seq
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{ID: candidates[i].id, Distance: candidates[i].dist}
	}
	return out
}
