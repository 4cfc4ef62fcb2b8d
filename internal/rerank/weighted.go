package rerank

import (
	"sort"

	"github.com/vectorcore/engine/internal/types"
)

// Weighted subtracts a weighted sum of numeric metadata fields from each
// candidate's distance, then sorts ascending (spec §4.6): score =
// distance - sum(weights[f] * metadata[id][f]). Scores are not
// normalized against each other — an explicit Open Question in the
// spec left undecided, so the raw subtracted value is used as-is.
type Weighted struct {
	Weights map[string]float32
}

// Rerank implements Reranker.
func (w Weighted) Rerank(_ []float32, candidates []Candidate, k int) []Candidate {
	type scored struct {
		c     Candidate
		score float32
	}
	out := make([]scored, len(candidates))
	for i, c := range candidates {
		score := c.Distance
		for field, weight := range w.Weights {
			v, ok := numericField(c.Metadata, field)
			if !ok {
				continue
			}
			score -= weight * v
		}
		out[i] = scored{c: c, score: score}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].score < out[j].score })

	if k <= 0 || k > len(out) {
		k = len(out)
	}
	result := make([]Candidate, k)
	for i := 0; i < k; i++ {
		result[i] = out[i].c
	}
	return result
}

// numericField extracts a float32-convertible value from metadata,
// accepting the JSON-decoded numeric types a caller is likely to have
// (float64 from encoding/json, plain float32/int variants from
// in-process callers).
func numericField(md types.Metadata, field string) (float32, bool) {
	if md == nil {
		return 0, false
	}
	v, ok := md[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return float32(n), true
	case float32:
		return n, true
	case int:
		return float32(n), true
	case int64:
		return float32(n), true
	default:
		return 0, false
	}
}
