package rerank

import "github.com/vectorcore/engine/internal/distance"

// Diversity implements Maximal Marginal Relevance (MMR): the first pick
// is the candidate nearest the query, and every subsequent pick
// maximizes Lambda*relevance + (1-Lambda)*diversity against the already
// selected set (spec §4.6). Candidates missing a vector are skipped
// outright since no diversity term can be computed for them.
type Diversity struct {
	Lambda float32
	Metric distance.Metric
}

// Rerank implements Reranker.
func (d Diversity) Rerank(query []float32, candidates []Candidate, k int) []Candidate {
	df := distance.Func(d.Metric, 0)

	pool := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Vector != nil {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return nil
	}
	if k <= 0 || k > len(pool) {
		k = len(pool)
	}

	selected := make([]Candidate, 0, k)
	used := make([]bool, len(pool))

	firstIdx := 0
	for i, c := range pool {
		if c.Distance < pool[firstIdx].Distance {
			firstIdx = i
		}
	}
	selected = append(selected, pool[firstIdx])
	used[firstIdx] = true

	for len(selected) < k {
		bestIdx := -1
		var bestScore float32
		for i, c := range pool {
			if used[i] {
				continue
			}
			relevance := 1.0 / (1.0 + c.Distance)
			minDist := float32(-1)
			for _, s := range selected {
				dd := df(c.Vector, s.Vector)
				if minDist < 0 || dd < minDist {
					minDist = dd
				}
			}
			score := d.Lambda*relevance + (1-d.Lambda)*minDist
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		if bestIdx == -1 {
			break
		}
		selected = append(selected, pool[bestIdx])
		used[bestIdx] = true
	}
	return selected
}
