package cluster

import (
	"runtime"

	"github.com/vectorcore/engine/internal/distance"
)

// RunKMeans refines cluster centroids by k-means++ seeding followed by
// Lloyd iteration over every vector currently in the store, replacing
// the incremental centroid-anchored clusters built by Add with k
// balanced ones. k<=0 means "keep the current cluster count" (spec
// §4.2). Grounded on the teacher's kMeansIVF (pkg/index/ivf.go), adapted
// for incremental reseeding of empty clusters and a bounded iteration
// budget with early convergence.
func (s *Store) RunKMeans(k int) error {
	ids, vecs := s.Store.Snapshot()
	if len(vecs) == 0 {
		return nil
	}

	s.mu.Lock()
	if k <= 0 {
		k = len(s.clusters)
	}
	s.mu.Unlock()
	if k <= 0 {
		k = 1
	}
	if k > len(vecs) {
		k = len(vecs)
	}

	df := distFunc(s.cfg.Metric)
	centroids := seedPlusPlus(vecs, k, s.rng, df)

	assign := make([]int, len(vecs))
	maxIters := s.cfg.KMeans.MaxIterations
	if maxIters <= 0 {
		maxIters = 100
	}
	tol := s.cfg.KMeans.Tolerance
	if tol <= 0 {
		tol = 1e-3
	}

	for iter := 0; iter < maxIters; iter++ {
		moved := 0
		for i, v := range vecs {
			best, bestDist := 0, df(v, centroids[0])
			for c := 1; c < len(centroids); c++ {
				d := df(v, centroids[c])
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assign[i] != best {
				assign[i] = best
				moved++
			}
		}

		newCentroids, counts := recomputeCentroids(vecs, assign, len(centroids))
		reseedEmptyClusters(newCentroids, counts, vecs, assign, s.rng)

		shift := maxCentroidShift(centroids, newCentroids)
		centroids = newCentroids

		if iter%10 == 0 {
			runtime.Gosched()
		}
		if moved == 0 || shift < tol {
			break
		}
	}

	s.mu.Lock()
	s.clusters = make(map[int]*Cluster, len(centroids))
	s.assignment = make(map[string]int, len(ids))
	s.nextClusterID = len(centroids)
	for cid, centroid := range centroids {
		s.clusters[cid] = &Cluster{ID: cid, Centroid: centroid, Members: make(map[string]struct{})}
	}
	for i, id := range ids {
		cid := assign[i]
		key := id.Key()
		s.clusters[cid].Members[key] = struct{}{}
		s.assignment[key] = cid
	}
	s.mu.Unlock()
	return nil
}

// seedPlusPlus chooses k initial centroids by k-means++: the first
// uniformly at random, each subsequent one with probability proportional
// to its squared distance from the nearest already-chosen centroid.
func seedPlusPlus(vecs [][]float32, k int, rng interface{ Float64() float64 }, df func(a, b []float32) float32) [][]float32 {
	dim := len(vecs[0])
	centroids := make([][]float32, k)

	first := int(rng.Float64() * float64(len(vecs)))
	if first >= len(vecs) {
		first = len(vecs) - 1
	}
	centroids[0] = cloneVec(vecs[first], dim)

	for i := 1; i < k; i++ {
		dists := make([]float32, len(vecs))
		var total float32
		for j, v := range vecs {
			min := df(v, centroids[0])
			for c := 1; c < i; c++ {
				d := df(v, centroids[c])
				if d < min {
					min = d
				}
			}
			dists[j] = min * min
			total += dists[j]
		}

		if total == 0 {
			// All remaining vectors coincide with an existing centroid;
			// pick arbitrarily to keep k distinct slots filled.
			centroids[i] = cloneVec(vecs[i%len(vecs)], dim)
			continue
		}

		r := float32(rng.Float64()) * total
		var cum float32
		chosen := len(vecs) - 1
		for j, d := range dists {
			cum += d
			if cum >= r {
				chosen = j
				break
			}
		}
		centroids[i] = cloneVec(vecs[chosen], dim)
	}
	return centroids
}

func cloneVec(v []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, v)
	return out
}

func recomputeCentroids(vecs [][]float32, assign []int, k int) ([][]float32, []int) {
	dim := len(vecs[0])
	centroids := make([][]float32, k)
	counts := make([]int, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
	}
	for i, v := range vecs {
		c := assign[i]
		counts[c]++
		for j := 0; j < dim && j < len(v); j++ {
			centroids[c][j] += v[j]
		}
	}
	for i := range centroids {
		if counts[i] > 0 {
			for j := range centroids[i] {
				centroids[i][j] /= float32(counts[i])
			}
		}
	}
	return centroids, counts
}

// reseedEmptyClusters replaces any zero-member centroid with a random
// member drawn from the largest cluster, so Lloyd iteration never gets
// stuck with a dead centroid (spec §4.2).
func reseedEmptyClusters(centroids [][]float32, counts []int, vecs [][]float32, assign []int, rng interface{ Float64() float64 }) {
	largest := 0
	for i, c := range counts {
		if c > counts[largest] {
			largest = i
		}
	}
	if counts[largest] == 0 {
		return
	}
	members := make([]int, 0, counts[largest])
	for i, c := range assign {
		if c == largest {
			members = append(members, i)
		}
	}
	for i, c := range counts {
		if c != 0 {
			continue
		}
		pick := int(rng.Float64() * float64(len(members)))
		if pick >= len(members) {
			pick = len(members) - 1
		}
		copy(centroids[i], vecs[members[pick]])
	}
}

func maxCentroidShift(old, new_ [][]float32) float32 {
	var maxShift float32
	for i := range old {
		d := distance.SquaredEuclidean(old[i], new_[i], 0)
		if d > maxShift {
			maxShift = d
		}
	}
	return maxShift
}
