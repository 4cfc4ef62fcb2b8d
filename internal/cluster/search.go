package cluster

import (
	"sort"

	"github.com/vectorcore/engine/internal/types"
	"github.com/vectorcore/engine/internal/vstore"
)

// clusterDist pairs a cluster with its centroid distance to a query, for
// ranking which clusters to probe.
type clusterDist struct {
	id   int
	dist float32
}

// probeCount returns how many clusters to scan for a k-NN query: an
// explicit Probe from Config, or enough of the top clusters (by size) to
// expect at least k candidates (spec §4.2).
func (s *Store) probeCount(k int) int {
	if s.cfg.Probe > 0 {
		if s.cfg.Probe > len(s.clusters) {
			return len(s.clusters)
		}
		return s.cfg.Probe
	}
	if len(s.clusters) == 0 {
		return 0
	}
	total := 0
	// Walk clusters largest-first, accumulating size until >= k or
	// exhausted.
	sizes := make([]int, 0, len(s.clusters))
	for _, c := range s.clusters {
		sizes = append(sizes, len(c.Members))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	probes := 0
	for _, sz := range sizes {
		if total >= k {
			break
		}
		total += sz
		probes++
	}
	if probes == 0 {
		probes = 1
	}
	return probes
}

// FindNearest scans only the nearest Probe (or auto-sized) clusters by
// centroid distance, instead of the full store, shadowing
// vstore.Store.FindNearest with the pruned ClusteredStore behavior from
// spec §4.2.
func (s *Store) FindNearest(query []float32, k int, opts vstore.SearchOptions) []vstore.Result {
	s.mu.RLock()
	if len(s.clusters) == 0 {
		s.mu.RUnlock()
		return s.Store.FindNearest(query, k, opts)
	}

	df := distFunc(s.cfg.Metric)
	dists := make([]clusterDist, 0, len(s.clusters))
	for id, c := range s.clusters {
		dists = append(dists, clusterDist{id: id, dist: df(query, c.Centroid)})
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	nProbe := s.probeCount(k)
	if nProbe > len(dists) {
		nProbe = len(dists)
	}
	probeKeys := make(map[string]struct{})
	for i := 0; i < nProbe; i++ {
		c := s.clusters[dists[i].id]
		for key := range c.Members {
			probeKeys[key] = struct{}{}
		}
	}
	s.mu.RUnlock()

	filter := opts.Filter
	scoped := func(id types.VectorID, md types.Metadata) bool {
		if _, ok := probeKeys[id.Key()]; !ok {
			return false
		}
		if filter != nil {
			return filter(id, md)
		}
		return true
	}
	scopedOpts := opts
	scopedOpts.Filter = scoped
	return s.Store.FindNearest(query, k, scopedOpts)
}
