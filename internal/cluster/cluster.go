// Package cluster is the ClusteredStore layer (spec §4.2): it wraps a
// vstore.Store, grouping vectors into centroid-anchored clusters for
// pruned linear scan, with incremental centroid updates and periodic
// k-means refinement.
package cluster

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"github.com/vectorcore/engine/internal/distance"
	"github.com/vectorcore/engine/internal/types"
	"github.com/vectorcore/engine/internal/vstore"
)

// Cluster is one centroid-anchored group of members.
type Cluster struct {
	ID       int
	Centroid []float32
	Members  map[string]struct{} // keyed by VectorID.Key()
}

// Size returns the member count.
func (c *Cluster) Size() int { return len(c.Members) }

// KMeansConfig configures RunKMeans.
type KMeansConfig struct {
	MaxIterations int     // default 100
	Tolerance     float32 // default 1e-3
}

// Config configures a Store.
type Config struct {
	VStore vstore.Config

	// NewClusterDistanceThreshold: a new vector outside this distance from
	// every existing centroid starts its own singleton cluster (until
	// MaxClusters is reached).
	NewClusterDistanceThreshold float32
	MaxClusters                 int

	// Probe is the number of nearest clusters to linear-scan on
	// FindNearest. Zero means "pick enough clusters to expect >= k
	// candidates" (spec §4.2).
	Probe int

	KMeans KMeansConfig
	Metric distance.Metric

	Logger types.Logger
	Bus    *types.EventBus

	// Seed drives the k-means++ PRNG for reproducible refinement.
	Seed int64
}

// DefaultConfig returns sensible defaults: threshold tuned for unit-scale
// embeddings, up to 64 clusters, 100 k-means iterations with 1e-3
// tolerance.
func DefaultConfig() Config {
	return Config{
		VStore:                      vstore.DefaultConfig(),
		NewClusterDistanceThreshold: 0.35,
		MaxClusters:                 64,
		KMeans:                      KMeansConfig{MaxIterations: 100, Tolerance: 1e-3},
		Metric:                      distance.Euclidean,
		Logger:                      types.NopLogger(),
	}
}

// Store is the ClusteredStore: a *vstore.Store plus cluster bookkeeping.
type Store struct {
	*vstore.Store

	mu            sync.RWMutex
	cfg           Config
	clusters      map[int]*Cluster
	assignment    map[string]int // VectorID.Key() -> cluster id
	nextClusterID int
	rng           *rand.Rand
}

// New creates an empty ClusteredStore.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = types.NopLogger()
	}
	cfg.VStore.Logger = cfg.Logger
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Store{
		Store:      vstore.New(cfg.VStore),
		cfg:        cfg,
		clusters:   make(map[int]*Cluster),
		assignment: make(map[string]int),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Clusters returns a snapshot list of current clusters (for persistence
// and inspection). Ordered by ID for determinism.
func (s *Store) Clusters() []*Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		members := make(map[string]struct{}, len(c.Members))
		for k := range c.Members {
			members[k] = struct{}{}
		}
		centroid := make([]float32, len(c.Centroid))
		copy(centroid, c.Centroid)
		out = append(out, &Cluster{ID: c.ID, Centroid: centroid, Members: members})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ClusterCount returns the number of live clusters.
func (s *Store) ClusterCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clusters)
}

func distFunc(metric distance.Metric) func(a, b []float32) float32 {
	switch metric {
	case distance.Cosine:
		return distance.Cos
	default:
		return distance.Func(metric, 0)
	}
}

// assignLocked assigns vector (belonging to idKey) to its nearest cluster,
// creating a new singleton cluster when nothing is close enough and
// capacity remains, else force-assigning to the nearest cluster
// regardless of distance. Holds s.mu for writing; caller must hold it.
func (s *Store) assignLocked(idKey string, vector []float32) {
	df := distFunc(s.cfg.Metric)

	bestID := -1
	bestDist := float32(0)
	first := true
	for _, c := range s.clusters {
		d := df(vector, c.Centroid)
		if first || d < bestDist {
			bestDist = d
			bestID = c.ID
			first = false
		}
	}

	if bestID == -1 || (bestDist > s.cfg.NewClusterDistanceThreshold && len(s.clusters) < s.cfg.MaxClusters) {
		id := s.nextClusterID
		s.nextClusterID++
		centroid := make([]float32, len(vector))
		copy(centroid, vector)
		s.clusters[id] = &Cluster{ID: id, Centroid: centroid, Members: map[string]struct{}{idKey: {}}}
		s.assignment[idKey] = id
		return
	}

	c := s.clusters[bestID]
	c.Members[idKey] = struct{}{}
	s.assignment[idKey] = bestID
	updateCentroidIncremental(c.Centroid, vector, len(c.Members))
}

// updateCentroidIncremental applies c' = c + (v - c)/n in place, where n
// is the new member count after adding v.
func updateCentroidIncremental(centroid, v []float32, n int) {
	if n <= 0 {
		return
	}
	for i := range centroid {
		if i >= len(v) {
			break
		}
		centroid[i] += (v[i] - centroid[i]) / float32(n)
	}
}

// Add inserts via the embedded VectorStore, then assigns the new vector
// to a cluster. Shadows vstore.Store.Add to keep cluster bookkeeping in
// sync — the "extends" relationship from spec §4.2 expressed as Go
// composition rather than inheritance.
func (s *Store) Add(ctx context.Context, id *types.VectorID, vector []float32, md types.Metadata) (types.VectorID, error) {
	resolved, err := s.Store.Add(ctx, id, vector, md)
	if err != nil {
		return resolved, err
	}
	s.mu.Lock()
	s.assignLocked(resolved.Key(), vector)
	s.mu.Unlock()
	return resolved, nil
}

// BulkAdd inserts every item one at a time through Add, so each gets a
// cluster assignment even when its id was auto-allocated.
func (s *Store) BulkAdd(ctx context.Context, items []vstore.AddItem) (int, error) {
	for _, item := range items {
		if _, err := s.Add(ctx, item.ID, item.Vector, item.Metadata); err != nil {
			return 0, err
		}
	}
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(types.TopicVectorsBulkAdd, map[string]any{"count": len(items)})
	}
	return len(items), nil
}

// Delete removes id from the VectorStore and from its cluster. A cluster
// left empty by the removal is dropped; a non-empty cluster keeps its
// last-refined centroid until the next RunKMeans rather than recomputing
// an incremental mean on removal (spec §4.2 only defines incremental
// update on insert).
func (s *Store) Delete(ctx context.Context, id types.VectorID) bool {
	existed := s.Store.Delete(ctx, id)
	if !existed {
		return false
	}
	key := id.Key()
	s.mu.Lock()
	if cid, ok := s.assignment[key]; ok {
		delete(s.assignment, key)
		if c, ok := s.clusters[cid]; ok {
			delete(c.Members, key)
			if len(c.Members) == 0 {
				delete(s.clusters, cid)
			}
		}
	}
	s.mu.Unlock()
	return true
}
