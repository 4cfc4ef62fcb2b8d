// Package hnsw is the HnswIndex layer (spec §4.3): a hierarchical
// navigable small world graph for approximate nearest-neighbor search,
// built and searched the way the teacher's pkg/index.HNSW does, but
// keyed on tagged VectorIDs instead of bare strings and carrying an
// explicit Empty/Building/Ready/Stale lifecycle.
package hnsw

import (
	"math"
	"math/rand"
	"sync"

	"github.com/vectorcore/engine/internal/distance"
	"github.com/vectorcore/engine/internal/types"
)

// State is the index's lifecycle stage.
type State int

const (
	Empty State = iota
	Building
	Ready
	Stale
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Building:
		return "building"
	case Ready:
		return "ready"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Quantizer compresses/decompresses stored vectors. Kept as a stub
// interface per spec Non-goals: product quantization is not implemented,
// but the seam exists so a concrete codec (see internal/quantize) can be
// plugged in without touching graph logic, mirroring the teacher's
// HNSW.Quantizer field.
type Quantizer interface {
	Encode(vec []float32) ([]byte, error)
	Decode(encoded []byte) ([]float32, error)
}

// Config configures an Index.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
	Metric         distance.Metric
	MismatchPenalty float32

	// AutoRebuildThreshold is the tombstone-fraction (deleted/total) past
	// which the index flips to Stale, signaling the owning partition it
	// should be rebuilt (spec §4.3).
	AutoRebuildThreshold float32

	Quantizer Quantizer
	Logger    types.Logger
	Bus       *types.EventBus
	Seed      int64
}

// DefaultConfig returns the teacher's defaults (M=16, efConstruction=200)
// plus a 20% tombstone-triggered staleness threshold.
func DefaultConfig() Config {
	return Config{
		M:                    16,
		EfConstruction:       200,
		EfSearch:             50,
		Metric:               distance.Euclidean,
		AutoRebuildThreshold: 0.2,
		Logger:               types.NopLogger(),
	}
}

// node is one graph vertex.
type node struct {
	id        types.VectorID
	vector    []float32
	quantized []byte
	level     int
	neighbors [][]string // neighbors[l] = keys of neighbors at layer l
	deleted   bool
}

// Index is the HnswIndex: a multi-layer proximity graph over a fixed
// distance metric.
type Index struct {
	mu    sync.RWMutex
	cfg   Config
	nodes map[string]*node
	order []string // insertion order, for Snapshot/rebuild determinism

	entryPoint string
	topLevel   int
	state      State

	mMax0      int
	tombstones int

	rng *rand.Rand
	ml  float64
}

// New creates an empty index in the Empty state.
func New(cfg Config) *Index {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = types.NopLogger()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Index{
		cfg:      cfg,
		nodes:    make(map[string]*node),
		mMax0:    cfg.M * 2,
		rng:      rand.New(rand.NewSource(seed)),
		ml:       1.0 / math.Log(2.0),
		state:    Empty,
		topLevel: -1,
	}
}

// State returns the current lifecycle state.
func (idx *Index) State() State {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.state
}

// Size returns the number of non-deleted nodes.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, nd := range idx.nodes {
		if !nd.deleted {
			n++
		}
	}
	return n
}

func (idx *Index) distFunc() func(a, b []float32) float32 {
	if idx.cfg.Metric == distance.Euclidean || idx.cfg.Metric == distance.SquaredEuclidean {
		mp := idx.cfg.MismatchPenalty
		return func(a, b []float32) float32 { return distance.Euclidean(a, b, mp) }
	}
	return distance.Func(idx.cfg.Metric, 0)
}

// vectorOf resolves a node's raw vector, decoding through the Quantizer
// if the node is storing a quantized payload instead of its raw vector.
func (idx *Index) vectorOf(nd *node) []float32 {
	if nd.vector != nil {
		return nd.vector
	}
	if nd.quantized != nil && idx.cfg.Quantizer != nil {
		if v, err := idx.cfg.Quantizer.Decode(nd.quantized); err == nil {
			return v
		}
	}
	return nil
}

// selectLevel samples a layer via floor(-ln(uniform(0,1)) * ml), the
// standard HNSW level-assignment distribution (spec §4.3).
func (idx *Index) selectLevel() int {
	u := idx.rng.Float64()
	for u == 0 {
		u = idx.rng.Float64()
	}
	level := int(math.Floor(-math.Log(u) * idx.ml))
	if level > 32 {
		level = 32
	}
	return level
}

// Stats mirrors the teacher's HNSW.Stats() shape (spec's supplemented
// feature), reporting node/edge counts and the level distribution.
func (idx *Index) Stats() map[string]any {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	total := len(idx.nodes)
	active := 0
	edges := 0
	maxLevel := 0
	levelDist := make(map[int]int)

	for _, nd := range idx.nodes {
		if nd.deleted {
			continue
		}
		active++
		if nd.level > maxLevel {
			maxLevel = nd.level
		}
		levelDist[nd.level]++
		for _, ns := range nd.neighbors {
			edges += len(ns)
		}
	}

	avg := 0.0
	if active > 0 {
		avg = float64(edges) / float64(active)
	}

	return map[string]any{
		"state":               idx.state.String(),
		"total_nodes":         total,
		"active_nodes":        active,
		"deleted_nodes":       total - active,
		"total_edges":         edges,
		"avg_edges_per_node":  avg,
		"max_level":           maxLevel,
		"level_distribution":  levelDist,
		"entry_point":         idx.entryPoint,
		"m":                   idx.cfg.M,
		"ef_construction":     idx.cfg.EfConstruction,
		"tombstone_fraction":  idx.tombstoneFractionLocked(),
	}
}

func (idx *Index) tombstoneFractionLocked() float64 {
	if len(idx.nodes) == 0 {
		return 0
	}
	return float64(idx.tombstones) / float64(len(idx.nodes))
}

// Compact replaces every node's raw vector with its Quantizer-encoded
// form, trading exact distances during subsequent search/insert for
// reduced memory, the same trade the teacher's HNSW.Insert documents
// ("drop it to fulfill the memory efficiency requirement"). A no-op if
// no Quantizer is configured.
func (idx *Index) Compact() error {
	if idx.cfg.Quantizer == nil {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, nd := range idx.nodes {
		if nd.vector == nil {
			continue
		}
		enc, err := idx.cfg.Quantizer.Encode(nd.vector)
		if err != nil {
			continue
		}
		nd.quantized = enc
		nd.vector = nil
	}
	return nil
}
