// Package partition is the PartitionManager layer (spec §4.4): it owns a
// set of named shards, each wrapping a cluster.Store, with LRU-bounded
// in-memory residency, auto-creation on capacity overflow, and
// errgroup-fanned-out cross-partition search.
package partition

import (
	"github.com/vectorcore/engine/internal/cluster"
	"github.com/vectorcore/engine/internal/hnsw"
	"github.com/vectorcore/engine/internal/types"
)

// Capability tags one partition's available search paths, grounded on
// the teacher's IndexType-dispatching MultiIndex (pkg/index/multi_index.go)
// adapted to struct-tag dispatch instead of an interface registry (spec
// §4.4's "capability-tagged partitions").
type Capability struct {
	HasExactSearch bool
	HasHNSWSearch  bool
}

// Info describes one partition's capability tags, capacity and dirty
// flag. PartitionInfo loads the partition to fill it in.
type Info struct {
	ID         string
	Capability Capability
	VectorCap  int
	Dirty      bool
}

// partitionState is the full in-memory residency of one partition: its
// ClusteredStore plus an optional HnswIndex once built.
type partitionState struct {
	id       string
	store    *cluster.Store
	index    *hnsw.Index
	indexed  bool
	capacity int
	dirty    bool
}

func (p *partitionState) capability() Capability {
	return Capability{HasExactSearch: true, HasHNSWSearch: p.indexed && p.index != nil}
}

// AddResult reports what Add did: the id the vector was stored under
// (resolved even when the caller left it nil for auto-allocation), which
// partition received it, and whether the manager had to create a new
// partition or stored the vector in a full partition (soft overflow)
// because a new one could not be created.
type AddResult struct {
	ID          types.VectorID
	PartitionID string
	Created     bool
	Overflowed  bool
}
