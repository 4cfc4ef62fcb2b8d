package partition

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vectorcore/engine/internal/cluster"
	"github.com/vectorcore/engine/internal/distance"
	"github.com/vectorcore/engine/internal/hnsw"
	"github.com/vectorcore/engine/internal/quantize"
	"github.com/vectorcore/engine/internal/types"
	"github.com/vectorcore/engine/internal/vstore"
)

// Config configures a Manager.
type Config struct {
	// BaseDir is where each partition's subdirectory is persisted.
	BaseDir string

	// VectorCapPerPartition is the soft size limit that triggers
	// auto-creation of a new active partition (spec §4.4).
	VectorCapPerPartition int

	// MaxLoadedPartitions bounds how many partitions' full contents stay
	// resident at once; the rest are evicted (and saved if dirty) via
	// LRU, grounded on the teacher-adjacent amanmcp CachedEmbedder's use
	// of hashicorp/golang-lru.
	MaxLoadedPartitions int

	// MaxConcurrentSearch bounds the errgroup fan-out across partitions.
	MaxConcurrentSearch int

	// Compress enables gzip on every persisted partition artifact.
	Compress bool

	// QuantizeVectors trains an 8-bit scalar quantizer over each
	// partition's vectors at BuildHNSW time and has the graph carry
	// quantized copies instead of raw float32 (spec §4.3's optional
	// compression seam), trading a little recall for a 4x memory cut.
	QuantizeVectors bool

	Cluster cluster.Config
	HNSW    hnsw.Config

	Logger types.Logger
	Bus    *types.EventBus
}

// DefaultConfig returns sensible defaults: 100k vectors per partition,
// 8 partitions resident at once, 8-way concurrent fan-out.
func DefaultConfig() Config {
	return Config{
		VectorCapPerPartition: 100_000,
		MaxLoadedPartitions:   8,
		MaxConcurrentSearch:   8,
		Compress:              true,
		Cluster:               cluster.DefaultConfig(),
		HNSW:                  hnsw.DefaultConfig(),
		Logger:                types.NopLogger(),
	}
}

// Manager is the PartitionManager: an LRU-bounded registry of shards.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	order  []string // all known partition ids, creation order
	active string

	cache *lru.Cache[string, *partitionState]
	locks map[string]*flock.Flock
}

// New creates an empty Manager with no partitions.
func New(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = types.NopLogger()
	}
	if cfg.MaxLoadedPartitions <= 0 {
		cfg.MaxLoadedPartitions = 8
	}
	if cfg.MaxConcurrentSearch <= 0 {
		cfg.MaxConcurrentSearch = 8
	}

	m := &Manager{cfg: cfg, locks: make(map[string]*flock.Flock)}
	var err error
	m.cache, err = lru.NewWithEvict(cfg.MaxLoadedPartitions, m.onEvict)
	if err != nil {
		return nil, types.WrapError("partition.New", err)
	}
	return m, nil
}

// onEvict saves a dirty partition before it drops out of the resident
// set, the callback hook pattern golang-lru/v2 is built around.
func (m *Manager) onEvict(id string, ps *partitionState) {
	if ps.dirty {
		_ = m.saveLocked(ps)
	}
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(types.TopicPartitionEvicted, map[string]any{"partitionId": id})
	}
}

// CreatePartition allocates a new, empty partition and returns its id.
func (m *Manager) CreatePartition() (string, error) {
	id := uuid.NewString()
	ps := &partitionState{
		id:       id,
		store:    cluster.New(m.cfg.Cluster),
		capacity: m.cfg.VectorCapPerPartition,
	}

	m.mu.Lock()
	m.order = append(m.order, id)
	if m.active == "" {
		m.active = id
	}
	m.mu.Unlock()

	m.cache.Add(id, ps)
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(types.TopicPartitionCreated, map[string]any{"partitionId": id})
	}
	return id, nil
}

// SetActive designates id as the target for auto-routed Add calls.
func (m *Manager) SetActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.order {
		if existing == id {
			m.active = id
			return nil
		}
	}
	return types.WrapError("SetActive", types.ErrNotFound)
}

// ActivePartition returns the current auto-routing target.
func (m *Manager) ActivePartition() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// PartitionIDs returns every known partition id, in creation order.
func (m *Manager) PartitionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// GetPartition returns the resident state for id, loading it from disk
// (and evicting the LRU victim) if it isn't already cached.
func (m *Manager) GetPartition(id string) (*partitionState, error) {
	if ps, ok := m.cache.Get(id); ok {
		return ps, nil
	}

	m.mu.RLock()
	known := false
	for _, existing := range m.order {
		if existing == id {
			known = true
			break
		}
	}
	m.mu.RUnlock()
	if !known {
		return nil, types.WrapError("GetPartition", types.ErrNotFound)
	}

	ps, err := m.loadPartition(id)
	if err != nil {
		return nil, err
	}
	m.cache.Add(id, ps)
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(types.TopicPartitionLoaded, map[string]any{"partitionId": id})
	}
	return ps, nil
}

func (m *Manager) loadPartition(id string) (*partitionState, error) {
	dir := m.partitionDir(id)
	store, err := cluster.Load(dir, m.cfg.Cluster)
	if err != nil {
		return nil, err
	}
	ps := &partitionState{id: id, store: store, capacity: m.cfg.VectorCapPerPartition}

	idxDir := dir
	if idx, err := hnsw.Load(idxDir, m.cfg.HNSW); err == nil {
		ps.index = idx
		ps.indexed = true
	}
	return ps, nil
}

func (m *Manager) partitionDir(id string) string {
	return filepath.Join(m.cfg.BaseDir, id)
}

// LoadedPartitionIDs returns the ids currently resident in the LRU cache.
func (m *Manager) LoadedPartitionIDs() []string {
	keys := m.cache.Keys()
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// Stats aggregates counters across every known partition for the
// get_stats() surface (spec §6): the total vector count across all of
// them and how many of them carry a ready HNSW graph. Each partition is
// loaded through GetPartition to be counted. Loading every partition to total the
// vector count is the simplest correct answer for an occasional
// diagnostic call; it is not on any hot path.
func (m *Manager) Stats() (totalVectors, hnswLoadedCount int) {
	for _, pid := range m.PartitionIDs() {
		ps, err := m.GetPartition(pid)
		if err != nil {
			continue
		}
		totalVectors += ps.store.Len()
		if ps.capability().HasHNSWSearch {
			hnswLoadedCount++
		}
	}
	return totalVectors, hnswLoadedCount
}

// PartitionInfo reports id's capability tags and size without exposing
// its internal state type to callers outside this package.
func (m *Manager) PartitionInfo(id string) (Info, error) {
	ps, err := m.GetPartition(id)
	if err != nil {
		return Info{}, err
	}
	return Info{ID: ps.id, Capability: ps.capability(), VectorCap: ps.capacity, Dirty: ps.dirty}, nil
}

// PartitionSize returns the number of vectors resident in id.
func (m *Manager) PartitionSize(id string) (int, error) {
	ps, err := m.GetPartition(id)
	if err != nil {
		return 0, err
	}
	return ps.store.Len(), nil
}

// Add routes a vector to the active partition, auto-creating a new
// active partition when it is at capacity. When a new partition cannot
// be created, the vector is stored in the full partition anyway and a
// partition:overflow event records the soft overflow (spec §4.4).
// Returns the id of the partition that ultimately stored it.
func (m *Manager) Add(ctx context.Context, id *types.VectorID, vector []float32, md types.Metadata) (AddResult, error) {
	active := m.ActivePartition()
	created := false
	if active == "" {
		newID, err := m.CreatePartition()
		if err != nil {
			return AddResult{}, err
		}
		active = newID
		created = true
	}

	ps, err := m.GetPartition(active)
	if err != nil {
		return AddResult{}, err
	}

	if ps.capacity > 0 && ps.store.Len() >= ps.capacity {
		newID, err := m.CreatePartition()
		if err != nil {
			if m.cfg.Bus != nil {
				m.cfg.Bus.Publish(types.TopicPartitionOverflow, map[string]any{"partitionId": active})
			}
			resolved, err := ps.store.Add(ctx, id, vector, md)
			if err != nil {
				return AddResult{}, err
			}
			ps.dirty = true
			return AddResult{ID: resolved, PartitionID: active, Overflowed: true}, nil
		}
		if err := m.SetActive(newID); err != nil {
			return AddResult{}, err
		}
		ps, err = m.GetPartition(newID)
		if err != nil {
			return AddResult{}, err
		}
		resolved, err := ps.store.Add(ctx, id, vector, md)
		if err != nil {
			return AddResult{}, err
		}
		ps.dirty = true
		return AddResult{ID: resolved, PartitionID: newID, Created: true}, nil
	}

	resolved, err := ps.store.Add(ctx, id, vector, md)
	if err != nil {
		return AddResult{}, err
	}
	ps.dirty = true
	return AddResult{ID: resolved, PartitionID: ps.id, Created: created}, nil
}

// BulkAdd adds every item to the active partition, splitting across
// newly-created partitions as capacity is reached.
func (m *Manager) BulkAdd(ctx context.Context, items []vstore.AddItem) ([]AddResult, error) {
	results := make([]AddResult, 0, len(items))
	for _, item := range items {
		r, err := m.Add(ctx, item.ID, item.Vector, item.Metadata)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// GetVector returns the vector stored under id and the partition that
// holds it, scanning resident and on-disk partitions in creation order
// until a match is found.
func (m *Manager) GetVector(id types.VectorID) ([]float32, string, bool) {
	for _, pid := range m.PartitionIDs() {
		ps, err := m.GetPartition(pid)
		if err != nil {
			continue
		}
		if v, ok := ps.store.Get(id); ok {
			return v, pid, true
		}
	}
	return nil, "", false
}

// HasVector reports whether id exists in any known partition.
func (m *Manager) HasVector(id types.VectorID) bool {
	_, _, ok := m.GetVector(id)
	return ok
}

// DeleteVector removes id from whichever partition holds it.
func (m *Manager) DeleteVector(ctx context.Context, id types.VectorID) bool {
	for _, pid := range m.PartitionIDs() {
		ps, err := m.GetPartition(pid)
		if err != nil {
			continue
		}
		if ps.store.Delete(ctx, id) {
			ps.dirty = true
			if ps.index != nil {
				ps.index.Delete(id)
			}
			return true
		}
	}
	return false
}

// GetMetadata returns id's metadata and the partition that holds it.
func (m *Manager) GetMetadata(id types.VectorID) (types.Metadata, bool) {
	for _, pid := range m.PartitionIDs() {
		ps, err := m.GetPartition(pid)
		if err != nil {
			continue
		}
		if md, ok := ps.store.GetMetadata(id); ok {
			return md, true
		}
	}
	return nil, false
}

// UpdateMetadata merges patch into id's existing metadata, wherever it
// lives.
func (m *Manager) UpdateMetadata(ctx context.Context, id types.VectorID, patch types.Metadata) bool {
	for _, pid := range m.PartitionIDs() {
		ps, err := m.GetPartition(pid)
		if err != nil {
			continue
		}
		if ps.store.UpdateMetadata(ctx, id, patch) {
			ps.dirty = true
			return true
		}
	}
	return false
}

// GetMetadataWithField scans every resident/loadable partition for
// metadata entries matching criteria, stopping once limit matches have
// been collected across all partitions combined (limit <= 0 is
// unbounded).
func (m *Manager) GetMetadataWithField(criteria types.FieldCriteria, limit int) []vstore.MetadataEntry {
	var out []vstore.MetadataEntry
	for _, pid := range m.PartitionIDs() {
		ps, err := m.GetPartition(pid)
		if err != nil {
			continue
		}
		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
			if remaining <= 0 {
				break
			}
		}
		out = append(out, ps.store.GetMetadataWithField(criteria, remaining)...)
	}
	return out
}

// BuildHNSW (re)builds the HNSW graph for partitionID from its current
// ClusteredStore contents.
func (m *Manager) BuildHNSW(partitionID string) error {
	ps, err := m.GetPartition(partitionID)
	if err != nil {
		return err
	}
	ids, vecs := ps.store.Snapshot()
	hcfg := m.cfg.HNSW
	if m.cfg.QuantizeVectors && len(vecs) > 0 {
		q := quantize.NewScalar8(len(vecs[0]))
		if err := q.Train(vecs); err == nil {
			hcfg.Quantizer = q
		}
	}
	idx := hnsw.New(hcfg)
	if err := idx.Build(ids, vecs); err != nil {
		return err
	}
	if hcfg.Quantizer != nil {
		idx.Compact()
	}
	ps.index = idx
	ps.indexed = true
	ps.dirty = true
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(types.TopicPartitionIndexed, map[string]any{"partitionId": partitionID, "size": len(ids)})
	}
	return nil
}

// SearchHit is one cross-partition ranked result, stamped with the
// partition it came from and which path answered it (spec §4.4/§4.5).
type SearchHit struct {
	ID          types.VectorID
	Distance    float32
	PartitionID string
	IndexUsed   string // "exact" or "hnsw"
}

// searchMode selects how fanOutSearch treats a partition lacking a
// built HNSW index.
type searchMode int

const (
	// modeExact always uses the ClusteredStore's linear scan.
	modeExact searchMode = iota
	// modeHNSWStrict skips partitions without a ready HNSW graph,
	// so callers can detect partial coverage from the hit count.
	modeHNSWStrict
	// modeHNSWMixed uses HNSW where available and falls back to
	// exact scan per-partition otherwise (spec §4.4 scenario D).
	modeHNSWMixed
)

// FindNearest fans exact linear-scan search out across every partition
// resident when the call starts (partitions on disk only are not
// consulted) with bounded concurrency via
// errgroup, merging results by distance. Grounded on the
// Aman-CERP-amanmcp MultiQuerySearcher.parallelSubSearch fan-out
// pattern, adapted from sub-queries to partitions.
func (m *Manager) FindNearest(ctx context.Context, query []float32, k int, opts vstore.SearchOptions) ([]SearchHit, error) {
	return m.fanOutSearch(ctx, query, k, opts, modeExact, 0, nil)
}

// FindNearestHNSW is FindNearest's approximate counterpart: partitions
// without a built HNSW index (capability.HasHNSWSearch == false) are
// skipped rather than falling back silently, so callers can detect
// partial coverage via the returned hit count.
func (m *Manager) FindNearestHNSW(ctx context.Context, query []float32, k, ef int, opts vstore.SearchOptions) ([]SearchHit, error) {
	return m.fanOutSearch(ctx, query, k, opts, modeHNSWStrict, ef, nil)
}

// FindNearestMixed fans a query out across the resident partitions among
// partitionIDs (every resident partition when nil/empty), using each
// partition's HNSW graph when
// ready and falling back to an exact scan otherwise. Each hit is
// stamped with the path that answered it.
func (m *Manager) FindNearestMixed(ctx context.Context, query []float32, k, ef int, opts vstore.SearchOptions, partitionIDs []string) ([]SearchHit, error) {
	return m.fanOutSearch(ctx, query, k, opts, modeHNSWMixed, ef, partitionIDs)
}

func (m *Manager) fanOutSearch(ctx context.Context, query []float32, k int, opts vstore.SearchOptions, mode searchMode, ef int, restrictTo []string) ([]SearchHit, error) {
	ids := m.LoadedPartitionIDs()
	if len(restrictTo) > 0 {
		allow := make(map[string]bool, len(restrictTo))
		for _, id := range restrictTo {
			allow[id] = true
		}
		filtered := ids[:0:0]
		for _, id := range ids {
			if allow[id] {
				filtered = append(filtered, id)
			}
		}
		ids = filtered
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, m.cfg.MaxConcurrentSearch)

	var mu sync.Mutex
	var all []SearchHit

	for _, pid := range ids {
		pid := pid
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			ps, err := m.GetPartition(pid)
			if err != nil {
				return nil // partition disappeared between listing and load; skip
			}

			useHNSW := false
			switch mode {
			case modeHNSWStrict:
				if !ps.capability().HasHNSWSearch {
					return nil
				}
				useHNSW = true
			case modeHNSWMixed:
				useHNSW = ps.capability().HasHNSWSearch
			}

			var hits []SearchHit
			if useHNSW {
				results, err := ps.index.Search(query, k, ef)
				if err != nil {
					return nil
				}
				for _, r := range results {
					hits = append(hits, SearchHit{ID: r.ID, Distance: r.Distance, PartitionID: pid, IndexUsed: "hnsw"})
				}
			} else {
				for _, r := range ps.store.FindNearest(query, k, opts) {
					hits = append(hits, SearchHit{ID: r.ID, Distance: r.Distance, PartitionID: pid, IndexUsed: "exact"})
				}
			}

			mu.Lock()
			all = append(all, hits...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, types.WrapError("fanOutSearch", err)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	if k < len(all) {
		all = all[:k]
	}
	return all, nil
}

// Save persists every dirty resident partition.
func (m *Manager) Save() error {
	for _, id := range m.PartitionIDs() {
		ps, ok := m.cache.Peek(id)
		if !ok || !ps.dirty {
			continue
		}
		if err := m.saveLocked(ps); err != nil {
			return err
		}
	}
	return m.saveManifest()
}

func (m *Manager) saveLocked(ps *partitionState) error {
	dir := m.partitionDir(ps.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.WrapError("save", err)
	}
	lock := m.lockFor(ps.id)
	if err := lock.Lock(); err != nil {
		return types.WrapError("save", err)
	}
	defer lock.Unlock()

	if err := ps.store.Save(dir, m.cfg.Compress); err != nil {
		return err
	}
	if ps.index != nil {
		if err := ps.index.Save(dir, m.cfg.Compress); err != nil {
			return err
		}
	}
	ps.dirty = false
	return nil
}

func (m *Manager) lockFor(id string) *flock.Flock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[id]; ok {
		return l
	}
	l := flock.New(filepath.Join(m.partitionDir(id), ".partition.lock"))
	m.locks[id] = l
	return l
}

// ExtractRelationships groups vectors across every known partition
// (loading each) into connected components (spec §4.4's supplemented
// "extract_communities" operation): a brute-force scan links each vector
// to its single nearest neighbor, mutual or not, and a union-find merges
// the linked pairs.
func (m *Manager) ExtractRelationships(ctx context.Context, opts vstore.SearchOptions) ([][]types.VectorID, error) {
	ids := m.PartitionIDs()
	var allIDs []types.VectorID
	var allVecs [][]float32
	for _, pid := range ids {
		ps, err := m.GetPartition(pid)
		if err != nil {
			continue
		}
		vIDs, vecs := ps.store.Snapshot()
		allIDs = append(allIDs, vIDs...)
		allVecs = append(allVecs, vecs...)
	}
	if len(allIDs) == 0 {
		return nil, nil
	}

	uf := newUnionFind(len(allIDs))
	df := distance.Func(opts.Metric, opts.MismatchPenalty)
	for i, v := range allVecs {
		best, bestDist := -1, float32(0)
		for j, other := range allVecs {
			if i == j {
				continue
			}
			d := df(v, other)
			if best == -1 || d < bestDist {
				best, bestDist = j, d
			}
		}
		if best != -1 {
			uf.union(i, best)
		}
	}

	groups := make(map[int][]types.VectorID)
	for i, id := range allIDs {
		root := uf.find(i)
		groups[root] = append(groups[root], id)
	}
	out := make([][]types.VectorID, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	return out, nil
}
