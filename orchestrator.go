package vectorcore

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vectorcore/engine/internal/partition"
	"github.com/vectorcore/engine/internal/rerank"
	"github.com/vectorcore/engine/internal/types"
	"github.com/vectorcore/engine/internal/vstore"
)

// Config configures an Orchestrator: where it persists, how much it
// caches, and the partition/cluster/HNSW knobs each layer below it
// needs (spec §4.5, §6 "Environment").
type Config struct {
	// DataDir is the root directory each partition's subdirectory lives
	// under.
	DataDir string

	// Compress enables gzip on every persisted artifact.
	Compress bool

	Partition partition.Config

	// ResultCacheSize bounds the search-result LRU (spec §4.5). Zero
	// disables caching entirely.
	ResultCacheSize int

	// DefaultSearchTimeout is applied when a call's SearchOptions leaves
	// SearchTimeoutMs unset.
	DefaultSearchTimeout time.Duration

	// MaxBatchSize bounds how many queries BatchSearch runs per chunk
	// (spec §4.5).
	MaxBatchSize int

	Logger types.Logger
	Bus    *types.EventBus
}

// DefaultConfig returns sensible defaults rooted at dataDir: a 1024-entry
// result cache, a 30s default search timeout, 64-query batch chunks, and
// the partition/cluster/HNSW layer defaults.
func DefaultConfig(dataDir string) Config {
	pcfg := partition.DefaultConfig()
	pcfg.BaseDir = dataDir
	return Config{
		DataDir:              dataDir,
		Compress:             true,
		Partition:            pcfg,
		ResultCacheSize:      1024,
		DefaultSearchTimeout: 30 * time.Second,
		MaxBatchSize:         64,
		Logger:               types.NopLogger(),
	}
}

// Orchestrator is the SearchOrchestrator (spec §4.5): the single entry
// point that picks exact vs. HNSW, applies filters, fans a query out
// across the PartitionManager's loaded partitions, reranks, and caches.
type Orchestrator struct {
	cfg   Config
	mgr   *partition.Manager
	cache *resultCache
}

// Open opens (or creates) the store rooted at cfg.DataDir, rediscovering
// any partitions persisted from a previous run.
func Open(cfg Config) (*Orchestrator, error) {
	if cfg.Logger == nil {
		cfg.Logger = types.NopLogger()
	}
	cfg.Partition.BaseDir = cfg.DataDir
	cfg.Partition.Compress = cfg.Compress
	cfg.Partition.Logger = cfg.Logger
	cfg.Partition.Bus = cfg.Bus
	cfg.Partition.Cluster.Logger = cfg.Logger
	cfg.Partition.Cluster.Bus = cfg.Bus
	cfg.Partition.HNSW.Logger = cfg.Logger
	cfg.Partition.HNSW.Bus = cfg.Bus
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 64
	}

	mgr, err := partition.Open(cfg.Partition)
	if err != nil {
		return nil, WrapError("Open", err)
	}
	var cache *resultCache
	if cfg.ResultCacheSize > 0 {
		cache, err = newResultCache(cfg.ResultCacheSize)
		if err != nil {
			return nil, err
		}
	}
	return &Orchestrator{cfg: cfg, mgr: mgr, cache: cache}, nil
}

// Close saves every dirty resident partition and the partition manifest.
// It does not release in-memory state; a closed Orchestrator may still
// be queried against whatever remains resident.
func (o *Orchestrator) Close() error {
	if o.cfg.Bus != nil {
		defer o.cfg.Bus.Publish(TopicDBClose, nil)
	}
	return o.Save()
}

// Save persists every dirty resident partition plus the manifest,
// without releasing anything from memory.
func (o *Orchestrator) Save() error {
	if err := o.mgr.Save(); err != nil {
		return err
	}
	if o.cfg.Bus != nil {
		o.cfg.Bus.Publish(TopicDBSave, nil)
	}
	return nil
}

// AddRequest is one vector insertion (spec §4.5 write path).
type AddRequest struct {
	ID       *VectorID
	Vector   []float32
	Metadata Metadata
}

// AddVector routes req to the active partition (auto-creating one on
// capacity overflow) and returns the id it was stored under.
func (o *Orchestrator) AddVector(ctx context.Context, req AddRequest) (VectorID, error) {
	r, err := o.mgr.Add(ctx, req.ID, req.Vector, req.Metadata)
	if err != nil {
		return VectorID{}, err
	}
	if o.cfg.Bus != nil {
		o.cfg.Bus.Publish(TopicVectorAdd, map[string]any{"id": r.ID.String(), "partitionId": r.PartitionID})
	}
	return r.ID, nil
}

// BulkAdd adds every request, splitting across auto-created partitions
// as capacity is reached, and publishes one aggregate event.
func (o *Orchestrator) BulkAdd(ctx context.Context, reqs []AddRequest) ([]VectorID, error) {
	items := make([]vstore.AddItem, len(reqs))
	for i, r := range reqs {
		items[i] = vstore.AddItem{ID: r.ID, Vector: r.Vector, Metadata: r.Metadata}
	}
	results, err := o.mgr.BulkAdd(ctx, items)
	if err != nil {
		return nil, err
	}
	ids := make([]VectorID, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	if o.cfg.Bus != nil {
		o.cfg.Bus.Publish(TopicVectorsBulkAdd, map[string]any{"count": len(ids)})
	}
	return ids, nil
}

// GetVector returns the vector stored under id.
func (o *Orchestrator) GetVector(id VectorID) ([]float32, bool) {
	v, _, ok := o.mgr.GetVector(id)
	return v, ok
}

// HasVector reports whether id exists in any partition.
func (o *Orchestrator) HasVector(id VectorID) bool {
	return o.mgr.HasVector(id)
}

// DeleteVector removes id from whichever partition holds it.
func (o *Orchestrator) DeleteVector(ctx context.Context, id VectorID) bool {
	ok := o.mgr.DeleteVector(ctx, id)
	if ok && o.cfg.Bus != nil {
		o.cfg.Bus.Publish(TopicVectorDelete, map[string]any{"id": id.String()})
	}
	return ok
}

// GetMetadata returns id's metadata.
func (o *Orchestrator) GetMetadata(id VectorID) (Metadata, bool) {
	return o.mgr.GetMetadata(id)
}

// UpdateMetadata merges patch into id's existing metadata. An empty
// patch leaves GetMetadata unchanged (spec §8 round-trip law).
func (o *Orchestrator) UpdateMetadata(ctx context.Context, id VectorID, patch Metadata) bool {
	ok := o.mgr.UpdateMetadata(ctx, id, patch)
	if ok && o.cfg.Bus != nil {
		o.cfg.Bus.Publish(TopicMetadataUpdate, map[string]any{"id": id.String()})
	}
	return ok
}

// MetadataEntry pairs an id with its metadata, as returned by
// GetMetadataWithField.
type MetadataEntry = vstore.MetadataEntry

// GetMetadataWithField scans every partition for metadata entries
// matching criteria, stopping once limit matches are collected
// (limit <= 0 is unbounded).
func (o *Orchestrator) GetMetadataWithField(criteria FieldCriteria, limit int) []MetadataEntry {
	return o.mgr.GetMetadataWithField(criteria, limit)
}

// BuildIndexes (re)builds the HNSW graph for each named partition, or
// every known partition when ids is empty.
func (o *Orchestrator) BuildIndexes(ids ...string) error {
	targets := ids
	if len(targets) == 0 {
		targets = o.mgr.PartitionIDs()
	}
	for _, id := range targets {
		if err := o.mgr.BuildHNSW(id); err != nil {
			return err
		}
	}
	return nil
}

// SearchOptions configures FindNearest/FindNearestHNSW (spec §4.5's
// "unified search options"). The zero value searches every loaded
// partition with the Euclidean metric, prefers HNSW where available,
// skips reranking, and uses the result cache.
type SearchOptions struct {
	Metric          Metric
	MismatchPenalty float32
	Filter          Filter

	// UseHNSW overrides whether HNSW is preferred over an exact scan
	// when both are available; nil means the spec default of true.
	// Partitions without a ready HNSW graph always fall back to an
	// exact scan regardless of this setting (spec §4.5 scenario D).
	UseHNSW *bool

	// EfSearch overrides the HNSW index's configured ef for this call.
	EfSearch int

	// PartitionIDs restricts the HNSW-path fan-out to the loaded
	// partitions in this set; empty means every loaded partition. The
	// exact path (UseHNSW false) does not read it and always searches
	// every loaded partition.
	PartitionIDs []string

	IncludeMetadata bool
	IncludeVectors  bool
	SkipCache       bool

	Rerank        bool
	RerankMethod  string // "standard", "diversity", "weighted"
	RerankLambda  float32
	RerankWeights map[string]float32

	// SearchTimeoutMs overrides Config.DefaultSearchTimeout for this
	// call; 0 means use the configured default.
	SearchTimeoutMs int
}

func (o SearchOptions) useHNSW() bool {
	if o.UseHNSW == nil {
		return true
	}
	return *o.UseHNSW
}

// UseHNSWBool is a convenience constructor for SearchOptions.UseHNSW.
func UseHNSWBool(b bool) *bool { return &b }

// SearchResult is one ranked hit, stamped with the partition and search
// path that produced it.
type SearchResult struct {
	ID          VectorID
	Distance    float32
	PartitionID string
	IndexUsed   string // "exact" or "hnsw"
	Metadata    Metadata
	Vector      []float32
}

// FindNearest executes a k-nearest-neighbor query (spec §4.5): consult
// the cache, fan out across partitions via the PartitionManager, fetch
// metadata/vectors as requested, rerank if asked, then cache and return.
func (o *Orchestrator) FindNearest(ctx context.Context, query []float32, k int, opts SearchOptions) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}

	timeout := o.cfg.DefaultSearchTimeout
	if opts.SearchTimeoutMs > 0 {
		timeout = time.Duration(opts.SearchTimeoutMs) * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	useHNSW := opts.useHNSW()
	cacheable := !opts.SkipCache && opts.Filter == nil && o.cache != nil
	var key string
	if cacheable {
		key = cacheKey(query, k, opts.Metric, opts.Filter != nil, useHNSW, opts.EfSearch, opts.PartitionIDs)
		if hit, ok := o.cache.get(key); ok {
			return hit, nil
		}
	}

	vopts := vstore.SearchOptions{Metric: opts.Metric, MismatchPenalty: opts.MismatchPenalty, Filter: opts.Filter}

	var hits []partition.SearchHit
	var err error
	if useHNSW {
		hits, err = o.mgr.FindNearestMixed(ctx, query, k, opts.EfSearch, vopts, opts.PartitionIDs)
	} else {
		hits, err = o.mgr.FindNearest(ctx, query, k, vopts)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, WrapError("FindNearest", ErrTimeout)
		}
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{ID: h.ID, Distance: h.Distance, PartitionID: h.PartitionID, IndexUsed: h.IndexUsed}
	}

	needsMetadata := opts.IncludeMetadata || (opts.Rerank && opts.RerankMethod == "weighted")
	needsVectors := opts.IncludeVectors || (opts.Rerank && opts.RerankMethod == "diversity")
	if needsMetadata || needsVectors {
		for i := range results {
			if needsMetadata {
				if md, ok := o.mgr.GetMetadata(results[i].ID); ok {
					results[i].Metadata = md
				}
			}
			if needsVectors {
				if v, _, ok := o.mgr.GetVector(results[i].ID); ok {
					results[i].Vector = v
				}
			}
		}
	}

	if opts.Rerank {
		results = o.rerank(query, results, k, opts)
	}

	if !opts.IncludeMetadata {
		for i := range results {
			results[i].Metadata = nil
		}
	}
	if !opts.IncludeVectors {
		for i := range results {
			results[i].Vector = nil
		}
	}

	if cacheable {
		o.cache.put(key, results)
	}
	return results, nil
}

func (o *Orchestrator) rerank(query []float32, results []SearchResult, k int, opts SearchOptions) []SearchResult {
	candidates := make([]rerank.Candidate, len(results))
	for i, r := range results {
		candidates[i] = rerank.Candidate{ID: r.ID, Vector: r.Vector, Distance: r.Distance, Metadata: r.Metadata}
	}

	var reranked []rerank.Candidate
	switch opts.RerankMethod {
	case "diversity":
		reranked = rerank.Diversity{Lambda: opts.RerankLambda, Metric: opts.Metric}.Rerank(query, candidates, k)
	case "weighted":
		reranked = rerank.Weighted{Weights: opts.RerankWeights}.Rerank(query, candidates, k)
	default:
		reranked = rerank.Standard{}.Rerank(query, candidates, k)
	}

	out := make([]SearchResult, len(reranked))
	byID := make(map[string]SearchResult, len(results))
	for _, r := range results {
		byID[r.ID.Key()] = r
	}
	for i, c := range reranked {
		orig := byID[c.ID.Key()]
		orig.Distance = c.Distance
		out[i] = orig
	}
	return out
}

// BatchQuery is one element of a BatchSearch call.
type BatchQuery struct {
	Query []float32
	K     int
	Opts  SearchOptions
}

// BatchResult is one BatchSearch output slot: either Results or Err is
// set, never both (spec §4.5 — a per-query failure yields an empty slot
// plus a recorded error, the batch as a whole does not fail).
type BatchResult struct {
	Results []SearchResult
	Err     error
}

// BatchSearch runs queries in chunks of at most Config.MaxBatchSize,
// executing each chunk's queries concurrently. Output preserves input
// ordering; a failing query occupies its slot with Err set rather than
// aborting the batch.
func (o *Orchestrator) BatchSearch(ctx context.Context, queries []BatchQuery) []BatchResult {
	out := make([]BatchResult, len(queries))
	chunkSize := o.cfg.MaxBatchSize
	if chunkSize <= 0 {
		chunkSize = len(queries)
	}
	if chunkSize <= 0 {
		return out
	}

	for start := 0; start < len(queries); start += chunkSize {
		end := start + chunkSize
		if end > len(queries) {
			end = len(queries)
		}
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results, err := o.FindNearest(gctx, queries[i].Query, queries[i].K, queries[i].Opts)
				if err != nil {
					out[i] = BatchResult{Err: err}
					return nil // per-query failures never fail the batch
				}
				out[i] = BatchResult{Results: results}
				return nil
			})
		}
		_ = g.Wait()
	}
	return out
}

// ExtractRelationships groups vectors across every known partition into
// connected components, linking each vector to its single nearest
// neighbor (the supplemented "extract_communities" operation).
func (o *Orchestrator) ExtractRelationships(ctx context.Context, opts SearchOptions) ([][]VectorID, error) {
	vopts := vstore.SearchOptions{Metric: opts.Metric, MismatchPenalty: opts.MismatchPenalty}
	return o.mgr.ExtractRelationships(ctx, vopts)
}
