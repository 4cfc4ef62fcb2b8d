package hnsw

import (
	"container/heap"
	"fmt"

	"github.com/vectorcore/engine/internal/types"
)

// heapItem is one candidate in a distance priority queue.
type heapItem struct {
	key  string
	dist float32
}

// minHeap keeps the smallest distance at the root.
type minHeap []*heapItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(*heapItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap keeps the largest distance at the root (its Less compares with
// >), used as the bounded "best candidates so far" set during search.
type maxHeap []*heapItem

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)         { *h = append(*h, x.(*heapItem)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Build resets the index and inserts every (id, vector) pair from
// scratch, transitioning Empty/Stale -> Building -> Ready. Grounded on
// the teacher's incremental HNSW.Insert, called once per vector here to
// produce a from-scratch graph (spec §4.3's "full rebuild" operation).
func (idx *Index) Build(ids []types.VectorID, vectors [][]float32) error {
	idx.mu.Lock()
	idx.nodes = make(map[string]*node)
	idx.order = nil
	idx.entryPoint = ""
	idx.topLevel = -1
	idx.tombstones = 0
	idx.state = Building
	idx.mu.Unlock()

	for i, id := range ids {
		if err := idx.Insert(id, vectors[i]); err != nil {
			return err
		}
	}

	idx.mu.Lock()
	idx.state = Ready
	idx.mu.Unlock()
	if idx.cfg.Bus != nil {
		idx.cfg.Bus.Publish(types.TopicIndexRebuilt, map[string]any{"size": len(ids)})
	}
	return nil
}

// Insert adds one vector to the graph, following the teacher's
// HNSW.Insert: sample a level, descend greedily from the current entry
// point down to the sampled level, then at each layer from the lower of
// the sampled level and the entry point's level down to 0 run a bounded
// search and select diverse neighbors. Layers above the entry point's
// level start with no neighbors.
func (idx *Index) Insert(id types.VectorID, vector []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := id.Key()
	if _, exists := idx.nodes[key]; exists {
		return types.WrapError("insert", fmt.Errorf("%w: id already present", types.ErrAlreadyExists))
	}

	level := idx.selectLevel()
	nd := &node{id: id, vector: append([]float32(nil), vector...), level: level, neighbors: make([][]string, level+1)}
	for i := range nd.neighbors {
		nd.neighbors[i] = []string{}
	}
	idx.nodes[key] = nd
	idx.order = append(idx.order, key)

	if idx.entryPoint == "" {
		idx.entryPoint = key
		idx.topLevel = level
		if idx.state == Empty {
			idx.state = Ready
		}
		return nil
	}

	df := idx.distFunc()
	currNearest := []string{idx.entryPoint}
	entryLevel := idx.nodes[idx.entryPoint].level

	for lc := entryLevel; lc > level; lc-- {
		currNearest = idx.searchLayerClosest(vector, currNearest, 1, lc, df)
	}

	for lc := min(level, entryLevel); lc >= 0; lc-- {
		m := idx.cfg.M
		if lc == 0 {
			m = idx.mMax0
		}

		candidates := idx.searchLayer(vector, currNearest, idx.cfg.EfConstruction, lc, df)
		neighbors := idx.selectNeighborsHeuristic(vector, candidates, m, df)

		nd.neighbors[lc] = neighbors
		for _, nbKey := range neighbors {
			idx.addConnection(nbKey, key, lc)
			idx.pruneIfOverflowing(nbKey, lc, df)
		}
		currNearest = neighbors
	}

	if level > entryLevel {
		idx.entryPoint = key
		idx.topLevel = level
	}
	return nil
}

// pruneIfOverflowing re-selects nbKey's neighbor set at layer lc via the
// diversity heuristic when it exceeds the layer's degree cap
// (M at l>0, 2M at l=0 — spec §4.3's M_max(l) invariant).
func (idx *Index) pruneIfOverflowing(nbKey string, lc int, df func(a, b []float32) float32) {
	nb, ok := idx.nodes[nbKey]
	if !ok || lc >= len(nb.neighbors) {
		return
	}
	maxConn := idx.cfg.M
	if lc == 0 {
		maxConn = idx.mMax0
	}
	if len(nb.neighbors[lc]) <= maxConn {
		return
	}
	nbVec := idx.vectorOf(nb)
	if nbVec == nil {
		return
	}
	nb.neighbors[lc] = idx.selectNeighborsHeuristic(nbVec, nb.neighbors[lc], maxConn, df)
}

func (idx *Index) addConnection(from, to string, layer int) {
	nd, ok := idx.nodes[from]
	if !ok || layer >= len(nd.neighbors) {
		return
	}
	for _, nb := range nd.neighbors[layer] {
		if nb == to {
			return
		}
	}
	nd.neighbors[layer] = append(nd.neighbors[layer], to)
}

// searchLayer performs the bounded best-first search described in spec
// §4.3: a candidate frontier (min-heap) expands neighbors while a
// bounded "found" set (max-heap, capped at ef) tracks the best
// candidates seen, pruning the frontier once its lower bound exceeds the
// worst accepted distance.
func (idx *Index) searchLayer(query []float32, entryPoints []string, ef, layer int, df func(a, b []float32) float32) []string {
	visited := make(map[string]bool, ef*2)
	candidates := &minHeap{}
	found := &maxHeap{}

	for _, key := range entryPoints {
		nd, ok := idx.nodes[key]
		if !ok {
			continue
		}
		d := df(query, idx.vectorOf(nd))
		heap.Push(candidates, &heapItem{key: key, dist: d})
		heap.Push(found, &heapItem{key: key, dist: d})
		visited[key] = true
	}

	for candidates.Len() > 0 {
		nearest := (*candidates)[0]
		if found.Len() > 0 && nearest.dist > (*found)[0].dist {
			break
		}
		current := heap.Pop(candidates).(*heapItem)
		currentNode, ok := idx.nodes[current.key]
		if !ok || layer >= len(currentNode.neighbors) {
			continue
		}

		for _, nbKey := range currentNode.neighbors[layer] {
			if visited[nbKey] {
				continue
			}
			visited[nbKey] = true
			nb, ok := idx.nodes[nbKey]
			if !ok {
				continue
			}
			d := df(query, idx.vectorOf(nb))
			if found.Len() < ef || d < (*found)[0].dist {
				heap.Push(candidates, &heapItem{key: nbKey, dist: d})
				heap.Push(found, &heapItem{key: nbKey, dist: d})
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}

	result := make([]string, found.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(found).(*heapItem).key
	}
	return result
}

func (idx *Index) searchLayerClosest(query []float32, entryPoints []string, num, layer int, df func(a, b []float32) float32) []string {
	candidates := idx.searchLayer(query, entryPoints, num, layer, df)
	if len(candidates) > num {
		return candidates[:num]
	}
	return candidates
}

// selectNeighborsHeuristic keeps the m candidates closest to query,
// which doubles as the diversity-preserving heuristic's simple form:
// ties toward nearer, already-connected points are naturally favored
// since candidates come from a bounded-ef search over the existing
// graph (teacher's selectNeighborsHeuristic in pkg/index/hnsw.go).
func (idx *Index) selectNeighborsHeuristic(query []float32, candidates []string, m int, df func(a, b []float32) float32) []string {
	if len(candidates) <= m {
		return candidates
	}
	type pair struct {
		key  string
		dist float32
	}
	pairs := make([]pair, len(candidates))
	for i, c := range candidates {
		nd, ok := idx.nodes[c]
		d := float32(0)
		if ok {
			d = df(query, idx.vectorOf(nd))
		}
		pairs[i] = pair{key: c, dist: d}
	}
	for i := 0; i < len(pairs)-1; i++ {
		for j := i + 1; j < len(pairs); j++ {
			if pairs[j].dist < pairs[i].dist {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
	}
	out := make([]string, m)
	for i := 0; i < m; i++ {
		out[i] = pairs[i].key
	}
	return out
}

// Result is one ranked hit.
type Result struct {
	ID       types.VectorID
	Distance float32
}

// Search runs approximate k-NN: greedy single-best descent through every
// layer above 0, then a bounded search at layer 0 with the given ef,
// finally filtering out tombstoned nodes without letting them break
// graph connectivity during the walk (spec §4.3).
func (idx *Index) Search(query []float32, k, ef int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.state == Empty || idx.entryPoint == "" {
		return nil, types.WrapError("search", types.ErrIndexEmpty)
	}
	if idx.state == Building {
		return nil, types.WrapError("search", types.ErrIndexStale)
	}
	if ef <= 0 {
		ef = idx.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	df := idx.distFunc()
	currNearest := []string{idx.entryPoint}
	entryLevel := idx.nodes[idx.entryPoint].level
	for lc := entryLevel; lc > 0; lc-- {
		currNearest = idx.searchLayerClosest(query, currNearest, 1, lc, df)
	}

	candidates := idx.searchLayer(query, currNearest, ef, 0, df)

	type ranked struct {
		id   types.VectorID
		dist float32
	}
	results := make([]ranked, 0, len(candidates))
	for _, key := range candidates {
		nd, ok := idx.nodes[key]
		if !ok || nd.deleted {
			continue
		}
		results = append(results, ranked{id: nd.id, dist: df(query, idx.vectorOf(nd))})
	}
	for i := 0; i < len(results)-1; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].dist < results[i].dist {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if k > len(results) {
		k = len(results)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{ID: results[i].id, Distance: results[i].dist}
	}
	return out, nil
}

// Delete soft-deletes id (tombstone), promoting a new entry point if
// necessary and flipping the index to Stale once the tombstone fraction
// crosses AutoRebuildThreshold.
func (idx *Index) Delete(id types.VectorID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := id.Key()
	nd, ok := idx.nodes[key]
	if !ok || nd.deleted {
		return false
	}
	nd.deleted = true
	idx.tombstones++

	if idx.entryPoint == key {
		idx.entryPoint = ""
		for _, k := range idx.order {
			if n := idx.nodes[k]; n != nil && !n.deleted {
				idx.entryPoint = k
				idx.topLevel = n.level
				break
			}
		}
	}

	if idx.tombstoneFractionLocked() > float64(idx.cfg.AutoRebuildThreshold) {
		idx.state = Stale
		if idx.cfg.Bus != nil {
			idx.cfg.Bus.Publish(types.TopicIndexStale, map[string]any{"tombstones": idx.tombstones})
		}
	}
	return true
}

// Snapshot returns every non-deleted (id, vector) pair, for rebuilding.
func (idx *Index) Snapshot() ([]types.VectorID, [][]float32) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]types.VectorID, 0, len(idx.order))
	vecs := make([][]float32, 0, len(idx.order))
	for _, key := range idx.order {
		nd := idx.nodes[key]
		if nd.deleted {
			continue
		}
		ids = append(ids, nd.id)
		vecs = append(vecs, idx.vectorOf(nd))
	}
	return ids, vecs
}
