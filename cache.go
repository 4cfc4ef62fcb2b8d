package vectorcore

import (
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vectorcore/engine/internal/distance"
)

// resultCache is the bounded LRU result cache described in spec §4.5,
// grounded on Aman-CERP-amanmcp's internal/embed/cached.go use of
// lru.Cache[K,V]. Keys are a fingerprint of (quantized query, k, metric,
// filter presence, partition set, search path); a cache hit returns a
// deep copy so a caller mutating its result slice can never corrupt the
// cached entry.
type resultCache struct {
	cache *lru.Cache[string, []SearchResult]
}

func newResultCache(size int) (*resultCache, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, []SearchResult](size)
	if err != nil {
		return nil, WrapError("newResultCache", err)
	}
	return &resultCache{cache: c}, nil
}

func (rc *resultCache) get(key string) ([]SearchResult, bool) {
	if rc == nil {
		return nil, false
	}
	v, ok := rc.cache.Get(key)
	if !ok {
		return nil, false
	}
	return cloneResults(v), true
}

func (rc *resultCache) put(key string, results []SearchResult) {
	if rc == nil {
		return
	}
	rc.cache.Add(key, cloneResults(results))
}

func cloneResults(in []SearchResult) []SearchResult {
	out := make([]SearchResult, len(in))
	copy(out, in)
	for i := range out {
		if out[i].Metadata != nil {
			out[i].Metadata = out[i].Metadata.Clone()
		}
		if out[i].Vector != nil {
			v := make([]float32, len(out[i].Vector))
			copy(v, out[i].Vector)
			out[i].Vector = v
		}
	}
	return out
}

// quantizeComponent rounds a query component to 3 decimal digits so
// near-identical float32 queries (e.g. re-marshaled through JSON) hash
// to the same cache key — the "quantized_query_fingerprint" from §4.5.
func quantizeComponent(f float32) float64 {
	return math.Round(float64(f)*1000) / 1000
}

// cacheKey composes the fingerprint spec §4.5 calls for: the quantized
// query, k, metric, whether a filter is in play, the search path, and
// the sorted partition set (order-independent, so restricting to the
// same partitions in a different slice order still hits).
func cacheKey(query []float32, k int, metric distance.Metric, hasFilter, useHNSW bool, ef int, partitionIDs []string) string {
	var b strings.Builder
	for _, f := range query {
		b.WriteString(strconv.FormatFloat(quantizeComponent(f), 'f', 3, 64))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(k))
	b.WriteByte('|')
	b.WriteString(metric.String())
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(hasFilter))
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(useHNSW))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(ef))
	b.WriteByte('|')

	sorted := append([]string(nil), partitionIDs...)
	sort.Strings(sorted)
	for _, id := range sorted {
		b.WriteString(id)
		b.WriteByte(',')
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(b.String()))
	return strconv.FormatUint(h.Sum64(), 16)
}
