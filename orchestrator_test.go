package vectorcore

import (
	"context"
	"testing"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Partition.VectorCapPerPartition = 1000
	orc, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return orc
}

func TestAddVectorThenGetVectorRoundTrips(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()

	id, err := orc.AddVector(ctx, AddRequest{Vector: []float32{1, 2, 3, 4}, Metadata: Metadata{"tag": "t"}})
	if err != nil {
		t.Fatal(err)
	}

	v, ok := orc.GetVector(id)
	if !ok {
		t.Fatal("expected vector to be found")
	}
	if len(v) != 4 || v[0] != 1 || v[3] != 4 {
		t.Fatalf("got %v, want [1 2 3 4]", v)
	}

	md, ok := orc.GetMetadata(id)
	if !ok || md["tag"] != "t" {
		t.Fatalf("got metadata %v", md)
	}
}

func TestFindNearestReturnsClosestFirst(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()

	aID := IntID(1)
	bID := IntID(2)
	cID := IntID(3)
	if _, err := orc.AddVector(ctx, AddRequest{ID: &aID, Vector: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := orc.AddVector(ctx, AddRequest{ID: &bID, Vector: []float32{0, 1, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := orc.AddVector(ctx, AddRequest{ID: &cID, Vector: []float32{0.9, 0.1, 0, 0}}); err != nil {
		t.Fatal(err)
	}

	results, err := orc.FindNearest(ctx, []float32{1, 0, 0, 0}, 2, SearchOptions{Metric: Cosine})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].ID.Equal(aID) {
		t.Fatalf("expected nearest id first, got %v", results[0].ID)
	}
	if results[1].ID.Equal(bID) {
		t.Fatal("expected c (0.9,0.1) to rank ahead of b (0,1) under cosine distance to (1,0,0,0)")
	}
}

func TestFindNearestCacheHitReturnsIndependentCopy(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()

	id := IntID(1)
	if _, err := orc.AddVector(ctx, AddRequest{ID: &id, Vector: []float32{1, 0}, Metadata: Metadata{"k": "v"}}); err != nil {
		t.Fatal(err)
	}

	opts := SearchOptions{IncludeMetadata: true}
	first, err := orc.FindNearest(ctx, []float32{1, 0}, 1, opts)
	if err != nil {
		t.Fatal(err)
	}
	first[0].Metadata["k"] = "mutated"

	second, err := orc.FindNearest(ctx, []float32{1, 0}, 1, opts)
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Metadata["k"] != "v" {
		t.Fatal("cache hit must return a deep copy, not alias a previously returned result")
	}
}

func TestFindNearestSkipCacheBypassesCache(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()
	id := IntID(1)
	if _, err := orc.AddVector(ctx, AddRequest{ID: &id, Vector: []float32{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := orc.FindNearest(ctx, []float32{1, 0}, 1, SearchOptions{SkipCache: true}); err != nil {
		t.Fatal(err)
	}
	key := cacheKey([]float32{1, 0}, 1, Euclidean, false, true, 0, nil)
	if _, ok := orc.cache.get(key); ok {
		t.Fatal("SkipCache must bypass the result cache entirely")
	}
}

func TestDeleteVectorRemovesIt(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()
	id := IntID(1)
	if _, err := orc.AddVector(ctx, AddRequest{ID: &id, Vector: []float32{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if !orc.DeleteVector(ctx, id) {
		t.Fatal("expected delete to succeed")
	}
	if orc.HasVector(id) {
		t.Fatal("expected vector to be gone")
	}
}

func TestUpdateMetadataEmptyPatchLeavesUnchanged(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()
	id := IntID(1)
	if _, err := orc.AddVector(ctx, AddRequest{ID: &id, Vector: []float32{1, 0}, Metadata: Metadata{"a": 1}}); err != nil {
		t.Fatal(err)
	}
	if !orc.UpdateMetadata(ctx, id, Metadata{}) {
		t.Fatal("expected update to succeed even with an empty patch")
	}
	md, _ := orc.GetMetadata(id)
	if md["a"] != 1 {
		t.Fatalf("expected metadata unchanged, got %v", md)
	}
}

func TestFindNearestWithKGreaterThanStoreReturnsAll(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := IntID(uint64(i))
		if _, err := orc.AddVector(ctx, AddRequest{ID: &id, Vector: []float32{float32(i), 0}}); err != nil {
			t.Fatal(err)
		}
	}
	results, err := orc.FindNearest(ctx, []float32{0, 0}, 10, SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d, want 3", len(results))
	}
}

func TestBatchSearchPreservesOrderAndIsolatesFailures(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id := IntID(uint64(i))
		if _, err := orc.AddVector(ctx, AddRequest{ID: &id, Vector: []float32{float32(i), 0}}); err != nil {
			t.Fatal(err)
		}
	}

	queries := []BatchQuery{
		{Query: []float32{0, 0}, K: 1},
		{Query: []float32{4, 0}, K: 1},
		{Query: nil, K: 0}, // degenerate but must not crash the batch
	}
	out := orc.BatchSearch(ctx, queries)
	if len(out) != 3 {
		t.Fatalf("got %d slots, want 3", len(out))
	}
	if out[0].Err != nil && len(out[0].Results) == 0 {
		t.Fatalf("expected first query to succeed, got err %v", out[0].Err)
	}
	if out[1].Err != nil && len(out[1].Results) == 0 {
		t.Fatalf("expected second query to succeed, got err %v", out[1].Err)
	}
	if len(out[0].Results) != 1 || !out[0].Results[0].ID.Equal(IntID(0)) {
		t.Fatalf("slot 0 should hold query 0's answer (id 0), got %+v", out[0].Results)
	}
	if len(out[1].Results) != 1 || !out[1].Results[0].ID.Equal(IntID(4)) {
		t.Fatalf("slot 1 should hold query 1's answer (id 4), got %+v", out[1].Results)
	}
}

func TestGetStatsReportsPartitionsAndVectors(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		id := IntID(uint64(i))
		if _, err := orc.AddVector(ctx, AddRequest{ID: &id, Vector: []float32{float32(i)}}); err != nil {
			t.Fatal(err)
		}
	}
	stats := orc.GetStats()
	if stats.Partitions.TotalConfigured < 1 {
		t.Fatal("expected at least one configured partition")
	}
	if stats.Vectors.TotalConfigured != 4 {
		t.Fatalf("got %d vectors, want 4", stats.Vectors.TotalConfigured)
	}
}

func TestBuildIndexesThenFindNearestUsesHNSW(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		id := IntID(uint64(i))
		if _, err := orc.AddVector(ctx, AddRequest{ID: &id, Vector: []float32{float32(i), 0}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := orc.BuildIndexes(); err != nil {
		t.Fatal(err)
	}
	results, err := orc.FindNearest(ctx, []float32{0, 0}, 3, SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d, want 3", len(results))
	}
	found := false
	for _, r := range results {
		if r.IndexUsed == "hnsw" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected at least one hit to be stamped index_used=hnsw after BuildIndexes")
	}
}

func TestFindNearestRerankDiversitySelectsNearestFirst(t *testing.T) {
	orc := newTestOrchestrator(t)
	ctx := context.Background()
	a := IntID(1)
	b := IntID(2)
	c := IntID(3)
	if _, err := orc.AddVector(ctx, AddRequest{ID: &a, Vector: []float32{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := orc.AddVector(ctx, AddRequest{ID: &b, Vector: []float32{1.01, 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := orc.AddVector(ctx, AddRequest{ID: &c, Vector: []float32{0, 5}}); err != nil {
		t.Fatal(err)
	}

	results, err := orc.FindNearest(ctx, []float32{0, 0}, 2, SearchOptions{
		Rerank: true, RerankMethod: "diversity", RerankLambda: 0.1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || !results[0].ID.Equal(a) {
		t.Fatalf("expected nearest first, got %+v", results)
	}
}

func TestSaveCloseThenReopenPreservesVectors(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	orc, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	id := IntID(42)
	if _, err := orc.AddVector(ctx, AddRequest{ID: &id, Vector: []float32{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}
	if err := orc.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	v, ok := reopened.GetVector(id)
	if !ok {
		t.Fatal("expected vector to survive save/reopen")
	}
	if len(v) != 3 || v[0] != 1 || v[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", v)
	}
}
