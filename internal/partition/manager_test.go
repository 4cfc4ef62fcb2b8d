package partition

import (
	"context"
	"testing"

	"github.com/vectorcore/engine/internal/distance"
	"github.com/vectorcore/engine/internal/types"
	"github.com/vectorcore/engine/internal/vstore"
)

func testConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.BaseDir = dir
	cfg.VectorCapPerPartition = 5
	cfg.MaxLoadedPartitions = 4
	return cfg
}

func TestAddAutoCreatesPartitionOnOverflow(t *testing.T) {
	dir := t.TempDir()
	m, err := New(testConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var lastPartition string
	for i := 0; i < 12; i++ {
		id := types.IntID(uint64(i))
		r, err := m.Add(ctx, &id, []float32{float32(i)}, nil)
		if err != nil {
			t.Fatal(err)
		}
		lastPartition = r.PartitionID
	}

	if len(m.PartitionIDs()) < 2 {
		t.Fatalf("expected overflow to create additional partitions, got %d", len(m.PartitionIDs()))
	}
	if lastPartition == "" {
		t.Fatal("expected a partition id")
	}
}

func TestFindNearestFansOutAcrossPartitions(t *testing.T) {
	dir := t.TempDir()
	m, err := New(testConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id := types.IntID(uint64(i))
		if _, err := m.Add(ctx, &id, []float32{float32(i), 0}, nil); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := m.FindNearest(ctx, []float32{10, 0}, 3, vstore.SearchOptions{Metric: distance.Euclidean})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	if hits[0].PartitionID == "" {
		t.Fatal("expected hit to be stamped with a partition id")
	}
}

func TestBuildHNSWEnablesCapability(t *testing.T) {
	dir := t.TempDir()
	m, err := New(testConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	pid, err := m.CreatePartition()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetActive(pid); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		id := types.IntID(uint64(i))
		if _, err := m.Add(ctx, &id, []float32{float32(i), 1}, nil); err != nil {
			t.Fatal(err)
		}
	}

	info, err := m.PartitionInfo(pid)
	if err != nil {
		t.Fatal(err)
	}
	if info.Capability.HasHNSWSearch {
		t.Fatal("expected no HNSW capability before BuildHNSW")
	}

	if err := m.BuildHNSW(pid); err != nil {
		t.Fatal(err)
	}
	info, err = m.PartitionInfo(pid)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Capability.HasHNSWSearch {
		t.Fatal("expected HNSW capability after BuildHNSW")
	}
}

func TestSaveOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := New(testConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := types.IntID(uint64(i))
		if _, err := m.Add(ctx, &id, []float32{float32(i)}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(testConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	if len(reopened.PartitionIDs()) != len(m.PartitionIDs()) {
		t.Fatalf("reopened %d partitions, want %d", len(reopened.PartitionIDs()), len(m.PartitionIDs()))
	}
	size, err := reopened.PartitionSize(reopened.PartitionIDs()[0])
	if err != nil {
		t.Fatal(err)
	}
	if size != 3 {
		t.Fatalf("reopened partition size = %d, want 3", size)
	}
}
