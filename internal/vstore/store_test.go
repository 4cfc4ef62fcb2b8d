package vstore

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/vectorcore/engine/internal/distance"
	"github.com/vectorcore/engine/internal/types"
)

func TestBasicRoundTrip(t *testing.T) {
	// Scenario A from spec §8.
	s := New(DefaultConfig())
	ctx := context.Background()

	a := types.StringID("a")
	b := types.StringID("b")
	c := types.StringID("c")

	if _, err := s.Add(ctx, &a, []float32{1, 0, 0, 0}, types.Metadata{"tag": "t"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, &b, []float32{0, 1, 0, 0}, types.Metadata{"tag": "t"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, &c, []float32{0.9, 0.1, 0, 0}, types.Metadata{"tag": "t"}); err != nil {
		t.Fatal(err)
	}

	results := s.FindNearest([]float32{1, 0, 0, 0}, 2, SearchOptions{Metric: distance.Cosine})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].ID.Equal(a) || math.Abs(float64(results[0].Distance)) > 1e-6 {
		t.Fatalf("first result = %+v, want a at ~0", results[0])
	}
	if !results[1].ID.Equal(c) {
		t.Fatalf("second result = %+v, want c", results[1])
	}
	if math.Abs(float64(results[1].Distance)-0.00555) > 0.001 {
		t.Fatalf("second distance = %v, want ~0.00555", results[1].Distance)
	}
}

func TestGetAfterAddBitExact(t *testing.T) {
	s := New(DefaultConfig())
	ctx := context.Background()
	id := types.IntID(1)
	v := []float32{1.5, -2.25, 3.0}
	if _, err := s.Add(ctx, &id, v, nil); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Get(id)
	if !ok {
		t.Fatal("expected get to find id")
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("vector not bit-exact at %d: got %v want %v", i, got[i], v[i])
		}
	}
}

func TestUpdateMetadataEmptyPatchNoop(t *testing.T) {
	s := New(DefaultConfig())
	ctx := context.Background()
	id := types.IntID(1)
	s.Add(ctx, &id, []float32{1}, types.Metadata{"k": "v"})
	s.UpdateMetadata(ctx, id, types.Metadata{})
	md, _ := s.GetMetadata(id)
	if md["k"] != "v" {
		t.Fatalf("metadata changed after empty patch: %+v", md)
	}
}

func TestDeleteThenHasFalse(t *testing.T) {
	s := New(DefaultConfig())
	ctx := context.Background()
	id := types.IntID(1)
	s.Add(ctx, &id, []float32{1}, nil)
	if !s.Delete(ctx, id) {
		t.Fatal("first delete should succeed")
	}
	if s.Has(id) {
		t.Fatal("has should be false after delete")
	}
	if s.Delete(ctx, id) {
		t.Fatal("second delete should report false")
	}
}

func TestFindNearestKGreaterThanStoreSize(t *testing.T) {
	s := New(DefaultConfig())
	ctx := context.Background()
	id := types.IntID(1)
	s.Add(ctx, &id, []float32{1, 2}, nil)
	results := s.FindNearest([]float32{1, 2}, 10, SearchOptions{Metric: distance.Euclidean})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestAutoIntegerIDAllocation(t *testing.T) {
	s := New(DefaultConfig())
	ctx := context.Background()
	id1, _ := s.Add(ctx, nil, []float32{1}, nil)
	id2, _ := s.Add(ctx, nil, []float32{2}, nil)
	v1, _ := id1.Uint()
	v2, _ := id2.Uint()
	if v2 != v1+1 {
		t.Fatalf("expected sequential ids, got %d then %d", v1, v2)
	}
}

func TestSaveLoadBitExact(t *testing.T) {
	dir := t.TempDir()
	s := New(DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		id := types.IntID(uint64(i))
		vec := []float32{float32(i), float32(i) * 1.5, -float32(i)}
		s.Add(ctx, &id, vec, types.Metadata{"i": i})
	}

	if err := s.Save(dir, true); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != s.Len() {
		t.Fatalf("loaded %d records, want %d", loaded.Len(), s.Len())
	}
	for i := 0; i < 20; i++ {
		id := types.IntID(uint64(i))
		want, _ := s.Get(id)
		got, ok := loaded.Get(id)
		if !ok {
			t.Fatalf("id %d missing after load", i)
		}
		for j := range want {
			if want[j] != got[j] {
				t.Fatalf("vector %d element %d not bit-exact: %v != %v", i, j, want[j], got[j])
			}
		}
	}
}

func TestSaveTwiceByteIdentical(t *testing.T) {
	dir := t.TempDir()
	s := New(DefaultConfig())
	ctx := context.Background()
	id := types.IntID(1)
	s.Add(ctx, &id, []float32{1, 2, 3}, nil)

	if err := s.Save(dir, false); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(dir + "/vec.bin")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(dir, false); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(dir + "/vec.bin")
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatal("vec.bin differs across identical saves")
	}
}

func TestGetMetadataWithFieldCriteria(t *testing.T) {
	s := New(DefaultConfig())
	ctx := context.Background()
	id1 := types.IntID(1)
	id2 := types.IntID(2)
	s.Add(ctx, &id1, []float32{1}, types.Metadata{"category": "a", "score": 1})
	s.Add(ctx, &id2, []float32{2}, types.Metadata{"category": "b", "score": 2})

	entries := s.GetMetadataWithField(types.FieldCriteria{Equals: map[string]any{"category": "a"}}, 0)
	if len(entries) != 1 || !entries[0].ID.Equal(id1) {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestZeroVectorCosineDistanceIsOne(t *testing.T) {
	s := New(DefaultConfig())
	ctx := context.Background()
	zero := types.IntID(1)
	other := types.IntID(2)
	s.Add(ctx, &zero, []float32{0, 0, 0}, nil)
	s.Add(ctx, &other, []float32{1, 2, 3}, nil)

	results := s.FindNearest([]float32{1, 2, 3}, 2, SearchOptions{Metric: distance.Cosine})
	for _, r := range results {
		if r.ID.Equal(zero) && r.Distance != 1.0 {
			t.Fatalf("zero-vector distance = %v, want 1.0", r.Distance)
		}
	}
}
