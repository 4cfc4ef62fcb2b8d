package rerank

import (
	"testing"

	"github.com/vectorcore/engine/internal/distance"
	"github.com/vectorcore/engine/internal/types"
)

func TestStandardTruncatesToK(t *testing.T) {
	candidates := []Candidate{
		{ID: types.IntID(1), Distance: 0.1},
		{ID: types.IntID(2), Distance: 0.2},
		{ID: types.IntID(3), Distance: 0.3},
	}
	out := Standard{}.Rerank(nil, candidates, 2)
	if len(out) != 2 {
		t.Fatalf("got %d, want 2", len(out))
	}
	if out[0].ID != candidates[0].ID || out[1].ID != candidates[1].ID {
		t.Fatal("expected order preserved")
	}
}

func TestStandardKLargerThanLenReturnsAll(t *testing.T) {
	candidates := []Candidate{{ID: types.IntID(1)}, {ID: types.IntID(2)}}
	out := Standard{}.Rerank(nil, candidates, 10)
	if len(out) != 2 {
		t.Fatalf("got %d, want 2", len(out))
	}
}

func TestStandardDoesNotMutateInput(t *testing.T) {
	candidates := []Candidate{{ID: types.IntID(1)}, {ID: types.IntID(2)}, {ID: types.IntID(3)}}
	out := Standard{}.Rerank(nil, candidates, 1)
	out[0].ID = types.IntID(99)
	if candidates[0].ID != types.IntID(1) {
		t.Fatal("Standard.Rerank must return a copy, not alias the input slice")
	}
}

func TestDiversityFirstPickIsNearestToQuery(t *testing.T) {
	query := []float32{0, 0}
	candidates := []Candidate{
		{ID: types.IntID(1), Vector: []float32{5, 0}, Distance: 5},
		{ID: types.IntID(2), Vector: []float32{1, 0}, Distance: 1},
		{ID: types.IntID(3), Vector: []float32{1, 1}, Distance: 1.4},
	}
	d := Diversity{Lambda: 0.5, Metric: distance.Euclidean}
	out := d.Rerank(query, candidates, 2)
	if len(out) != 2 {
		t.Fatalf("got %d, want 2", len(out))
	}
	if out[0].ID != types.IntID(2) {
		t.Fatalf("expected nearest candidate first, got %v", out[0].ID)
	}
}

func TestDiversitySkipsCandidatesWithNilVector(t *testing.T) {
	query := []float32{0, 0}
	candidates := []Candidate{
		{ID: types.IntID(1), Vector: nil, Distance: 0.01},
		{ID: types.IntID(2), Vector: []float32{1, 0}, Distance: 1},
		{ID: types.IntID(3), Vector: []float32{2, 0}, Distance: 2},
	}
	d := Diversity{Lambda: 0.5, Metric: distance.Euclidean}
	out := d.Rerank(query, candidates, 3)
	if len(out) != 2 {
		t.Fatalf("got %d, want 2 (nil-vector candidate must be excluded)", len(out))
	}
	for _, c := range out {
		if c.ID == types.IntID(1) {
			t.Fatal("candidate with nil vector must never be selected")
		}
	}
}

func TestDiversityPrefersDistinctOverSecondNearest(t *testing.T) {
	query := []float32{0, 0}
	candidates := []Candidate{
		{ID: types.IntID(1), Vector: []float32{1, 0}, Distance: 1},
		{ID: types.IntID(2), Vector: []float32{1.01, 0}, Distance: 1.01},
		{ID: types.IntID(3), Vector: []float32{0, 5}, Distance: 5},
	}
	d := Diversity{Lambda: 0.1, Metric: distance.Euclidean}
	out := d.Rerank(query, candidates, 2)
	if out[0].ID != types.IntID(1) {
		t.Fatalf("expected nearest first, got %v", out[0].ID)
	}
	if out[1].ID != types.IntID(3) {
		t.Fatalf("expected diverse pick second with low lambda, got %v", out[1].ID)
	}
}

func TestDiversityEmptyPoolReturnsNil(t *testing.T) {
	d := Diversity{Lambda: 0.5, Metric: distance.Euclidean}
	out := d.Rerank([]float32{0, 0}, nil, 3)
	if out != nil {
		t.Fatalf("expected nil, got %v", out)
	}
}

func TestWeightedSubtractsWeightedMetadata(t *testing.T) {
	candidates := []Candidate{
		{ID: types.IntID(1), Distance: 1.0, Metadata: types.Metadata{"popularity": float64(2)}},
		{ID: types.IntID(2), Distance: 1.0, Metadata: types.Metadata{"popularity": float64(0)}},
	}
	w := Weighted{Weights: map[string]float32{"popularity": 0.5}}
	out := w.Rerank(nil, candidates, 2)
	if out[0].ID != types.IntID(1) {
		t.Fatalf("expected higher-popularity candidate to rank first, got %v", out[0].ID)
	}
}

func TestWeightedIgnoresMissingOrNonNumericField(t *testing.T) {
	candidates := []Candidate{
		{ID: types.IntID(1), Distance: 0.5, Metadata: types.Metadata{"tag": "a"}},
		{ID: types.IntID(2), Distance: 0.2, Metadata: nil},
	}
	w := Weighted{Weights: map[string]float32{"popularity": 10}}
	out := w.Rerank(nil, candidates, 2)
	if len(out) != 2 {
		t.Fatalf("got %d, want 2", len(out))
	}
	if out[0].ID != types.IntID(2) {
		t.Fatalf("expected raw distance order preserved when field absent, got %v", out[0].ID)
	}
}

func TestWeightedStableSortTieBreaksByInputOrder(t *testing.T) {
	candidates := []Candidate{
		{ID: types.IntID(1), Distance: 1.0},
		{ID: types.IntID(2), Distance: 1.0},
		{ID: types.IntID(3), Distance: 1.0},
	}
	w := Weighted{Weights: map[string]float32{}}
	out := w.Rerank(nil, candidates, 3)
	if out[0].ID != types.IntID(1) || out[1].ID != types.IntID(2) || out[2].ID != types.IntID(3) {
		t.Fatal("expected stable sort to preserve input order on ties")
	}
}

func TestFuncAdapterInvokesUnderlyingFunction(t *testing.T) {
	called := false
	var r Reranker = Func(func(_ []float32, candidates []Candidate, k int) []Candidate {
		called = true
		return candidates
	})
	r.Rerank(nil, []Candidate{{ID: types.IntID(1)}}, 1)
	if !called {
		t.Fatal("expected underlying function to be invoked")
	}
}
