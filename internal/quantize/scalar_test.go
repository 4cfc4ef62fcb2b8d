package quantize

import (
	"math"
	"testing"
)

func TestScalar8EncodeDecodeApproximates(t *testing.T) {
	vectors := [][]float32{
		{0, 0, 0},
		{1, 2, 3},
		{-1, 5, 10},
	}
	q := NewScalar8(3)
	if err := q.Train(vectors); err != nil {
		t.Fatal(err)
	}

	for _, v := range vectors {
		enc, err := q.Encode(v)
		if err != nil {
			t.Fatal(err)
		}
		if len(enc) != 3 {
			t.Fatalf("encoded length = %d, want 3", len(enc))
		}
		dec, err := q.Decode(enc)
		if err != nil {
			t.Fatal(err)
		}
		for i := range v {
			if math.Abs(float64(dec[i]-v[i])) > 0.2 {
				t.Fatalf("component %d: decoded %v too far from original %v", i, dec[i], v[i])
			}
		}
	}
}

func TestScalar8NotTrainedErrors(t *testing.T) {
	q := NewScalar8(2)
	if _, err := q.Encode([]float32{1, 2}); err != ErrNotTrained {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
}

func TestScalar8RangesRoundTrip(t *testing.T) {
	q := NewScalar8(2)
	if err := q.Train([][]float32{{0, 10}, {5, 20}}); err != nil {
		t.Fatal(err)
	}
	blob := q.MarshalRanges()
	restored, err := UnmarshalRanges(blob)
	if err != nil {
		t.Fatal(err)
	}
	enc, _ := q.Encode([]float32{2.5, 15})
	dec, err := restored.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(dec[0]-2.5)) > 0.2 || math.Abs(float64(dec[1]-15)) > 0.2 {
		t.Fatalf("restored quantizer decode mismatch: %v", dec)
	}
}
