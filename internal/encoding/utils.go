// Package encoding implements the raw little-endian float32 wire format
// used by vec.bin (spec §6): the concatenation, in declaration order, of
// each vector's raw IEEE-754 float32 values with no length prefix — the
// length lives in meta.json's per-vector "dim"/"length" fields instead.
package encoding

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrInvalidVector is returned when a vector slice is malformed.
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector appends vector's raw little-endian float32 bytes to dst and
// returns the extended slice (dst may be nil).
func EncodeVector(dst []byte, vector []float32) []byte {
	buf := make([]byte, 4)
	for _, f := range vector {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
		dst = append(dst, buf...)
	}
	return dst
}

// DecodeVector reads dim float32 values starting at data[:dim*4].
// Returns ErrInvalidVector if data is shorter than dim*4 bytes (the
// "vector slice shorter than dim·4 bytes" corruption case in spec §4.1).
func DecodeVector(data []byte, dim int) ([]float32, error) {
	need := dim * 4
	if dim < 0 || len(data) < need {
		return nil, ErrInvalidVector
	}
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// ValidateVector rejects NaN and Inf components, which would silently
// corrupt distance computations and serialize as garbage.
func ValidateVector(vector []float32) error {
	if vector == nil {
		return ErrInvalidVector
	}
	for _, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
