package types

import (
	"errors"
	"fmt"
)

// Sentinel errors, checked with errors.Is against the kinds in spec §7.
var (
	// ErrNotFound is returned when an id or partition is missing.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks a non-fatal overwrite of an existing id.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDimensionMismatch is returned when a distance metric cannot apply
	// to two vectors of different length (e.g. cosine).
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrCorruption is returned when on-disk state fails its invariants:
	// unknown meta version, offsets out of bounds, or a truncated blob.
	ErrCorruption = errors.New("corrupted partition state")

	// ErrIOFailure is returned when a disk operation fails transiently.
	ErrIOFailure = errors.New("io failure")

	// ErrIndexStale marks a structurally valid HNSW graph whose backing
	// store has changed since it was built. Non-fatal: callers fall back.
	ErrIndexStale = errors.New("index stale")

	// ErrIndexEmpty marks an HNSW graph with no entry point yet.
	ErrIndexEmpty = errors.New("index empty")

	// ErrTimeout is surfaced at the top-level search call on expiry.
	ErrTimeout = errors.New("search timed out")

	// ErrBadRequest marks malformed input rejected at the API boundary.
	ErrBadRequest = errors.New("bad request")

	// ErrStoreClosed is returned when a closed store or manager is used.
	ErrStoreClosed = errors.New("store is closed")
)

// StoreError wraps an error with the operation that produced it, so
// log lines and errors.Is both carry useful context.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("vectorcore: %v", e.Err)
	}
	return fmt.Sprintf("vectorcore: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return errors.Is(e.Err, target) }

// WrapError wraps err with an operation name. Returns nil if err is nil.
// Sibling internal packages use this rather than duplicating the type so
// that errors.Is works uniformly across package boundaries.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
