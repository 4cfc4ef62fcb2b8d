package vectorcore

import (
	"io"

	"github.com/vectorcore/engine/internal/distance"
	"github.com/vectorcore/engine/internal/types"
)

// These aliases re-export the shared vocabulary (ids, metadata, logging,
// errors, events) that every internal layer builds on, so callers only
// ever import the root package.
type (
	VectorID      = types.VectorID
	Metadata      = types.Metadata
	FieldCriteria = types.FieldCriteria
	Filter        = types.Filter
	Logger        = types.Logger
	LogLevel      = types.LogLevel
	StoreError    = types.StoreError
	Topic         = types.Topic
	Event         = types.Event
	EventBus      = types.EventBus
	Metric        = distance.Metric
)

const (
	Euclidean        = distance.Euclidean
	SquaredEuclidean = distance.SquaredEuclidean
	Cosine           = distance.Cosine
	Manhattan        = distance.Manhattan
	Chebyshev        = distance.Chebyshev
	InnerProduct     = distance.InnerProduct
	Hamming          = distance.Hamming
)

const (
	LevelDebug = types.LevelDebug
	LevelInfo  = types.LevelInfo
	LevelWarn  = types.LevelWarn
	LevelError = types.LevelError
)

const (
	TopicVectorAdd         = types.TopicVectorAdd
	TopicVectorsBulkAdd    = types.TopicVectorsBulkAdd
	TopicVectorDelete      = types.TopicVectorDelete
	TopicMetadataUpdate    = types.TopicMetadataUpdate
	TopicPartitionCreated  = types.TopicPartitionCreated
	TopicPartitionLoaded   = types.TopicPartitionLoaded
	TopicPartitionEvicted  = types.TopicPartitionEvicted
	TopicPartitionProgress = types.TopicPartitionProgress
	TopicPartitionIndexed  = types.TopicPartitionIndexed
	TopicPartitionError    = types.TopicPartitionError
	TopicPartitionOverflow = types.TopicPartitionOverflow
	TopicIndexRebuilt      = types.TopicIndexRebuilt
	TopicIndexStale        = types.TopicIndexStale
	TopicDBSave            = types.TopicDBSave
	TopicDBLoad            = types.TopicDBLoad
	TopicDBClose           = types.TopicDBClose
)

var (
	ErrNotFound          = types.ErrNotFound
	ErrAlreadyExists     = types.ErrAlreadyExists
	ErrDimensionMismatch = types.ErrDimensionMismatch
	ErrCorruption        = types.ErrCorruption
	ErrIOFailure         = types.ErrIOFailure
	ErrIndexStale        = types.ErrIndexStale
	ErrIndexEmpty        = types.ErrIndexEmpty
	ErrTimeout           = types.ErrTimeout
	ErrBadRequest        = types.ErrBadRequest
	ErrStoreClosed       = types.ErrStoreClosed
)

// IntID builds an integer-tagged VectorID.
func IntID(v uint64) VectorID { return types.IntID(v) }

// StringID builds a string-tagged VectorID.
func StringID(v string) VectorID { return types.StringID(v) }

// NewLogger creates a Logger writing timestamped lines to w.
func NewLogger(w io.Writer, minLevel LogLevel) Logger {
	return types.NewLogger(w, minLevel)
}

// NewStdLogger creates a Logger writing to stdout.
func NewStdLogger(minLevel LogLevel) Logger { return types.NewStdLogger(minLevel) }

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return types.NopLogger() }

// NewEventBus creates an empty publish-only event bus.
func NewEventBus() *EventBus { return types.NewEventBus() }

// WrapError wraps err with an operation name for consistent error context.
func WrapError(op string, err error) error { return types.WrapError(op, err) }

// ParseMetric maps a persisted/configured metric name back to a Metric tag.
func ParseMetric(name string) (Metric, bool) { return distance.ParseMetric(name) }
