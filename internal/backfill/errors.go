package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"backfill/internal/retry"
	"backfill/internal/source"
	"backfill/internal/storage"
)

// Category groups month failures for logs, metrics and results.
type Category string

const (
	CategoryTransientIO    Category = "TransientIOFailure"
	CategoryPermanentGap   Category = "PermanentGap"
	CategorySchemaMismatch Category = "SchemaMismatch"
	CategoryRetryExhausted Category = "RetriedOperationFailed"
	CategoryUnclassified   Category = "UnclassifiedFailure"
)

// ErrPermanentGap marks a period whose source file could not be fetched after
// every attempt and is presumed not to exist.
var ErrPermanentGap = errors.New("permanent gap")

// ErrInvalidParams is returned by Orchestrator.Run before any month starts.
var ErrInvalidParams = errors.New("invalid backfill params")

// SchemaMismatchError reports chunk columns the existing destination table
// does not have. Tables are never altered, so it is not retried.
type SchemaMismatchError struct {
	Table   storage.TableRef
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on %s: columns not in table: %s", e.Table, strings.Join(e.Missing, ", "))
}

// ChunkError is a chunk whose stage-and-commit failed after all attempts.
type ChunkError struct {
	Index int // 1-based
	Total int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d/%d: %v", e.Index, e.Total, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// IsSchemaMismatch reports whether err is or wraps a *SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}

// Classify maps err onto the failure taxonomy. It returns "" for nil.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermanentGap):
		return CategoryPermanentGap
	case IsSchemaMismatch(err):
		return CategorySchemaMismatch
	case retry.IsRetriedOperationFailed(err):
		return CategoryRetryExhausted
	case source.IsFetchError(err),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryTransientIO
	default:
		return CategoryUnclassified
	}
}
