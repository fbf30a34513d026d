package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input rejected before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports an operation referencing a record that does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConcurrencyError reports exhausted lock-acquisition retries. The operation
// is retryable; the caller decides whether to retry.
type ConcurrencyError struct {
	Op string
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: write lock contention, retries exhausted", e.Op)
}

// StorageError wraps a failure of the underlying durable store. The message
// names the failed operation without leaking driver internals; the cause is
// available via Unwrap for logging.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s", e.Op)
}

func (e StorageError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var v NotFoundError
	return errors.As(err, &v)
}

// IsConcurrency reports whether err is (or wraps) a ConcurrencyError.
func IsConcurrency(err error) bool {
	var v ConcurrencyError
	return errors.As(err, &v)
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var v StorageError
	return errors.As(err, &v)
}
