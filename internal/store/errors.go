package store

import (
	"errors"
	"fmt"
)

// ErrStorage matches every StorageError via errors.Is.
var ErrStorage = errors.New("storage failure")

// StorageError reports that the durable store could not complete an
// operation (disk full, corrupted file, closed handle). It is fatal to the
// operation that raised it; an Append that returns one has not stored the task.
type StorageError struct {
	// Op is the store operation: "open", "append", "list", "remove", "count".
	Op string

	// Seq is the affected sequence key, when the operation targets one.
	Seq int64

	Err error
}

func (e *StorageError) Error() string {
	if e.Seq != 0 {
		return fmt.Sprintf("%s: %s (seq=%d): %v", ErrStorage, e.Op, e.Seq, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorage) true for any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, seq int64, err error) error {
	return &StorageError{Op: op, Seq: seq, Err: err}
}

// IsStorageError returns true if err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

var errClosed = errors.New("store is closed")
