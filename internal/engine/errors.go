package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/hearth/internal/task"
)

// ErrBusy is returned by Flush when another cycle is in flight.
var ErrBusy = errors.New("sync cycle already in progress")

// CycleError describes why a flush cycle ended early.
//
// CycleError includes structured fields for diagnostics; the cause is
// reachable through errors.Is / errors.As (an *executor.Error, a
// *store.StorageError, or a context error).
type CycleError struct {
	// Code identifies the error category.
	Code CycleErrorCode

	// Cycle is the token of the affected cycle.
	Cycle string

	// Task is the task being processed, zero when the failure happened
	// before execution started.
	Task task.Task

	// Err is the underlying cause.
	Err error
}

// CycleErrorCode categorizes cycle failures.
type CycleErrorCode string

const (
	// ErrCodeStorage indicates the task store failed while listing or removing.
	ErrCodeStorage CycleErrorCode = "STORAGE_FAILURE"

	// ErrCodeTaskFailed indicates the executor reported a failure.
	ErrCodeTaskFailed CycleErrorCode = "TASK_FAILED"

	// ErrCodeStopped indicates the caller cancelled the cycle between tasks.
	ErrCodeStopped CycleErrorCode = "STOPPED"
)

// Error implements the error interface.
func (e *CycleError) Error() string {
	if e.Task.Seq != 0 {
		return fmt.Sprintf("%s: %v (cycle=%s, task=%s)", e.Code, e.Err, e.Cycle, e.Task)
	}
	return fmt.Sprintf("%s: %v (cycle=%s)", e.Code, e.Err, e.Cycle)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// IsTaskFailure reports whether err is a cycle halted by a failed task.
// Uses errors.As to handle wrapped errors.
func IsTaskFailure(err error) bool {
	return hasCode(err, ErrCodeTaskFailed)
}

// IsStorageFailure reports whether err is a cycle halted by the task store.
func IsStorageFailure(err error) bool {
	return hasCode(err, ErrCodeStorage)
}

// IsStopped reports whether err is a cycle stopped by cancellation.
func IsStopped(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

func hasCode(err error, code CycleErrorCode) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
