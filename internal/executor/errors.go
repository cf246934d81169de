package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/hearth/internal/remote"
	"github.com/roach88/hearth/internal/task"
)

// Kind categorizes execution failures.
type Kind string

const (
	// KindNetworkUnavailable means the remote could not be reached or did not
	// answer in time. The task stays queued for the next trigger.
	KindNetworkUnavailable Kind = "NETWORK_UNAVAILABLE"

	// KindRemoteRejected means the remote refused the write, or the task
	// cannot be expressed as a remote write at all.
	KindRemoteRejected Kind = "REMOTE_REJECTED"
)

// Error is a failed task execution.
type Error struct {
	// Kind identifies the failure category.
	Kind Kind

	// Task is the task that failed (seq, operation and bucket are used in messages).
	Task task.Task

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Task, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNetworkUnavailable reports whether err is an execution error of kind
// KindNetworkUnavailable. Uses errors.As to handle wrapped errors.
func IsNetworkUnavailable(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind == KindNetworkUnavailable
	}
	return false
}

// IsRemoteRejected reports whether err is an execution error of kind
// KindRemoteRejected.
func IsRemoteRejected(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind == KindRemoteRejected
	}
	return false
}

// classify wraps a remote failure with its Kind. Anything not recognisably
// transient is treated as a rejection.
func classify(t task.Task, err error) *Error {
	kind := KindRemoteRejected
	if errors.Is(err, remote.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		kind = KindNetworkUnavailable
	}
	return &Error{Kind: kind, Task: t, Err: err}
}

func rejected(t task.Task, format string, args ...any) *Error {
	return &Error{Kind: KindRemoteRejected, Task: t, Err: fmt.Errorf(format, args...)}
}
