package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownThread is returned when a task targets a handle with no open mailbox.
	ErrUnknownThread = errors.New("core: unknown target thread")

	// ErrThreadStopped is returned when the target thread no longer accepts tasks.
	ErrThreadStopped = errors.New("core: target thread stopped")

	// ErrSyncOnSelf is returned by SubmitSync when the caller is the target thread.
	// Waiting would deadlock because nobody else drains that queue.
	ErrSyncOnSelf = errors.New("core: synchronous submit to the calling thread")

	// ErrWrongThread is returned when a thread-affine operation runs on another thread.
	ErrWrongThread = errors.New("core: called from the wrong thread")

	// ErrEventClosed is returned when firing or subscribing to a closed event source.
	ErrEventClosed = errors.New("core: event source closed")

	// ErrAborted is returned by cooperative operations that observed the abort signal.
	ErrAborted = errors.New("core: operation aborted")
)

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, so errors.Is/As can see it.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TaskError reports a failed task. For sync submissions it is returned to the
// submitter; for async submissions it only reaches the TaskFailureHandler and logs.
type TaskError struct {
	ID     TaskID
	Name   string
	Thread string
	Mode   SubmitMode
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s task %q on %s failed: %v", e.Mode, e.Name, e.Thread, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
