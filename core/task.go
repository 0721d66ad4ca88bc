package core

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"

	"github.com/google/uuid"
)

// Task is the unit of work (Closure).
// A task fails by returning a non-nil error or by panicking.
type Task func(ctx context.Context) error

// TaskID identifies one submitted task across logs, history and metrics.
type TaskID uuid.UUID

// GenerateTaskID returns a fresh random TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// =============================================================================
// SubmitMode: How the submitter waits for a task
// =============================================================================

type SubmitMode int

const (
	// ModeAsync: enqueue and return immediately (fire-and-forget)
	ModeAsync SubmitMode = iota

	// ModeSync: enqueue and block until that specific task has finished
	ModeSync
)

func (m SubmitMode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeSync:
		return "sync"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// =============================================================================
// Context Helper
// =============================================================================
type threadKeyType struct{}

var threadKey threadKeyType

// WithThread returns a context that records h as the executing thread.
func WithThread(ctx context.Context, h ThreadHandle) context.Context {
	return context.WithValue(ctx, threadKey, h)
}

// CurrentThread returns the thread a task is executing on, as recorded by the
// dispatcher in the task's context.
func CurrentThread(ctx context.Context) (ThreadHandle, bool) {
	if v := ctx.Value(threadKey); v != nil {
		return v.(ThreadHandle), true
	}
	return ThreadHandle{}, false
}

// runTask executes task and converts a panic into a *PanicError.
func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	if task == nil {
		return fmt.Errorf("core: nil task")
	}
	return task(ctx)
}

// resolveTaskName prefers the explicit name, then the function symbol.
func resolveTaskName(task Task, explicit string) string {
	if explicit != "" {
		return explicit
	}

	if task == nil {
		return "anonymous"
	}

	v := reflect.ValueOf(task)
	if v.Kind() != reflect.Func {
		return "anonymous"
	}

	pc := v.Pointer()
	if pc == 0 {
		return "anonymous"
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "anonymous"
	}

	name := fn.Name()
	if name == "" {
		return "anonymous"
	}
	return name
}
