package asyncrender

import (
	"github.com/Swind/go-async-render/core"
	"github.com/Swind/go-async-render/render"
)

// Re-export commonly used types from the core and render packages for convenience.
// This allows users to import only the asyncrender package for most use cases.

// Task is the unit of work posted to a thread
type Task = core.Task

// ThreadHandle identifies a registered thread
type ThreadHandle = core.ThreadHandle

// Logger is the structured logger used by every component
type Logger = core.Logger

// Metrics receives task and frame metrics
type Metrics = core.Metrics

// TaskError reports a failed task
type TaskError = core.TaskError

// TaskExecutionRecord describes one executed task
type TaskExecutionRecord = core.TaskExecutionRecord

// ThreadStats is a snapshot of one thread's mailbox
type ThreadStats = core.ThreadStats

// Vec3 is a 3D vector
type Vec3 = render.Vec3

// RenderHook runs at the start of every frame on the render thread
type RenderHook = render.RenderHook

// SurfaceSpec names a surface and its size
type SurfaceSpec = render.SurfaceSpec

// Errors returned by the core layer
var (
	ErrAborted       = core.ErrAborted
	ErrSyncOnSelf    = core.ErrSyncOnSelf
	ErrThreadStopped = core.ErrThreadStopped
)

// TaskWithResult and ReplyWithResult for the generic task-and-reply pattern
type TaskWithResult[T any] = core.TaskWithResult[T]
type ReplyWithResult[T any] = core.ReplyWithResult[T]

// F creates a structured log field
var F = core.F
