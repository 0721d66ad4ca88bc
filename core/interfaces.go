package core

import (
	"context"
	"time"
)

// =============================================================================
// TaskFailureHandler: Interface for handling failed fire-and-forget tasks
// =============================================================================

// TaskFailureHandler is called when an async task fails (returns an error or panics).
// Sync tasks report their failure to the submitter instead.
//
// Async failures have no caller to report to: this handler and the logs are the
// only place they are observable.
//
// Implementations should be thread-safe as they may be called concurrently.
type TaskFailureHandler interface {
	// HandleTaskFailure is called on the thread that ran the task.
	//
	// Parameters:
	// - ctx: The context the task ran with (carries the executing thread)
	// - threadName: The role of the thread the task ran on
	// - err: A *TaskError describing the task and wrapping the cause
	HandleTaskFailure(ctx context.Context, threadName string, err *TaskError)
}

// DefaultTaskFailureHandler logs failures through Logger.
type DefaultTaskFailureHandler struct {
	Logger Logger
}

// HandleTaskFailure logs the failure at error level, with the stack for panics.
func (h *DefaultTaskFailureHandler) HandleTaskFailure(ctx context.Context, threadName string, err *TaskError) {
	logger := h.Logger
	if logger == nil {
		return
	}
	fields := []Field{
		F("thread", threadName),
		F("task", err.Name),
		F("task_id", err.ID.String()),
		F("error", err.Err),
	}
	if pe, ok := err.Err.(*PanicError); ok {
		fields = append(fields, F("stack", string(pe.Stack)))
	}
	logger.Error("async task failed", fields...)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting coordination metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute on thread.
	RecordTaskDuration(thread string, mode SubmitMode, duration time.Duration)

	// RecordTaskFailure records that a task returned an error or panicked.
	RecordTaskFailure(thread string, mode SubmitMode)

	// RecordQueueDepth records the current queue depth of thread.
	RecordQueueDepth(thread string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., thread stopped).
	RecordTaskRejected(thread string, reason string)

	// RecordFrame records one render pass on surface; aborted passes are counted apart.
	RecordFrame(surface string, duration time.Duration, aborted bool)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(thread string, mode SubmitMode, duration time.Duration) {}
func (m *NilMetrics) RecordTaskFailure(thread string, mode SubmitMode)                          {}
func (m *NilMetrics) RecordQueueDepth(thread string, depth int)                                 {}
func (m *NilMetrics) RecordTaskRejected(thread string, reason string)                           {}
func (m *NilMetrics) RecordFrame(surface string, duration time.Duration, aborted bool)          {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a submission is rejected because the target
// thread is unknown or has stopped.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(threadName string, taskName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(threadName string, taskName string, reason string) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn("task rejected",
		F("thread", threadName),
		F("task", taskName),
		F("reason", reason),
	)
}

// =============================================================================
// DispatcherConfig: Configuration for Dispatcher
// =============================================================================

// DispatcherConfig holds configuration options for Dispatcher.
// All handlers are optional; if not provided, default implementations will be used.
type DispatcherConfig struct {
	// Logger receives structured diagnostics. Defaults to NewDefaultLogger().
	Logger Logger

	// Metrics records execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// FailureHandler is called for failed async tasks. Defaults to DefaultTaskFailureHandler.
	FailureHandler TaskFailureHandler

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// HistoryCapacity bounds the execution history ring. Defaults to 100.
	HistoryCapacity int
}

// DefaultDispatcherConfig returns a config with default handlers.
func DefaultDispatcherConfig() *DispatcherConfig {
	logger := NewDefaultLogger()
	return &DispatcherConfig{
		Logger:              logger,
		Metrics:             &NilMetrics{},
		FailureHandler:      &DefaultTaskFailureHandler{Logger: logger},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{Logger: logger},
		HistoryCapacity:     defaultTaskHistoryCapacity,
	}
}

// withDefaults fills unset fields, sharing one logger between the default handlers.
func (c *DispatcherConfig) withDefaults() *DispatcherConfig {
	out := DispatcherConfig{}
	if c != nil {
		out = *c
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.FailureHandler == nil {
		out.FailureHandler = &DefaultTaskFailureHandler{Logger: out.Logger}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: out.Logger}
	}
	if out.HistoryCapacity <= 0 {
		out.HistoryCapacity = defaultTaskHistoryCapacity
	}
	return &out
}
