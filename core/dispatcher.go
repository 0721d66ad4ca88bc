package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher is the cross-thread task queue: one FIFO mailbox per target thread.
//
// Any goroutine may submit to any open mailbox. Only the thread a mailbox belongs
// to may drain it, and it runs the drained tasks in exactly the order they were
// pushed, whichever goroutines pushed them. Each task runs at most once.
//
// Async failures are best-effort: there is no caller to return them to, so they
// are only visible through the TaskFailureHandler, the logs and Metrics.
type Dispatcher struct {
	registry *ThreadRegistry
	config   *DispatcherConfig
	logger   Logger
	metrics  Metrics
	history  *executionHistory

	mu        sync.RWMutex
	mailboxes map[ThreadHandle]*mailbox
}

type mailbox struct {
	handle ThreadHandle
	name   string
	queue  *FIFOTaskQueue
	wake   chan struct{}

	// ctx is handed to every task run from this mailbox; cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders Close against Push so no task is stranded behind a closed mailbox.
	mu     sync.Mutex
	closed bool

	running  atomic.Int32
	executed atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64
	lastBeat atomic.Int64
	last     atomic.Pointer[TaskExecutionRecord]
}

// signal wakes the owning loop; coalesces with a pending wakeup.
func (mb *mailbox) signal() {
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

// NewDispatcher creates a dispatcher resolving thread identities through registry.
func NewDispatcher(registry *ThreadRegistry, config *DispatcherConfig) *Dispatcher {
	if registry == nil {
		registry = NewThreadRegistry()
	}
	cfg := config.withDefaults()
	return &Dispatcher{
		registry:  registry,
		config:    cfg,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		history:   newExecutionHistory(cfg.HistoryCapacity),
		mailboxes: make(map[ThreadHandle]*mailbox),
	}
}

// Registry returns the identity registry used for thread checks.
func (d *Dispatcher) Registry() *ThreadRegistry {
	return d.registry
}

// Logger returns the configured logger.
func (d *Dispatcher) Logger() Logger {
	return d.logger
}

// Metrics returns the configured metrics sink.
func (d *Dispatcher) Metrics() Metrics {
	return d.metrics
}

// Open creates the mailbox for h. The handle must already be registered.
// Opening an existing mailbox is a no-op.
func (d *Dispatcher) Open(h ThreadHandle) error {
	name, ok := d.registry.Lookup(h)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownThread, h)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.mailboxes[h]; exists {
		return nil
	}
	ctx, cancel := context.WithCancel(WithThread(context.Background(), h))
	mb := &mailbox{
		handle: h,
		name:   name,
		queue:  NewFIFOTaskQueue(),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	mb.lastBeat.Store(time.Now().UnixNano())
	d.mailboxes[h] = mb

	d.logger.Debug("mailbox opened", F("thread", name))
	return nil
}

// Close stops accepting tasks for h. Tasks still queued are dropped and their
// sync submitters receive ErrThreadStopped.
func (d *Dispatcher) Close(h ThreadHandle) {
	mb := d.lookup(h)
	if mb == nil {
		return
	}

	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return
	}
	mb.closed = true
	pending := mb.queue.Clear()
	mb.mu.Unlock()

	mb.cancel()
	for _, item := range pending {
		d.reject(mb.name, item.Name, "stopped", mb)
		if item.done != nil {
			item.done <- ErrThreadStopped
		}
	}
	mb.signal()

	d.logger.Debug("mailbox closed", F("thread", mb.name), F("dropped", len(pending)))
}

// SubmitAsync enqueues task for execution on target and returns immediately.
func (d *Dispatcher) SubmitAsync(target ThreadHandle, task Task) error {
	return d.SubmitAsyncNamed(target, "", task)
}

// SubmitAsyncNamed is SubmitAsync with an explicit task name for logs and history.
//
// Submitting to the calling thread's own mailbox is allowed: the task is deferred
// to that thread's next drain, behind everything already queued.
func (d *Dispatcher) SubmitAsyncNamed(target ThreadHandle, name string, task Task) error {
	_, err := d.submit(target, name, task, ModeAsync)
	return err
}

// SubmitSync enqueues task for execution on target and blocks until that task
// has finished. A failing task is returned as a *TaskError.
func (d *Dispatcher) SubmitSync(ctx context.Context, target ThreadHandle, task Task) error {
	return d.SubmitSyncNamed(ctx, target, "", task)
}

// SubmitSyncNamed is SubmitSync with an explicit task name.
//
// The caller blocks only until its own task completes, not until the queue drains.
// If ctx ends first, ctx.Err() is returned; the task stays queued and still runs
// exactly once, and its failure then goes to the TaskFailureHandler. A failure
// reaches either the caller or the handler, never neither. A target equal to
// the calling thread returns ErrSyncOnSelf.
func (d *Dispatcher) SubmitSyncNamed(ctx context.Context, target ThreadHandle, name string, task Task) error {
	if d.registry.IsCurrent(target) {
		return ErrSyncOnSelf
	}

	item, err := d.submit(target, name, task, ModeSync)
	if err != nil {
		return err
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		if !item.settled.CompareAndSwap(false, true) {
			// The task finished first; its outcome is already buffered.
			return <-item.done
		}
		d.logger.Warn("sync wait abandoned",
			F("thread", d.registry.Name(target)),
			F("task", item.Name),
			F("error", ctx.Err()),
		)
		return ctx.Err()
	}
}

func (d *Dispatcher) submit(target ThreadHandle, name string, task Task, mode SubmitMode) (*TaskItem, error) {
	name = resolveTaskName(task, name)

	mb := d.lookup(target)
	if mb == nil {
		d.reject(target.String(), name, "unknown thread", nil)
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, target)
	}

	item := &TaskItem{
		ID:       GenerateTaskID(),
		Name:     name,
		Task:     task,
		Mode:     mode,
		Target:   target,
		QueuedAt: time.Now(),
	}
	if mode == ModeSync {
		item.done = make(chan error, 1)
	}

	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		d.reject(mb.name, name, "stopped", mb)
		return nil, fmt.Errorf("%w: %s", ErrThreadStopped, mb.name)
	}
	depth := mb.queue.Push(item)
	mb.mu.Unlock()

	mb.signal()
	d.metrics.RecordQueueDepth(mb.name, depth)
	return item, nil
}

// Drain runs, on the calling goroutine, every task queued for target at the
// moment of the call, in enqueue order, and returns how many ran. Tasks queued
// while draining wait for the next call, so a loop can interleave other work.
//
// Drain must be called by the thread target identifies; otherwise it runs nothing.
func (d *Dispatcher) Drain(target ThreadHandle) int {
	mb := d.lookup(target)
	if mb == nil {
		return 0
	}
	if !d.registry.IsCurrent(target) {
		d.logger.Error("drain called off-thread",
			F("thread", mb.name),
			F("caller", d.registry.Describe()),
		)
		return 0
	}

	items := mb.queue.PopAll()
	for _, item := range items {
		d.execute(mb, item)
	}
	if len(items) > 0 {
		d.metrics.RecordQueueDepth(mb.name, mb.queue.Len())
	}
	return len(items)
}

func (d *Dispatcher) execute(mb *mailbox, item *TaskItem) {
	mb.running.Add(1)
	startedAt := time.Now()
	err := runTask(mb.ctx, item.Task)
	finishedAt := time.Now()
	mb.running.Add(-1)
	mb.executed.Add(1)

	_, panicked := err.(*PanicError)
	record := TaskExecutionRecord{
		TaskID:     item.ID,
		Name:       item.Name,
		Thread:     mb.name,
		Mode:       item.Mode,
		QueuedAt:   item.QueuedAt,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
		Failed:     err != nil,
		Panicked:   panicked,
	}
	d.history.Add(record)
	mb.last.Store(&record)
	d.metrics.RecordTaskDuration(mb.name, item.Mode, record.Duration)

	if err == nil {
		if item.done != nil {
			item.done <- nil
		}
		return
	}

	taskErr := &TaskError{
		ID:     item.ID,
		Name:   item.Name,
		Thread: mb.name,
		Mode:   item.Mode,
		Err:    err,
	}
	mb.failed.Add(1)
	d.metrics.RecordTaskFailure(mb.name, item.Mode)

	if item.done != nil {
		item.done <- taskErr
		if item.settled.CompareAndSwap(false, true) {
			return
		}
	}
	d.config.FailureHandler.HandleTaskFailure(mb.ctx, mb.name, taskErr)
}

func (d *Dispatcher) reject(threadName, taskName, reason string, mb *mailbox) {
	if mb != nil {
		mb.rejected.Add(1)
	}
	d.metrics.RecordTaskRejected(threadName, reason)
	d.config.RejectedTaskHandler.HandleRejectedTask(threadName, taskName, reason)
}

func (d *Dispatcher) lookup(h ThreadHandle) *mailbox {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mailboxes[h]
}

// Wake returns a channel that receives after tasks are queued for target or the
// mailbox closes. Wakeups coalesce; always Drain after receiving.
// Unknown targets get a nil channel, which never fires.
func (d *Dispatcher) Wake(target ThreadHandle) <-chan struct{} {
	if mb := d.lookup(target); mb != nil {
		return mb.wake
	}
	return nil
}

// Pending returns the number of tasks queued for target.
func (d *Dispatcher) Pending(target ThreadHandle) int {
	if mb := d.lookup(target); mb != nil {
		return mb.queue.Len()
	}
	return 0
}

// IsClosed reports whether target's mailbox is closed (or never existed).
func (d *Dispatcher) IsClosed(target ThreadHandle) bool {
	mb := d.lookup(target)
	if mb == nil {
		return true
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.closed
}

// Beat records a liveness heartbeat for target. Loops call it every iteration.
func (d *Dispatcher) Beat(target ThreadHandle) {
	if mb := d.lookup(target); mb != nil {
		mb.lastBeat.Store(time.Now().UnixNano())
	}
}

// LastBeat returns the time of target's most recent heartbeat.
func (d *Dispatcher) LastBeat(target ThreadHandle) time.Time {
	if mb := d.lookup(target); mb != nil {
		return time.Unix(0, mb.lastBeat.Load())
	}
	return time.Time{}
}

// Stats returns a snapshot of target's mailbox.
func (d *Dispatcher) Stats(target ThreadHandle) ThreadStats {
	mb := d.lookup(target)
	if mb == nil {
		return ThreadStats{Name: target.String(), Closed: true}
	}

	stats := ThreadStats{
		Name:     mb.name,
		Pending:  mb.queue.Len(),
		Running:  int(mb.running.Load()),
		Executed: mb.executed.Load(),
		Failed:   mb.failed.Load(),
		Rejected: mb.rejected.Load(),
		Closed:   d.IsClosed(target),
		LastBeat: time.Unix(0, mb.lastBeat.Load()),
	}
	if info, ok := d.registry.Info(target); ok {
		stats.OSThreadID = info.OSThreadID
	}
	if last := mb.last.Load(); last != nil {
		stats.LastTaskName = last.Name
		stats.LastTaskAt = last.FinishedAt
	}
	return stats
}

// Recent returns up to limit execution records across all threads, newest first.
func (d *Dispatcher) Recent(limit int) []TaskExecutionRecord {
	return d.history.Query(HistoryQuery{Limit: limit})
}

// History returns the execution records q selects, newest first.
func (d *Dispatcher) History(q HistoryQuery) []TaskExecutionRecord {
	return d.history.Query(q)
}
