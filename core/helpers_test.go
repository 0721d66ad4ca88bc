package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestDispatcher returns a dispatcher that discards logs and records
// failures, rejections and metrics for assertions.
func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingHooks) {
	t.Helper()
	hooks := &recordingHooks{}
	d := NewDispatcher(NewThreadRegistry(), &DispatcherConfig{
		Logger:              NewNoOpLogger(),
		Metrics:             hooks,
		FailureHandler:      hooks,
		RejectedTaskHandler: hooks,
		HistoryCapacity:     16,
	})
	return d, hooks
}

// registerCurrent registers the test goroutine as role and opens its mailbox.
// The test goroutine then drains it by hand with d.Drain.
func registerCurrent(t *testing.T, d *Dispatcher, role string) ThreadHandle {
	t.Helper()
	h := d.Registry().Register(role)
	require.NoError(t, d.Open(h))
	t.Cleanup(func() {
		d.Close(h)
		d.Registry().Unregister(h)
	})
	return h
}

// registerElsewhere registers role on a short-lived goroutine, so the handle
// belongs to a thread that is neither the test goroutine nor draining.
func registerElsewhere(t *testing.T, d *Dispatcher, role string) ThreadHandle {
	t.Helper()
	ch := make(chan ThreadHandle, 1)
	go func() {
		ch <- d.Registry().Register(role)
	}()
	h := <-ch
	require.NoError(t, d.Open(h))
	t.Cleanup(func() { d.Close(h) })
	return h
}

type testThread struct {
	handle ThreadHandle
	loop   *Loop
	result chan error
}

// startLoopThread spawns a goroutine that registers as role and runs a Loop
// until the test ends.
func startLoopThread(t *testing.T, d *Dispatcher, role string, src InputSource) *testThread {
	t.Helper()
	ready := make(chan *testThread, 1)
	openErr := make(chan error, 1)
	result := make(chan error, 1)

	go func() {
		h := d.Registry().Register(role)
		defer d.Registry().Unregister(h)
		if err := d.Open(h); err != nil {
			openErr <- err
			return
		}
		loop := NewLoop(d, h, 10*time.Millisecond)
		ready <- &testThread{handle: h, loop: loop, result: result}
		result <- loop.Run(context.Background(), src)
	}()

	var tt *testThread
	select {
	case tt = <-ready:
	case err := <-openErr:
		t.Fatalf("open mailbox: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop thread did not start")
	}

	t.Cleanup(func() {
		tt.loop.Stop()
		select {
		case <-tt.result:
		case <-time.After(2 * time.Second):
			t.Error("loop thread did not stop")
		}
		d.Close(tt.handle)
	})
	return tt
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

type rejection struct {
	Thread string
	Task   string
	Reason string
}

// recordingHooks implements Metrics, TaskFailureHandler and RejectedTaskHandler.
type recordingHooks struct {
	mu         sync.Mutex
	failures   []*TaskError
	rejections []rejection
	durations  int
	frames     int
	depths     map[string]int
}

func (h *recordingHooks) HandleTaskFailure(ctx context.Context, threadName string, err *TaskError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, err)
}

func (h *recordingHooks) HandleRejectedTask(threadName string, taskName string, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejections = append(h.rejections, rejection{Thread: threadName, Task: taskName, Reason: reason})
}

func (h *recordingHooks) RecordTaskDuration(thread string, mode SubmitMode, duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.durations++
}

func (h *recordingHooks) RecordTaskFailure(thread string, mode SubmitMode) {}

func (h *recordingHooks) RecordQueueDepth(thread string, depth int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.depths == nil {
		h.depths = make(map[string]int)
	}
	h.depths[thread] = depth
}

func (h *recordingHooks) RecordTaskRejected(thread string, reason string) {}

func (h *recordingHooks) RecordFrame(surface string, duration time.Duration, aborted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames++
}

func (h *recordingHooks) Failures() []*TaskError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*TaskError(nil), h.failures...)
}

func (h *recordingHooks) Rejections() []rejection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]rejection(nil), h.rejections...)
}
