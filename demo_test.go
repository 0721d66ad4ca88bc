package asyncrender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-async-render/core"
	"github.com/Swind/go-async-render/render"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Surfaces = []render.SurfaceSpec{{ID: "#canvas", Width: 64, Height: 48}}
	cfg.Mesh = render.MeshSpec{GridX: 3, GridY: 3, GridZ: 3, Spacing: 2, Resolution: 8, Radius: 0.5, Height: 1}
	cfg.AbortCheckInterval = 16
	cfg.IdleTick = 5 * time.Millisecond
	cfg.StartTimeout = 5 * time.Second
	return cfg
}

// newTestDemo builds a demo with a small scene; Close runs at cleanup.
func newTestDemo(t *testing.T, surfaceID string, opts ...Option) *Demo {
	t.Helper()
	opts = append([]Option{WithConfig(testConfig()), WithLogger(core.NewNoOpLogger())}, opts...)
	d, err := New(surfaceID, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// startOnTestGoroutine starts d, making the test goroutine its UI thread.
func startOnTestGoroutine(t *testing.T, d *Demo) {
	t.Helper()
	require.NoError(t, d.Start())
	require.Equal(t, StateRunning, d.State())
	require.True(t, d.IsUIThread())
}

// drainUntil drains the UI mailbox on the calling goroutine until cond holds.
func drainUntil(t *testing.T, d *Demo, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		d.DrainUI()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met while draining the UI thread")
}

// gate blocks render hooks until opened. Open is idempotent.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) Open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) Hook(ctx context.Context, abort *core.AbortSignal) error {
	g.calls.Add(1)
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type observed struct {
	mu      sync.Mutex
	normals []Vec3
	offUI   int
}

func (o *observed) callback(d *Demo) func(x, y, z float64) {
	return func(x, y, z float64) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if !d.IsUIThread() {
			o.offUI++
		}
		o.normals = append(o.normals, render.V(x, y, z))
	}
}

func (o *observed) Normals() []Vec3 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Vec3(nil), o.normals...)
}

// TestDemo_ConcurrentStart
// Main test items:
// 1. Concurrent Start calls all succeed
// 2. Exactly one render thread and one UI thread are created
func TestDemo_ConcurrentStart(t *testing.T) {
	d := newTestDemo(t, "#canvas")

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(d.Start)
	}
	require.NoError(t, g.Wait())

	// Losers return while the winner may still be starting.
	require.Eventually(t, func() bool { return d.State() == StateRunning }, 5*time.Second, 5*time.Millisecond)

	roles := map[string]int{}
	for _, th := range d.registry.Threads() {
		roles[th.Role]++
	}
	assert.Equal(t, map[string]int{core.RoleUI: 1, core.RoleRender: 1}, roles)
	assert.NoError(t, d.Start(), "Start after Running is a no-op")
}

// TestDemo_SyncRenderBlocksAsyncRenderDoesNot
// Main test items:
// 1. AsyncRender returns while the frame is still being produced
// 2. SyncRender returns only after its frame completed
func TestDemo_SyncRenderBlocksAsyncRenderDoesNot(t *testing.T) {
	g := newGate()
	defer g.Open()
	d := newTestDemo(t, "#canvas", WithRenderHook(g.Hook))
	startOnTestGoroutine(t, d)

	require.NoError(t, d.AsyncRender())
	<-g.entered
	assert.Zero(t, d.Frames(), "AsyncRender returned before the frame finished")

	syncDone := make(chan error, 1)
	go func() { syncDone <- d.SyncRender(context.Background()) }()

	select {
	case <-syncDone:
		t.Fatal("SyncRender returned while the render thread was blocked")
	case <-time.After(50 * time.Millisecond):
	}

	g.Open()
	require.NoError(t, <-syncDone)
	assert.Equal(t, uint64(2), d.Frames(), "both frames done when SyncRender returns")
}

// TestDemo_AbortMidFlight
// Main test items:
// 1. Abort during a frame makes SyncRender fail with ErrAborted
// 2. The next SyncRender clears the flag and succeeds
func TestDemo_AbortMidFlight(t *testing.T) {
	entered := make(chan struct{}, 1)
	var calls atomic.Int32
	hook := func(ctx context.Context, abort *core.AbortSignal) error {
		if calls.Add(1) > 1 {
			return nil
		}
		entered <- struct{}{}
		for !abort.Aborted() {
			time.Sleep(time.Millisecond)
		}
		return fmt.Errorf("hook: %w", core.ErrAborted)
	}
	d := newTestDemo(t, "#canvas", WithRenderHook(hook))

	d.Abort() // before Start: only sets the flag
	startOnTestGoroutine(t, d)

	result := make(chan error, 1)
	go func() { result <- d.SyncRender(context.Background()) }()
	<-entered
	d.Abort()

	err := <-result
	require.ErrorIs(t, err, ErrAborted)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "sync-render", taskErr.Name)
	assert.Zero(t, d.Frames())

	require.NoError(t, d.SyncRender(context.Background()))
	assert.Equal(t, uint64(1), d.Frames())
}

// TestDemo_ObserverOnUIThread
// Main test items:
// 1. An observer registered before Start is attached at startup
// 2. Updating the normal from another goroutine notifies it on the UI thread
// 3. The payload is the normal as set
func TestDemo_ObserverOnUIThread(t *testing.T) {
	d := newTestDemo(t, "#canvas")
	obs := &observed{}
	require.NoError(t, d.AddClipPlaneModifiedObserver(obs.callback(d)))
	startOnTestGoroutine(t, d)

	done := make(chan error, 1)
	go func() { done <- d.UpdateClipPlaneNormal(0, 0, 1) }()
	require.NoError(t, <-done)

	drainUntil(t, d, func() bool { return len(obs.Normals()) == 1 })
	assert.Equal(t, []Vec3{render.V(0, 0, 1)}, obs.Normals())
	assert.Zero(t, obs.offUI)
}

// TestDemo_ReplaceObserver
// Main test items:
// 1. A second observer replaces the first
// 2. Only the new observer sees later changes
func TestDemo_ReplaceObserver(t *testing.T) {
	d := newTestDemo(t, "#canvas")
	startOnTestGoroutine(t, d)

	first, second := &observed{}, &observed{}
	require.NoError(t, d.AddClipPlaneModifiedObserver(first.callback(d)))
	require.NoError(t, d.UpdateClipPlaneNormal(0, 1, 0))
	drainUntil(t, d, func() bool { return len(first.Normals()) == 1 })

	require.NoError(t, d.AddClipPlaneModifiedObserver(second.callback(d)))
	require.NoError(t, d.UpdateClipPlaneNormal(1, 0, 0))
	drainUntil(t, d, func() bool { return len(second.Normals()) == 1 })

	assert.Equal(t, []Vec3{render.V(1, 0, 0)}, second.Normals())
	assert.Equal(t, []Vec3{render.V(0, 1, 0)}, first.Normals())
	assert.Error(t, d.AddClipPlaneModifiedObserver(nil))
}

// TestDemo_DragWidget
// Main test items:
// 1. A drag reorients the clip plane on the render thread
// 2. It triggers a frame and notifies the observer
// 3. QueryClipPlaneNormal replies on the UI thread with the new normal
func TestDemo_DragWidget(t *testing.T) {
	d := newTestDemo(t, "#canvas")
	obs := &observed{}
	startOnTestGoroutine(t, d)
	require.NoError(t, d.AddClipPlaneModifiedObserver(obs.callback(d)))

	require.NoError(t, d.DragWidget(0, 1, 0))
	drainUntil(t, d, func() bool { return len(obs.Normals()) == 1 && d.Frames() == 1 })
	assert.Equal(t, []Vec3{render.V(0, 1, 0)}, obs.Normals())

	var got Vec3
	var onUI bool
	replied := false
	require.NoError(t, d.QueryClipPlaneNormal(func(x, y, z float64) {
		got = render.V(x, y, z)
		onUI = d.IsUIThread()
		replied = true
	}))
	drainUntil(t, d, func() bool { return replied })
	assert.Equal(t, render.V(0, 1, 0), got)
	assert.True(t, onUI)
}

// TestDemo_RenderThreadCalls
// Main test items:
// 1. SyncRender from the render thread fails with ErrSyncOnSelf
// 2. UpdateClipPlaneNormal from the render thread applies immediately
func TestDemo_RenderThreadCalls(t *testing.T) {
	var d *Demo
	var onRender atomic.Bool
	var syncErr atomic.Pointer[error]
	var calls atomic.Int32
	hook := func(ctx context.Context, abort *core.AbortSignal) error {
		if calls.Add(1) > 1 {
			return nil
		}
		onRender.Store(d.IsRenderThread())
		err := d.SyncRender(ctx)
		syncErr.Store(&err)
		return d.UpdateClipPlaneNormal(0, 0, 1)
	}
	d = newTestDemo(t, "#canvas", WithRenderHook(hook))
	startOnTestGoroutine(t, d)

	require.NoError(t, d.SyncRender(context.Background()))

	assert.True(t, onRender.Load())
	require.NotNil(t, syncErr.Load())
	assert.ErrorIs(t, *syncErr.Load(), ErrSyncOnSelf)

	var got Vec3
	replied := false
	require.NoError(t, d.QueryClipPlaneNormal(func(x, y, z float64) {
		got, replied = render.V(x, y, z), true
	}))
	drainUntil(t, d, func() bool { return replied })
	assert.Equal(t, render.V(0, 0, 1), got)
}

type failureRecorder struct {
	mu   sync.Mutex
	errs []*TaskError
}

func (f *failureRecorder) HandleTaskFailure(ctx context.Context, threadName string, err *TaskError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *failureRecorder) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

// TestDemo_AsyncFailureGoesToHandler
// Main test items:
// 1. A failed AsyncRender reaches the failure handler, not the caller
func TestDemo_AsyncFailureGoesToHandler(t *testing.T) {
	boom := errors.New("boom")
	failures := &failureRecorder{}
	d := newTestDemo(t, "#canvas",
		WithFailureHandler(failures),
		WithRenderHook(func(ctx context.Context, abort *core.AbortSignal) error { return boom }),
	)
	startOnTestGoroutine(t, d)

	require.NoError(t, d.AsyncRender())

	require.Eventually(t, func() bool { return failures.Len() == 1 }, 3*time.Second, 5*time.Millisecond)
	failures.mu.Lock()
	assert.ErrorIs(t, failures.errs[0], boom)
	assert.Equal(t, "async-render", failures.errs[0].Name)
	failures.mu.Unlock()

	recent := d.RecentFailures(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "async-render", recent[0].Name)
	assert.Equal(t, core.RoleRender, recent[0].Thread)
}

// TestDemo_LifecycleErrors
// Main test items:
// 1. Operations before Start fail with ErrNotStarted
// 2. Operations after Close fail with ErrClosed
// 3. Close is idempotent
func TestDemo_LifecycleErrors(t *testing.T) {
	d := newTestDemo(t, "#canvas")
	noop := func(x, y, z float64) {}

	assert.Equal(t, StateNotStarted, d.State())
	assert.ErrorIs(t, d.SyncRender(context.Background()), ErrNotStarted)
	assert.ErrorIs(t, d.AsyncRender(), ErrNotStarted)
	assert.ErrorIs(t, d.UpdateClipPlaneNormal(0, 0, 1), ErrNotStarted)
	assert.ErrorIs(t, d.DragWidget(0, 0, 1), ErrNotStarted)
	assert.ErrorIs(t, d.QueryClipPlaneNormal(noop), ErrNotStarted)
	assert.ErrorIs(t, d.RunUI(context.Background()), ErrNotStarted)
	_, err := d.SavePNG(t.TempDir(), 0)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.False(t, d.Healthy(time.Second))
	assert.Nil(t, d.Snapshot())
	assert.Zero(t, d.DrainUI())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	assert.Equal(t, StateClosed, d.State())
	assert.ErrorIs(t, d.Start(), ErrClosed)
	assert.ErrorIs(t, d.SyncRender(context.Background()), ErrClosed)
	assert.ErrorIs(t, d.AddClipPlaneModifiedObserver(noop), ErrClosed)
}

// TestDemo_StartFailure
// Main test items:
// 1. An invalid surface id fails Start with a *StartupError
// 2. The demo stays Failed and Start returns the same error again
func TestDemo_StartFailure(t *testing.T) {
	d := newTestDemo(t, "canvas")

	err := d.Start()

	var serr *StartupError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "surface", serr.Stage)
	assert.Equal(t, StateFailed, d.State())
	assert.Same(t, serr, errorAsStartup(t, d.Start()))
	assert.ErrorIs(t, d.SyncRender(context.Background()), ErrNotStarted)
}

func errorAsStartup(t *testing.T, err error) *StartupError {
	t.Helper()
	var serr *StartupError
	require.ErrorAs(t, err, &serr)
	return serr
}

// TestDemo_CloseReleasesQueuedSyncRender
// Main test items:
// 1. A SyncRender still queued when the demo closes fails with ErrThreadStopped
// 2. The frame in progress finishes and the render thread tears down
func TestDemo_CloseReleasesQueuedSyncRender(t *testing.T) {
	g := newGate()
	defer g.Open()
	d := newTestDemo(t, "#canvas", WithRenderHook(g.Hook))
	startOnTestGoroutine(t, d)

	first := make(chan error, 1)
	go func() { first <- d.SyncRender(context.Background()) }()
	<-g.entered

	second := make(chan error, 1)
	go func() { second <- d.SyncRender(context.Background()) }()
	require.Eventually(t, func() bool { return d.Dispatcher().Pending(*d.renderThread.Load()) == 1 },
		time.Second, 2*time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()
	require.Eventually(t, func() bool { return d.State() == StateClosed }, time.Second, time.Millisecond)
	g.Open()

	require.NoError(t, <-first)
	assert.ErrorIs(t, <-second, ErrThreadStopped)
	require.NoError(t, <-closed)
	assert.Equal(t, int32(1), g.calls.Load())
	assert.False(t, d.Healthy(time.Hour))
}

// TestDemo_EndToEnd plays a whole session the way cmd/clipdemo does: the test
// goroutine runs the UI loop while a script goroutine drives the demo.
func TestDemo_EndToEnd(t *testing.T) {
	var ready atomic.Bool
	d := newTestDemo(t, "", WithOnReady(func() { ready.Store(true) }))
	startOnTestGoroutine(t, d)
	obs := &observed{}
	require.NoError(t, d.AddClipPlaneModifiedObserver(obs.callback(d)))

	dir := t.TempDir()
	var paths []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	script := make(chan error, 1)
	go func() {
		defer cancel()
		script <- func() error {
			if err := d.AsyncRender(); err != nil {
				return err
			}
			if err := d.SyncRender(ctx); err != nil {
				return err
			}
			if err := d.UpdateClipPlaneNormal(0, 0, 1); err != nil {
				return err
			}
			if err := d.SyncRender(ctx); err != nil {
				return err
			}
			d.Abort()
			if err := d.SyncRender(ctx); err != nil {
				return err
			}
			var err error
			paths, err = d.SavePNG(dir, 3)
			if err != nil {
				return err
			}
			// Let the UI loop deliver the observer call.
			deadline := time.Now().Add(3 * time.Second)
			for len(obs.Normals()) == 0 && time.Now().Before(deadline) {
				time.Sleep(2 * time.Millisecond)
			}
			return nil
		}()
	}()

	err := d.RunUI(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, <-script)

	assert.True(t, ready.Load(), "ready notification ran on the UI thread")
	assert.Equal(t, uint64(4), d.Frames())
	assert.Equal(t, []Vec3{render.V(0, 0, 1)}, obs.Normals())
	assert.Zero(t, obs.offUI)
	assert.True(t, d.Healthy(time.Second))
	assert.NotNil(t, d.Snapshot())

	require.Len(t, paths, 1)
	_, err = os.Stat(paths[0])
	require.NoError(t, err)
	assert.Contains(t, paths[0], "canvas-0003.png")

	stats := d.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, core.RoleUI, stats[0].Name)
	assert.Equal(t, core.RoleRender, stats[1].Name)
	assert.GreaterOrEqual(t, stats[1].Executed, int64(4))

	names := map[string]bool{}
	for _, r := range d.RecentTasks(0) {
		names[r.Name] = true
	}
	assert.True(t, names["sync-render"])
	assert.True(t, names["async-render"])
	assert.True(t, names["update-clip-plane-normal"])

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.AsyncRender(), ErrClosed)
}

type frameCounter struct {
	core.NilMetrics
	frames atomic.Int32
}

func (m *frameCounter) RecordFrame(surface string, duration time.Duration, aborted bool) {
	if !aborted {
		m.frames.Add(1)
	}
}

func TestDemo_MetricsOption(t *testing.T) {
	metrics := &frameCounter{}
	d := newTestDemo(t, "#canvas", WithMetrics(metrics))
	startOnTestGoroutine(t, d)

	require.NoError(t, d.SyncRender(context.Background()))

	assert.Equal(t, int32(1), metrics.frames.Load())
}

// TestDemo_HealthyFollowsRenderThread
// Main test items:
// 1. A running demo with a live render loop is healthy
// 2. Once the render thread exits the demo is unhealthy, whatever the heartbeat age
func TestDemo_HealthyFollowsRenderThread(t *testing.T) {
	d := newTestDemo(t, "#canvas")
	startOnTestGoroutine(t, d)
	require.True(t, d.Healthy(time.Second))

	d.worker.Stop()
	<-d.worker.Done()

	assert.Equal(t, StateRunning, d.State())
	assert.False(t, d.Healthy(time.Hour))
}
