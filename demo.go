package asyncrender

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Swind/go-async-render/core"
	"github.com/Swind/go-async-render/render"
)

// State is the lifecycle state of a Demo.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateFailed:
		return "Failed"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Demo is the interactive clipping demo: a UI thread that calls the public
// methods and drains its own mailbox, and a render thread that exclusively
// owns the pipeline and its surfaces.
//
// Every method may be called from any goroutine unless its doc says otherwise.
// Work for the pipeline is posted to the render thread; observer callbacks are
// posted to the UI thread and run when it drains (DrainUI or RunUI).
type Demo struct {
	surfaceID string
	cfg       Config
	opts      options
	logger    core.Logger
	metrics   core.Metrics

	registry   *core.ThreadRegistry
	dispatcher *core.Dispatcher
	abort      *core.AbortSignal
	frames     atomic.Uint64

	state    atomic.Int32
	startErr atomic.Pointer[StartupError]

	uiThread     atomic.Pointer[core.ThreadHandle]
	renderThread atomic.Pointer[core.ThreadHandle]

	mu       sync.Mutex
	worker   *renderWorker
	uiLoop   *core.Loop
	surfaces []*render.Surface

	obsMu           sync.Mutex
	pendingObserver core.Callable[render.Vec3]

	// Render-thread state. Only tasks running on the render thread touch these.
	pipeline    render.Pipeline
	bridge      *core.Bridge[render.Vec3]
	interaction core.Subscription
}

// New constructs a demo for surfaceID. An empty id renders to every surface in
// the configured default list; otherwise the id names one surface ("#canvas").
// Nothing runs until Start.
func New(surfaceID string, opts ...Option) (*Demo, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := DefaultConfig()
	if o.config != nil {
		cfg = o.config.withDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		level, _ := core.ParseLevel(cfg.LogLevel)
		logger = core.NewWriterLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, level)
	}
	metrics := o.metrics
	if metrics == nil {
		metrics = &core.NilMetrics{}
	}

	registry := core.NewThreadRegistry()
	dispatcher := core.NewDispatcher(registry, &core.DispatcherConfig{
		Logger:          logger,
		Metrics:         metrics,
		FailureHandler:  o.failureHandler,
		HistoryCapacity: cfg.HistoryCapacity,
	})

	return &Demo{
		surfaceID:  surfaceID,
		cfg:        cfg,
		opts:       o,
		logger:     logger,
		metrics:    metrics,
		registry:   registry,
		dispatcher: dispatcher,
		abort:      core.NewAbortSignal(),
	}, nil
}

// State returns the current lifecycle state.
func (d *Demo) State() State {
	return State(d.state.Load())
}

// Start registers the calling goroutine as the UI thread and brings up the
// render thread. It blocks until the render thread is running or failed.
//
// Start is idempotent: while another call is starting the demo, or after it
// started, it returns nil immediately. After a failed start it returns the
// same *StartupError again.
func (d *Demo) Start() error {
	if !d.state.CompareAndSwap(int32(StateNotStarted), int32(StateStarting)) {
		switch d.State() {
		case StateFailed:
			if err := d.startErr.Load(); err != nil {
				return err
			}
			return &StartupError{Stage: "start", Err: ErrNotStarted}
		case StateClosed:
			return ErrClosed
		default:
			d.logger.Debug("start ignored", core.F("state", d.State().String()))
			return nil
		}
	}
	d.logger.Info("starting", core.F("surface", d.surfaceID), core.F("caller", d.registry.Describe()))

	specs, err := render.ResolveSurfaces(d.surfaceID, d.cfg.Surfaces)
	if err != nil {
		return d.fail(&StartupError{Stage: "surface", Err: err})
	}
	surfaces := make([]*render.Surface, 0, len(specs))
	for _, spec := range specs {
		s, err := render.NewSurface(spec)
		if err != nil {
			return d.fail(&StartupError{Stage: "surface", Err: err})
		}
		surfaces = append(surfaces, s)
	}

	ui := d.registry.Register(core.RoleUI)
	if err := d.dispatcher.Open(ui); err != nil {
		d.registry.Unregister(ui)
		return d.fail(&StartupError{Stage: "mailbox", Err: err})
	}
	d.uiThread.Store(&ui)

	handshake := make(chan error, 1)
	worker := newRenderWorker(d, surfaces)

	d.mu.Lock()
	d.worker = worker
	d.uiLoop = core.NewLoop(d.dispatcher, ui, d.cfg.IdleTick)
	d.surfaces = surfaces
	d.mu.Unlock()

	worker.Start(context.Background(), handshake)

	timer := time.NewTimer(d.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case err = <-handshake:
	case <-timer.C:
		if d.state.CompareAndSwap(int32(StateStarting), int32(StateFailed)) {
			serr := &StartupError{Stage: "handshake", Err: ErrStartTimeout}
			d.startErr.Store(serr)
			worker.Stop()
			d.dispatcher.Close(ui)
			d.logger.Error("start failed", core.F("error", serr))
			return serr
		}
		// The render thread finished setup while the timer fired.
		err = <-handshake
	}

	if err != nil {
		d.dispatcher.Close(ui)
		serr, ok := err.(*StartupError)
		if !ok {
			serr = &StartupError{Stage: "worker", Err: err}
		}
		return d.fail(serr)
	}

	d.logger.Info("started", core.F("surfaces", len(surfaces)))
	return nil
}

func (d *Demo) fail(err *StartupError) error {
	if d.state.CompareAndSwap(int32(StateStarting), int32(StateFailed)) {
		d.startErr.Store(err)
	}
	d.logger.Error("start failed", core.F("error", err))
	return err
}

// renderHandle returns the render thread handle once running.
func (d *Demo) renderHandle() (core.ThreadHandle, error) {
	switch d.State() {
	case StateRunning:
	case StateClosed:
		return core.ThreadHandle{}, ErrClosed
	default:
		return core.ThreadHandle{}, ErrNotStarted
	}
	return *d.renderThread.Load(), nil
}

// Abort requests the frame in progress to stop at its next cancellation
// point. It never blocks and may be called at any time. The flag stays set
// until the next render request clears it.
func (d *Demo) Abort() {
	d.abort.Abort()
	d.logger.Debug("abort requested", core.F("caller", d.registry.Describe()))
}

// UpdateClipPlaneNormal reorients the clip plane and the widget. The change is
// visible in the next frame; observers are notified on the UI thread.
func (d *Demo) UpdateClipPlaneNormal(nx, ny, nz float64) error {
	target, err := d.renderHandle()
	if err != nil {
		return err
	}
	n := render.V(nx, ny, nz)
	task := func(ctx context.Context) error {
		d.pipeline.SetClipPlaneNormal(n)
		d.pipeline.SyncWidget()
		return nil
	}
	if d.registry.IsCurrent(target) {
		return task(context.Background())
	}
	return d.dispatcher.SubmitAsyncNamed(target, "update-clip-plane-normal", task)
}

// renderFrame runs on the render thread. The abort flag is cleared right
// before rendering; an Abort landing between the two cancels this frame.
func (d *Demo) renderFrame(ctx context.Context) error {
	d.pipeline.SetAbortFlag(false)
	if err := d.pipeline.Render(ctx); err != nil {
		return err
	}
	d.frames.Add(1)
	return nil
}

// SyncRender blocks until a frame has been produced and returns its failure,
// if any, as a *core.TaskError. It returns core.ErrSyncOnSelf on the render
// thread. If ctx ends first the frame is still rendered.
func (d *Demo) SyncRender(ctx context.Context) error {
	target, err := d.renderHandle()
	if err != nil {
		return err
	}
	return d.dispatcher.SubmitSyncNamed(ctx, target, "sync-render", d.renderFrame)
}

// AsyncRender schedules a frame and returns. A failed frame is only reported
// to the failure handler and the logs.
func (d *Demo) AsyncRender() error {
	target, err := d.renderHandle()
	if err != nil {
		return err
	}
	return d.dispatcher.SubmitAsyncNamed(target, "async-render", d.renderFrame)
}

// AddClipPlaneModifiedObserver registers cb as the one clip plane observer,
// replacing any previous one. cb runs on the UI thread with the new normal
// after every change of the plane. Registering before Start is allowed.
// cb must not wait on the render thread (SyncRender); replacing or closing
// waits for a running cb to return.
func (d *Demo) AddClipPlaneModifiedObserver(cb func(x, y, z float64)) error {
	if cb == nil {
		return errors.New("asyncrender: nil observer")
	}
	callable := core.CallableFunc[render.Vec3](func(n render.Vec3) {
		cb(n.Components())
	})

	d.obsMu.Lock()
	defer d.obsMu.Unlock()

	switch d.State() {
	case StateClosed:
		return ErrClosed
	case StateRunning:
		d.pendingObserver = callable
		return d.dispatcher.SubmitAsyncNamed(*d.renderThread.Load(), "attach-observer", func(ctx context.Context) error {
			d.attachPendingObserver()
			return nil
		})
	default:
		d.pendingObserver = callable
		return nil
	}
}

// attachPendingObserver runs on the render thread. It bridges the pending
// observer, if any, from the plane to the UI thread, disposing the old bridge.
func (d *Demo) attachPendingObserver() {
	d.obsMu.Lock()
	callable := d.pendingObserver
	d.pendingObserver = nil
	d.obsMu.Unlock()

	if callable == nil {
		return
	}
	if d.bridge != nil {
		d.bridge.Dispose()
		d.bridge = nil
	}
	bridge, err := core.NewBridge[render.Vec3](
		"clip-plane-modified",
		d.pipeline.PlaneModified(),
		*d.uiThread.Load(),
		d.dispatcher,
		callable,
		d.logger,
	)
	if err != nil {
		d.logger.Error("observer attach failed", core.F("error", err))
		return
	}
	d.bridge = bridge
	d.logger.Debug("observer attached", core.F("thread", d.registry.Describe()))
}

// onInteraction runs on the render thread after a widget drag.
func (d *Demo) onInteraction(n render.Vec3) {
	d.pipeline.ApplyWidgetPlane()
	d.pipeline.SetAbortFlag(false)
	if err := d.dispatcher.SubmitAsyncNamed(*d.renderThread.Load(), "interaction-render", d.renderFrame); err != nil {
		d.logger.Warn("interaction render not scheduled", core.F("error", err))
	}
}

func (d *Demo) postReady() {
	ui := *d.uiThread.Load()
	fn := d.opts.onReady
	err := d.dispatcher.SubmitAsyncNamed(ui, "ready", func(ctx context.Context) error {
		d.logger.Info("render thread ready", core.F("thread", d.registry.Describe()))
		if fn != nil {
			fn()
		}
		return nil
	})
	if err != nil {
		d.logger.Warn("ready notification dropped", core.F("error", err))
	}
}

// DragWidget simulates an interactive drag of the plane widget to the given
// normal. The drag is processed by the render loop like pointer input.
func (d *Demo) DragWidget(nx, ny, nz float64) error {
	if _, err := d.renderHandle(); err != nil {
		return err
	}
	d.pipeline.Drag(render.V(nx, ny, nz))
	return nil
}

// QueryClipPlaneNormal reads the clip plane on the render thread and passes
// the normal to reply on the UI thread.
func (d *Demo) QueryClipPlaneNormal(reply func(x, y, z float64)) error {
	target, err := d.renderHandle()
	if err != nil {
		return err
	}
	return core.PostTaskAndReplyWithResult(
		d.dispatcher,
		target,
		func(ctx context.Context) (render.Vec3, error) {
			return d.pipeline.ClipPlaneNormal(), nil
		},
		func(ctx context.Context, n render.Vec3, err error) {
			reply(n.Components())
		},
		*d.uiThread.Load(),
	)
}

// DrainUI runs the tasks queued for the UI thread. It must be called on the
// goroutine that called Start; elsewhere it runs nothing.
func (d *Demo) DrainUI() int {
	ui := d.uiThread.Load()
	if ui == nil {
		return 0
	}
	return d.dispatcher.Drain(*ui)
}

// RunUI runs the UI thread loop until ctx ends or Close. It must be called on
// the goroutine that called Start.
func (d *Demo) RunUI(ctx context.Context) error {
	d.mu.Lock()
	loop := d.uiLoop
	d.mu.Unlock()
	if loop == nil {
		return ErrNotStarted
	}
	return loop.Run(ctx, nil)
}

// IsUIThread reports whether the caller is the UI thread.
func (d *Demo) IsUIThread() bool {
	h := d.uiThread.Load()
	return h != nil && d.registry.IsCurrent(*h)
}

// IsRenderThread reports whether the caller is the render thread.
func (d *Demo) IsRenderThread() bool {
	h := d.renderThread.Load()
	return h != nil && d.registry.IsCurrent(*h)
}

// Healthy reports whether the render thread is alive and its loop iterated
// within maxAge.
func (d *Demo) Healthy(maxAge time.Duration) bool {
	if d.State() != StateRunning {
		return false
	}
	d.mu.Lock()
	w := d.worker
	d.mu.Unlock()
	if w == nil || !w.IsRunning() {
		return false
	}
	loop := w.Loop()
	return loop != nil && loop.Alive(maxAge)
}

// Frames returns the number of frames rendered to completion.
func (d *Demo) Frames() uint64 {
	return d.frames.Load()
}

// Snapshot returns the last frame of the first surface, or nil.
func (d *Demo) Snapshot() image.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.surfaces) == 0 {
		return nil
	}
	return d.surfaces[0].Snapshot()
}

// SavePNG writes the last frame of every surface to dir, one file per surface
// named after its id, and returns the paths.
func (d *Demo) SavePNG(dir string, frame int) ([]string, error) {
	d.mu.Lock()
	surfaces := d.surfaces
	d.mu.Unlock()
	if len(surfaces) == 0 {
		return nil, ErrNotStarted
	}

	paths := make([]string, 0, len(surfaces))
	for _, s := range surfaces {
		path := filepath.Join(dir, fmt.Sprintf("%s-%04d.png", s.ID()[1:], frame))
		if err := s.SavePNG(path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// RecentTasks returns up to n executed tasks across both threads, newest first.
func (d *Demo) RecentTasks(n int) []core.TaskExecutionRecord {
	return d.dispatcher.Recent(n)
}

// RecentFailures returns up to n failed tasks of the render thread, newest
// first. Failed AsyncRender frames show up here.
func (d *Demo) RecentFailures(n int) []core.TaskExecutionRecord {
	return d.dispatcher.History(core.HistoryQuery{Thread: core.RoleRender, FailedOnly: true, Limit: n})
}

// Stats returns the mailbox statistics of the UI and render threads.
func (d *Demo) Stats() []core.ThreadStats {
	var out []core.ThreadStats
	for _, h := range []*core.ThreadHandle{d.uiThread.Load(), d.renderThread.Load()} {
		if h != nil {
			out = append(out, d.dispatcher.Stats(*h))
		}
	}
	return out
}

// Dispatcher exposes the task queue shared by both threads.
func (d *Demo) Dispatcher() *core.Dispatcher {
	return d.dispatcher
}

// Close stops the render thread and tears down the pipeline on it. Pending
// SyncRender calls fail with core.ErrThreadStopped. Close waits for the
// teardown unless called on the render thread.
func (d *Demo) Close() error {
	prev := State(d.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}
	d.logger.Info("closing", core.F("state", prev.String()))

	d.mu.Lock()
	worker := d.worker
	uiLoop := d.uiLoop
	d.mu.Unlock()

	if worker != nil {
		worker.Stop()
		if !d.IsRenderThread() {
			select {
			case <-worker.Done():
			case <-time.After(d.cfg.StartTimeout):
				d.logger.Warn("render thread did not stop in time")
			}
		}
	}
	if uiLoop != nil {
		uiLoop.Stop()
	}
	if ui := d.uiThread.Load(); ui != nil {
		d.dispatcher.Close(*ui)
		d.registry.Unregister(*ui)
	}
	return nil
}
