package asyncrender

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-async-render/core"
	"github.com/Swind/go-async-render/render"
)

// renderWorker owns the render thread: a single goroutine locked to its OS
// thread for its whole life. It builds the pipeline there, reports back to
// Start, then runs the thread loop until stopped.
type renderWorker struct {
	demo     *Demo
	surfaces []*render.Surface

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	loop      atomic.Pointer[core.Loop]
	running   bool
	runningMu sync.RWMutex
}

func newRenderWorker(d *Demo, surfaces []*render.Surface) *renderWorker {
	return &renderWorker{
		demo:     d,
		surfaces: surfaces,
		done:     make(chan struct{}),
	}
}

// Start spawns the render thread. Setup errors arrive on handshake; a nil
// means the demo is Running.
func (w *renderWorker) Start(ctx context.Context, handshake chan<- error) {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()

	if w.running {
		return
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	go w.run(w.ctx, handshake)
}

// Stop asks the render loop to exit. Teardown happens on the render thread.
func (w *renderWorker) Stop() {
	w.runningMu.RLock()
	cancel := w.cancel
	w.runningMu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed after teardown.
func (w *renderWorker) Done() <-chan struct{} {
	return w.done
}

// IsRunning reports whether the render thread was started and has not exited.
func (w *renderWorker) IsRunning() bool {
	w.runningMu.RLock()
	defer w.runningMu.RUnlock()
	return w.running
}

// Loop returns the render loop once setup got that far.
func (w *renderWorker) Loop() *core.Loop {
	return w.loop.Load()
}

func (w *renderWorker) run(ctx context.Context, handshake chan<- error) {
	defer close(w.done)
	defer func() {
		w.runningMu.Lock()
		w.running = false
		w.runningMu.Unlock()
	}()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	d := w.demo
	logger := d.logger

	handle, err := w.setup()
	if handle.IsZero() {
		handshake <- err
		return
	}
	defer d.registry.Unregister(handle)
	defer d.dispatcher.Close(handle)
	if err != nil {
		w.teardown()
		handshake <- err
		return
	}

	if !d.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		w.teardown()
		handshake <- &StartupError{Stage: "handshake", Err: fmt.Errorf("start abandoned in state %s", d.State())}
		return
	}

	d.attachPendingObserver()
	d.postReady()
	handshake <- nil

	loop := w.loop.Load()
	logger.Info("render loop started", core.F("thread", core.RoleRender))
	err = loop.Run(ctx, d.pipeline)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("render loop exited", core.F("thread", core.RoleRender), core.F("error", err))
	}
	w.teardown()
	logger.Info("render loop stopped", core.F("thread", core.RoleRender))
}

// setup registers the render thread and builds the pipeline on it. A zero
// handle means nothing needs undoing.
func (w *renderWorker) setup() (handle core.ThreadHandle, err error) {
	d := w.demo
	defer func() {
		if r := recover(); r != nil {
			err = &StartupError{Stage: "worker", Err: &core.PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()

	handle = d.registry.Register(core.RoleRender)
	if err := d.dispatcher.Open(handle); err != nil {
		d.registry.Unregister(handle)
		return core.ThreadHandle{}, &StartupError{Stage: "mailbox", Err: err}
	}

	for _, s := range w.surfaces {
		if err := s.Transfer(d.registry, handle); err != nil {
			return handle, &StartupError{Stage: "surface", Err: err}
		}
	}

	pcfg := d.cfg.pipelineConfig()
	pcfg.Abort = d.abort
	pcfg.RenderHook = d.opts.renderHook
	pcfg.Logger = d.logger
	pcfg.Metrics = d.metrics
	p, err := render.NewClipPipeline(pcfg, w.surfaces)
	if err != nil {
		return handle, &StartupError{Stage: "pipeline", Err: err}
	}
	d.pipeline = p

	sub, err := p.Interaction().Subscribe(d.onInteraction, nil)
	if err != nil {
		return handle, &StartupError{Stage: "pipeline", Err: err}
	}
	d.interaction = sub

	w.loop.Store(core.NewLoop(d.dispatcher, handle, d.cfg.IdleTick))
	d.renderThread.Store(&handle)
	return handle, nil
}

// teardown runs on the render thread: bridges first, then the pipeline.
func (w *renderWorker) teardown() {
	d := w.demo
	if d.bridge != nil {
		d.bridge.Dispose()
		d.bridge = nil
	}
	if d.interaction != nil {
		d.interaction.Unsubscribe()
		d.interaction = nil
	}
	if d.pipeline != nil {
		if err := d.pipeline.Close(); err != nil {
			d.logger.Warn("pipeline close failed", core.F("error", err))
		}
		return
	}
	for _, s := range w.surfaces {
		_ = s.Close()
	}
}
