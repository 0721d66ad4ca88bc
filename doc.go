// Package asyncrender coordinates an interactive clipping demo across two
// long-lived threads: a UI thread that owns the host side and a render thread
// that exclusively owns the render pipeline and its surfaces.
//
// The threads never share pipeline state. The UI thread posts tasks to the
// render thread (synchronously or asynchronously) and the render thread posts
// callbacks back, all through one cross-thread task queue with a FIFO mailbox
// per thread. Each thread drains its own mailbox in its event loop.
//
// # Quick Start
//
// Construct the demo, start it from the goroutine that will act as the UI
// thread and run the UI loop there:
//
//	demo, err := asyncrender.New("#canvas")
//	if err != nil {
//		return err
//	}
//	if err := demo.Start(); err != nil {
//		return err
//	}
//	defer demo.Close()
//
//	demo.AddClipPlaneModifiedObserver(func(x, y, z float64) {
//		// Runs on the UI thread.
//		fmt.Printf("plane normal (%g, %g, %g)\n", x, y, z)
//	})
//
//	go func() {
//		demo.UpdateClipPlaneNormal(0, 0, 1)
//		demo.SyncRender(context.Background())
//	}()
//	demo.RunUI(ctx)
//
// # Key Concepts
//
// Dispatcher: the cross-thread task queue. SubmitSync blocks until the one task
// it submitted has run and returns its failure; SubmitAsync returns at once and
// an async failure is only visible to the TaskFailureHandler, the logs and the
// metrics.
//
// Bridge: forwards an event fired on the render thread to a callback on the UI
// thread, copying the payload at firing time. It is disposed together with the
// event source.
//
// AbortSignal: a lock-free, level-triggered flag. Abort sets it from any
// thread; the clip pass polls it; every render request clears it first.
//
// # Lifecycle
//
// Start moves the demo from NotStarted to Starting exactly once; concurrent and
// later calls return nil. The render thread reports back through a handshake and
// the demo becomes Running, or Failed with a *StartupError.
//
// For more details, see https://github.com/Swind/go-async-render
package asyncrender
