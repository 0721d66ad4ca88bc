package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const defaultIdleTick = 50 * time.Millisecond

// InputSource is per-thread work that a Loop interleaves with draining its
// mailbox, e.g. the input events of a render pipeline.
type InputSource interface {
	// ProcessEvents handles whatever input is pending and returns how much.
	// It must not block waiting for new input.
	ProcessEvents() int

	// Ready receives when new input may be pending.
	Ready() <-chan struct{}
}

// Loop is the event loop of one registered thread. Each iteration drains the
// thread's mailbox, pumps its InputSource and beats the heartbeat, then sleeps
// until a task is queued, input arrives, or the idle tick elapses.
//
// Run must be called by the goroutine that registered the handle. It locks that
// goroutine to its OS thread so thread-affine resources stay on one thread.
type Loop struct {
	dispatcher *Dispatcher
	handle     ThreadHandle
	idleTick   time.Duration

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLoop creates a loop for handle. A non-positive idleTick uses 50ms.
func NewLoop(d *Dispatcher, handle ThreadHandle, idleTick time.Duration) *Loop {
	if idleTick <= 0 {
		idleTick = defaultIdleTick
	}
	return &Loop{
		dispatcher: d,
		handle:     handle,
		idleTick:   idleTick,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Handle returns the thread this loop serves.
func (l *Loop) Handle() ThreadHandle {
	return l.handle
}

// Run processes tasks and input until ctx ends or Stop is called.
// It returns nil after Stop and ctx.Err() on cancellation.
func (l *Loop) Run(ctx context.Context, src InputSource) error {
	if !l.dispatcher.registry.IsCurrent(l.handle) {
		return ErrWrongThread
	}
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("core: loop already running")
	}
	defer close(l.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	wake := l.dispatcher.Wake(l.handle)
	var ready <-chan struct{}
	if src != nil {
		ready = src.Ready()
	}

	ticker := time.NewTicker(l.idleTick)
	defer ticker.Stop()

	logger := l.dispatcher.logger
	name := l.dispatcher.registry.Name(l.handle)
	logger.Debug("loop started", F("thread", name))

	for {
		// A stopped loop runs nothing more, even with tasks queued.
		select {
		case <-ctx.Done():
			logger.Debug("loop cancelled", F("thread", name))
			return ctx.Err()
		case <-l.stop:
			logger.Debug("loop stopped", F("thread", name))
			return nil
		default:
		}

		l.RunOnce(src)

		select {
		case <-ctx.Done():
			logger.Debug("loop cancelled", F("thread", name))
			return ctx.Err()
		case <-l.stop:
			logger.Debug("loop stopped", F("thread", name))
			return nil
		case <-wake:
		case <-ready:
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single iteration without waiting: drain the mailbox, pump
// src (may be nil), beat. Hosts that own their own loop call this each tick.
func (l *Loop) RunOnce(src InputSource) int {
	n := l.dispatcher.Drain(l.handle)
	if src != nil {
		n += src.ProcessEvents()
	}
	l.dispatcher.Beat(l.handle)
	return n
}

// Stop asks Run to return after the current iteration. Safe to call repeatedly
// and from any goroutine, including from a task running on the loop.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// Done is closed when Run returns. It never closes if Run was never called.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Heartbeat returns the time of the most recent loop iteration.
func (l *Loop) Heartbeat() time.Time {
	return l.dispatcher.LastBeat(l.handle)
}

// Alive reports whether the loop iterated within maxAge. A loop blocked inside
// a long task, or one that exited, stops beating.
func (l *Loop) Alive(maxAge time.Duration) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	return time.Since(l.Heartbeat()) <= maxAge
}

// Stats returns the mailbox snapshot of this loop's thread.
func (l *Loop) Stats() ThreadStats {
	return l.dispatcher.Stats(l.handle)
}
