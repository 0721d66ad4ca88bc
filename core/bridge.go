package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// Callable is a callback with an explicit end of life. Dispose is called exactly
// once, when the bridge holding the callable is torn down.
type Callable[P any] interface {
	Call(p P)
	Dispose()
}

// CallableFunc adapts a plain function; its Dispose does nothing.
type CallableFunc[P any] func(P)

func (f CallableFunc[P]) Call(p P) { f(p) }
func (f CallableFunc[P]) Dispose() {}

// Submitter is the part of Dispatcher a Bridge posts deliveries through.
type Submitter interface {
	SubmitAsyncNamed(target ThreadHandle, name string, task Task) error
}

var _ Submitter = (*Dispatcher)(nil)

// Bridge forwards events fired on one thread to a callable on another.
//
// When the source fires (synchronously, on whatever thread fired it) the bridge
// copies the payload and posts an async delivery task to the target thread. The
// callable therefore only ever runs on the target thread, with the value the
// payload had at firing time. P should be a value type so the copy is a snapshot.
//
// The bridge belongs to its source: closing the source disposes the bridge.
type Bridge[P any] struct {
	name      string
	target    ThreadHandle
	submitter Submitter
	callable  Callable[P]
	logger    Logger

	mu  sync.Mutex
	sub Subscription

	// callMu serializes Call against Dispose of the callable.
	callMu sync.Mutex

	disposed  atomic.Bool
	fired     atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBridge subscribes to src and starts forwarding to callable on target.
// A nil logger discards diagnostics.
func NewBridge[P any](
	name string,
	src Observable[P],
	target ThreadHandle,
	submitter Submitter,
	callable Callable[P],
	logger Logger,
) (*Bridge[P], error) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	b := &Bridge[P]{
		name:      name,
		target:    target,
		submitter: submitter,
		callable:  callable,
		logger:    logger,
	}

	sub, err := src.Subscribe(b.forward, b.Dispose)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	// The source may have closed between Subscribe and here.
	if b.disposed.Load() {
		sub.Unsubscribe()
	}
	return b, nil
}

// forward runs on the firing thread.
func (b *Bridge[P]) forward(p P) {
	if b.disposed.Load() {
		return
	}
	b.fired.Add(1)

	snapshot := p
	err := b.submitter.SubmitAsyncNamed(b.target, b.name, func(ctx context.Context) error {
		b.deliver(snapshot)
		return nil
	})
	if err != nil {
		b.dropped.Add(1)
		b.logger.Warn("bridge delivery rejected", F("bridge", b.name), F("error", err))
	}
}

// deliver runs on the target thread. Deliveries still queued at Dispose are
// dropped; a Call already running finishes before the callable is disposed.
func (b *Bridge[P]) deliver(p P) {
	b.callMu.Lock()
	defer b.callMu.Unlock()
	if b.disposed.Load() {
		b.dropped.Add(1)
		return
	}
	b.callable.Call(p)
	b.delivered.Add(1)
}

// Dispose unsubscribes from the source, then disposes the callable. Only the
// first call does anything. It waits for a Call in progress on the target
// thread, so it must never run inside the callable, and the callable must not
// block on the disposing thread.
func (b *Bridge[P]) Dispose() {
	if !b.disposed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	sub := b.sub
	b.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}

	b.callMu.Lock()
	b.callable.Dispose()
	b.callMu.Unlock()
	b.logger.Debug("bridge disposed", F("bridge", b.name))
}

// Disposed reports whether the bridge was torn down.
func (b *Bridge[P]) Disposed() bool {
	return b.disposed.Load()
}

// Target returns the thread deliveries are posted to.
func (b *Bridge[P]) Target() ThreadHandle {
	return b.target
}

// Counts returns how many events were forwarded, delivered and dropped.
func (b *Bridge[P]) Counts() (fired, delivered, dropped int64) {
	return b.fired.Load(), b.delivered.Load(), b.dropped.Load()
}
