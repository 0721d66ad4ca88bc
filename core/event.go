package core

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Observable is the subscription capability of an event source with payload P.
type Observable[P any] interface {
	// Subscribe registers handler, called synchronously on the firing thread.
	// onDetach (may be nil) runs exactly once when the subscription ends, whether
	// by Unsubscribe or because the source closed.
	Subscribe(handler func(P), onDetach func()) (Subscription, error)
}

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription interface {
	ID() string

	// Unsubscribe detaches the handler. When it returns, no invocation of the
	// handler is in flight and none will start. It must not be called from
	// inside the handler itself. Idempotent.
	Unsubscribe()
}

// Event is a synchronous multi-subscriber event source.
type Event[P any] struct {
	name string

	mu     sync.Mutex
	subs   []*subscription[P]
	closed bool
}

// NewEvent creates an open event source named name.
func NewEvent[P any](name string) *Event[P] {
	return &Event[P]{name: name}
}

var _ Observable[struct{}] = (*Event[struct{}])(nil)

// Name returns the event name.
func (e *Event[P]) Name() string {
	return e.name
}

// Subscribe implements Observable.
func (e *Event[P]) Subscribe(handler func(P), onDetach func()) (Subscription, error) {
	s := &subscription[P]{
		id:       uuid.NewString(),
		event:    e,
		handler:  handler,
		onDetach: onDetach,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEventClosed
	}
	e.subs = append(e.subs, s)
	return s, nil
}

// Fire calls every current handler with p, in subscription order, on the
// calling goroutine. A closed source returns ErrEventClosed and calls nothing.
func (e *Event[P]) Fire(p P) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEventClosed
	}
	subs := slices.Clone(e.subs)
	e.mu.Unlock()

	for _, s := range subs {
		s.invoke(p)
	}
	return nil
}

// Len returns the number of live subscriptions.
func (e *Event[P]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Close detaches every subscription (running their onDetach hooks) and makes
// further Fire and Subscribe calls fail with ErrEventClosed.
func (e *Event[P]) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, s := range subs {
		s.detach()
	}
}

func (e *Event[P]) remove(target *subscription[P]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = slices.DeleteFunc(e.subs, func(s *subscription[P]) bool {
		return s == target
	})
}

type subscription[P any] struct {
	id       string
	event    *Event[P]
	handler  func(P)
	onDetach func()

	// mu is held shared for each invocation and exclusively to detach, so
	// detaching waits out an in-flight invocation.
	mu       sync.RWMutex
	detached bool
}

func (s *subscription[P]) ID() string {
	return s.id
}

func (s *subscription[P]) invoke(p P) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.detached || s.handler == nil {
		return
	}
	s.handler(p)
}

func (s *subscription[P]) Unsubscribe() {
	s.event.remove(s)
	s.detach()
}

func (s *subscription[P]) detach() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	s.mu.Unlock()

	if s.onDetach != nil {
		s.onDetach()
	}
}
