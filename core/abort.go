package core

import "sync/atomic"

// AbortSignal is a level-triggered cancellation flag for long-running work on the
// render thread. Any goroutine may set it without blocking; the running operation
// polls it at its own cancellation points. It stays set until Clear.
//
// A check that happens after Abort, however late, observes it.
type AbortSignal struct {
	aborted atomic.Bool
}

// NewAbortSignal returns a cleared signal.
func NewAbortSignal() *AbortSignal {
	return &AbortSignal{}
}

// Abort requests cancellation.
func (s *AbortSignal) Abort() {
	s.aborted.Store(true)
}

// Clear resets the signal before a new run.
func (s *AbortSignal) Clear() {
	s.aborted.Store(false)
}

// Set stores v directly.
func (s *AbortSignal) Set(v bool) {
	s.aborted.Store(v)
}

// Aborted reports whether cancellation was requested.
func (s *AbortSignal) Aborted() bool {
	return s.aborted.Load()
}

// Err returns ErrAborted while the signal is set.
func (s *AbortSignal) Err() error {
	if s.aborted.Load() {
		return ErrAborted
	}
	return nil
}
