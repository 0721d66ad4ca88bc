package asyncrender

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by operations that need the render thread before Start succeeded.
	ErrNotStarted = errors.New("asyncrender: demo not started")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("asyncrender: demo closed")

	// ErrStartTimeout is the cause of a StartupError when the render thread did not
	// report back within the configured start timeout.
	ErrStartTimeout = errors.New("asyncrender: render thread did not report ready in time")
)

// StartupError reports why the render thread could not be brought up. The
// process is unaffected; the demo stays in StateFailed.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("asyncrender: start failed (%s): %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
