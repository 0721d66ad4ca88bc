package core

import "github.com/petermattis/goid"

// currentGoroutineID returns the runtime id of the calling goroutine.
func currentGoroutineID() uint64 {
	return uint64(goid.Get())
}
