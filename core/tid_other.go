//go:build !linux

package core

// osThreadID is only available on Linux; elsewhere the registry records 0.
func osThreadID() int {
	return 0
}
