package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentGoroutineID(t *testing.T) {
	here := currentGoroutineID()
	other := make(chan uint64)
	go func() { other <- currentGoroutineID() }()

	assert.NotZero(t, here)
	assert.Equal(t, here, currentGoroutineID())
	assert.NotEqual(t, here, <-other)
}
