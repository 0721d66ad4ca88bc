package core

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEvent_FireInSubscriptionOrder
// Main test items:
// 1. Fire calls every handler synchronously, in subscription order
// 2. Unsubscribed handlers are no longer called
func TestEvent_FireInSubscriptionOrder(t *testing.T) {
	e := NewEvent[int]("modified")
	var got []string

	first, err := e.Subscribe(func(v int) { got = append(got, "first") }, nil)
	require.NoError(t, err)
	_, err = e.Subscribe(func(v int) { got = append(got, "second") }, nil)
	require.NoError(t, err)

	require.NoError(t, e.Fire(1))
	assert.Equal(t, []string{"first", "second"}, got)

	first.Unsubscribe()
	first.Unsubscribe()
	require.NoError(t, e.Fire(2))
	assert.Equal(t, []string{"first", "second", "second"}, got)
	assert.Equal(t, 1, e.Len())
	assert.Equal(t, "modified", e.Name())
	assert.NotEmpty(t, first.ID())
}

// TestEvent_CloseDetachesSubscribers
// Main test items:
// 1. Close runs every onDetach hook exactly once
// 2. A closed source leaves no subscription behind
// 3. Fire and Subscribe on a closed source fail with ErrEventClosed
func TestEvent_CloseDetachesSubscribers(t *testing.T) {
	e := NewEvent[string]("modified")
	var detached atomic.Int32
	var calls atomic.Int32

	sub, err := e.Subscribe(func(string) { calls.Add(1) }, func() { detached.Add(1) })
	require.NoError(t, err)

	e.Close()
	e.Close()
	sub.Unsubscribe()

	assert.Equal(t, int32(1), detached.Load())
	assert.Zero(t, e.Len())
	assert.ErrorIs(t, e.Fire("x"), ErrEventClosed)
	assert.Zero(t, calls.Load())

	_, err = e.Subscribe(func(string) {}, nil)
	assert.ErrorIs(t, err, ErrEventClosed)
}

// TestEvent_UnsubscribeWaitsForInFlightHandler
// Main test items:
// 1. Unsubscribe returns only after a running handler finished
func TestEvent_UnsubscribeWaitsForInFlightHandler(t *testing.T) {
	e := NewEvent[int]("modified")
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	sub, err := e.Subscribe(func(int) {
		close(entered)
		<-release
		finished.Store(true)
	}, nil)
	require.NoError(t, err)

	go func() { _ = e.Fire(1) }()
	<-entered

	done := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Unsubscribe returned while the handler was running")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	<-done
	assert.True(t, finished.Load())
}
