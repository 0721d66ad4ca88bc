package core

import (
	"context"
	"errors"
	"testing"
)

// TestTaskID_String verifies generated TaskIDs are distinct and printable
// Given: Two generated TaskIDs
// When: String is called
// Then: Both are non-empty and differ
func TestTaskID_String(t *testing.T) {
	// Act
	a, b := GenerateTaskID(), GenerateTaskID()

	// Assert
	if a.String() == "" {
		t.Fatal("TaskID.String() should not be empty")
	}
	if a == b {
		t.Fatal("two generated TaskIDs should differ")
	}
}

// TestCurrentThread verifies extracting the executing thread from context
// Given: A plain context and a context annotated with a handle
// When: CurrentThread is called
// Then: It reports nothing for the plain context and the handle otherwise
func TestCurrentThread(t *testing.T) {
	if _, ok := CurrentThread(context.Background()); ok {
		t.Fatal("CurrentThread(background) reported a thread")
	}

	h := ThreadHandle{id: 7}
	got, ok := CurrentThread(WithThread(context.Background(), h))
	if !ok || got != h {
		t.Fatalf("CurrentThread() = %v, %v; want %v, true", got, ok, h)
	}
}

// TestRunTask_RecoversPanic verifies panics become errors
// Given: A panicking task, an erroring task and a nil task
// When: runTask executes them
// Then: Each returns an error; the panic is a *PanicError that unwraps error values
func TestRunTask_RecoversPanic(t *testing.T) {
	boom := errors.New("boom")

	err := runTask(context.Background(), func(ctx context.Context) error { panic(boom) })
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PanicError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("PanicError should unwrap to the panic value")
	}

	err = runTask(context.Background(), func(ctx context.Context) error { panic("text") })
	if !errors.As(err, &pe) || pe.Unwrap() != nil {
		t.Errorf("string panic: err = %v", err)
	}

	if err := runTask(context.Background(), func(ctx context.Context) error { return boom }); err != boom {
		t.Errorf("err = %v, want boom", err)
	}
	if err := runTask(context.Background(), nil); err == nil {
		t.Error("nil task should fail")
	}
}

// TestSubmitMode_String verifies mode labels
// Given: Both submit modes and an unknown one
// When: String is called
// Then: Known modes have lowercase labels
func TestSubmitMode_String(t *testing.T) {
	cases := map[SubmitMode]string{ModeAsync: "async", ModeSync: "sync", SubmitMode(9): "mode(9)"}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(mode), got, want)
		}
	}
}
