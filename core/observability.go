package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	Thread     string
	Mode       SubmitMode
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Failed     bool
	Panicked   bool
}

// ThreadStats represents runtime observability state for one thread's mailbox.
type ThreadStats struct {
	Name         string
	OSThreadID   int
	Pending      int
	Running      int
	Executed     int64
	Failed       int64
	Rejected     int64
	Closed       bool
	LastTaskName string
	LastTaskAt   time.Time
	LastBeat     time.Time
}
