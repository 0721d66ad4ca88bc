package core

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueCap = 16

// TaskItem is a queued task plus its delivery metadata.
type TaskItem struct {
	ID       TaskID
	Name     string
	Task     Task
	Mode     SubmitMode
	Target   ThreadHandle
	QueuedAt time.Time

	// done receives the task outcome for ModeSync submissions (buffered, cap 1).
	done chan error
	// settled is claimed once for ModeSync: by the executor handing the outcome
	// to the submitter, or by the submitter giving up on it.
	settled atomic.Bool
}

// =============================================================================
// FIFOTaskQueue: mutex-guarded slice, one per target thread
// =============================================================================

type FIFOTaskQueue struct {
	mu    sync.Mutex
	tasks []*TaskItem
}

func NewFIFOTaskQueue() *FIFOTaskQueue {
	return &FIFOTaskQueue{
		tasks: make([]*TaskItem, 0, defaultQueueCap),
	}
}

// Push appends item. The position taken here is the item's execution order.
func (q *FIFOTaskQueue) Push(item *TaskItem) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, item)
	return len(q.tasks)
}

// PopAll removes and returns every item queued at the time of the call, in order.
// The queue starts over on a small fresh slice, so a burst does not pin a large
// backing array.
func (q *FIFOTaskQueue) PopAll() []*TaskItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}

	batch := q.tasks
	q.tasks = make([]*TaskItem, 0, defaultQueueCap)
	return batch
}

func (q *FIFOTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Clear removes all tasks from the queue and returns them so the caller can
// fail any sync waiters.
func (q *FIFOTaskQueue) Clear() []*TaskItem {
	return q.PopAll()
}
