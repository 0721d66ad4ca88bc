package core

import "sync"

const defaultTaskHistoryCapacity = 100

// HistoryQuery selects execution records, newest first. Zero fields match
// everything; a non-positive Limit returns every match.
type HistoryQuery struct {
	// Thread keeps only records of the thread with this role name.
	Thread string
	// FailedOnly keeps only failed or panicked tasks.
	FailedOnly bool
	Limit      int
}

func (q HistoryQuery) match(r *TaskExecutionRecord) bool {
	if q.Thread != "" && r.Thread != q.Thread {
		return false
	}
	return !q.FailedOnly || r.Failed
}

// executionHistory keeps the last executions of every thread sharing a
// dispatcher, so a cross-thread exchange reads in one timeline.
type executionHistory struct {
	mu      sync.Mutex
	records []TaskExecutionRecord
	written uint64
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{records: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[h.written%uint64(len(h.records))] = record
	h.written++
}

// Query walks the kept records from the newest and returns those q selects.
func (h *executionHistory) Query(q HistoryQuery) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := min(h.written, uint64(len(h.records)))
	var out []TaskExecutionRecord
	for i := uint64(1); i <= kept; i++ {
		r := &h.records[(h.written-i)%uint64(len(h.records))]
		if !q.match(r) {
			continue
		}
		out = append(out, *r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}
