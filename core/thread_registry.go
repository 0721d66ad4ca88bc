package core

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Well-known thread roles.
const (
	RoleUI     = "UI"
	RoleRender = "Render"
)

// ThreadHandle is an opaque identifier of a registered thread of execution.
// Handles are comparable and never reused within a registry.
type ThreadHandle struct {
	id uint64
}

// IsZero reports whether h is the zero handle ("no thread").
func (h ThreadHandle) IsZero() bool {
	return h.id == 0
}

func (h ThreadHandle) String() string {
	if h.id == 0 {
		return "thread(none)"
	}
	return fmt.Sprintf("thread(%d)", h.id)
}

type threadInfo struct {
	role         string
	goroutineID  uint64
	osThreadID   int
	registeredAt time.Time
}

// ThreadInfo is a read-only view of a registration.
type ThreadInfo struct {
	Handle       ThreadHandle
	Role         string
	OSThreadID   int
	RegisteredAt time.Time
}

// ThreadRegistry maps thread handles to human-readable roles and binds each
// handle to the goroutine that registered it.
//
// A thread registers itself once at startup; every later lookup is ordered after
// that registration by the registry lock.
type ThreadRegistry struct {
	mu          sync.RWMutex
	next        uint64
	byHandle    map[ThreadHandle]threadInfo
	byGoroutine map[uint64]ThreadHandle
}

// NewThreadRegistry creates an empty registry.
func NewThreadRegistry() *ThreadRegistry {
	return &ThreadRegistry{
		byHandle:    make(map[ThreadHandle]threadInfo),
		byGoroutine: make(map[uint64]ThreadHandle),
	}
}

// Register binds the calling goroutine to a new handle under role.
// Registering the same goroutine again issues a new handle and rebinds it.
func (r *ThreadRegistry) Register(role string) ThreadHandle {
	gid := currentGoroutineID()
	tid := osThreadID()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := ThreadHandle{id: r.next}
	r.byHandle[h] = threadInfo{
		role:         role,
		goroutineID:  gid,
		osThreadID:   tid,
		registeredAt: time.Now(),
	}
	r.byGoroutine[gid] = h
	return h
}

// Unregister drops the goroutine binding of h. The role stays resolvable so that
// late log lines and stats still name the thread.
func (r *ThreadRegistry) Unregister(h ThreadHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.byHandle[h]
	if !ok {
		return
	}
	if r.byGoroutine[info.goroutineID] == h {
		delete(r.byGoroutine, info.goroutineID)
	}
}

// Lookup returns the role registered for h.
func (r *ThreadRegistry) Lookup(h ThreadHandle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byHandle[h]
	return info.role, ok
}

// Info returns the full registration of h.
func (r *ThreadRegistry) Info(h ThreadHandle) (ThreadInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byHandle[h]
	if !ok {
		return ThreadInfo{}, false
	}
	return ThreadInfo{
		Handle:       h,
		Role:         info.role,
		OSThreadID:   info.osThreadID,
		RegisteredAt: info.registeredAt,
	}, true
}

// Current returns the handle bound to the calling goroutine.
func (r *ThreadRegistry) Current() (ThreadHandle, bool) {
	gid := currentGoroutineID()
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byGoroutine[gid]
	return h, ok
}

// IsCurrent reports whether the calling goroutine is the thread identified by h.
func (r *ThreadRegistry) IsCurrent(h ThreadHandle) bool {
	if h.IsZero() {
		return false
	}
	cur, ok := r.Current()
	return ok && cur == h
}

// Name returns the role of h, or its handle string when unknown.
func (r *ThreadRegistry) Name(h ThreadHandle) string {
	if role, ok := r.Lookup(h); ok {
		return role
	}
	return h.String()
}

// Describe names the calling goroutine for log lines: its role when registered,
// otherwise its raw goroutine id in hex.
func (r *ThreadRegistry) Describe() string {
	gid := currentGoroutineID()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.byGoroutine[gid]; ok {
		return r.byHandle[h].role
	}
	return fmt.Sprintf("0x%x", gid)
}

// Threads returns every registration in handle order, including unregistered
// threads whose role is still resolvable.
func (r *ThreadRegistry) Threads() []ThreadInfo {
	r.mu.RLock()
	out := make([]ThreadInfo, 0, len(r.byHandle))
	for h, info := range r.byHandle {
		out = append(out, ThreadInfo{
			Handle:       h,
			Role:         info.role,
			OSThreadID:   info.osThreadID,
			RegisteredAt: info.registeredAt,
		})
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b ThreadInfo) int {
		return cmp.Compare(a.Handle.id, b.Handle.id)
	})
	return out
}
