package trajectory

import (
	"sync"
	"time"
)

// window is a bounded, priority-aware holding area for recently-added
// trajectories. Add is O(1) below capacity; at capacity it scans the
// (small, bounded) window to find the minimum-priority victim, which
// keeps overall add throughput effectively constant for any fixed
// window size.
type window struct {
	mu       sync.RWMutex
	size     int
	byID     map[string]*Trajectory
	order    []string // insertion order, for iteration determinism
	evictFn  func(*Trajectory)
}

func newWindow(size int) *window {
	return &window{
		size: size,
		byID: make(map[string]*Trajectory),
	}
}

// onEvict registers a callback invoked (outside the window's lock) for
// every trajectory the window evicts to make room.
func (w *window) onEvict(fn func(*Trajectory)) {
	w.evictFn = fn
}

// Add inserts or replaces t in the window, evicting the minimum-priority
// entry if the window is already at capacity.
func (w *window) Add(t *Trajectory) {
	w.mu.Lock()
	var evicted *Trajectory

	if _, exists := w.byID[t.ID]; !exists && len(w.byID) >= w.size && w.size > 0 {
		evicted = w.evictVictimLocked()
	}
	if _, exists := w.byID[t.ID]; !exists {
		w.order = append(w.order, t.ID)
	}
	w.byID[t.ID] = t
	w.mu.Unlock()

	if evicted != nil && w.evictFn != nil {
		w.evictFn(evicted)
	}
}

// evictVictimLocked removes and returns the lowest-priority trajectory.
// Caller must hold w.mu.
func (w *window) evictVictimLocked() *Trajectory {
	now := time.Now()
	var victimID string
	var minPriority float64
	first := true
	for id, t := range w.byID {
		p := t.priority(now)
		if first || p < minPriority {
			minPriority = p
			victimID = id
			first = false
		}
	}
	if victimID == "" {
		return nil
	}
	victim := w.byID[victimID]
	delete(w.byID, victimID)
	w.removeFromOrderLocked(victimID)
	return victim
}

func (w *window) removeFromOrderLocked(id string) {
	for i, oid := range w.order {
		if oid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			return
		}
	}
}

// Get returns the in-window trajectory for id, if present.
func (w *window) Get(id string) (*Trajectory, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	t, ok := w.byID[id]
	return t, ok
}

// Remove evicts id from the window without invoking the eviction callback.
func (w *window) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.byID[id]; ok {
		delete(w.byID, id)
		w.removeFromOrderLocked(id)
	}
}

// Len returns the number of trajectories currently held in the window.
func (w *window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.byID)
}

// Snapshot returns a copy of every trajectory currently in the window,
// in insertion order.
func (w *window) Snapshot() []*Trajectory {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Trajectory, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.byID[id])
	}
	return out
}
