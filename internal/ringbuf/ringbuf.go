// Package ringbuf provides a fixed-capacity, mutex-guarded ring buffer used
// for the bounded histories kept by the detection and response components.
package ringbuf

import "sync"

// Ring keeps the most recent capacity items. Appending beyond capacity
// evicts the oldest item. All methods are safe for concurrent use.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// New returns a ring holding at most capacity items. Capacity must be
// positive; New panics otherwise since a zero ring is a programming error.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Append adds an item, evicting the oldest when full.
func (r *Ring[T]) Append(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[(r.head+r.size)%len(r.items)] = item
	if r.size < len(r.items) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.items)
	}
}

// Len reports the number of stored items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap reports the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Snapshot returns the stored items oldest first. The returned slice is a
// copy; callers may retain it across later appends.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Last returns up to n most recent items, oldest first.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	start := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(r.head+start+i)%len(r.items)]
	}
	return out
}
