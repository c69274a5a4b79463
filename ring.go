package strata

import "sync"

// ring is a thread-safe ring buffer holding the most recent entries.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T
	size  int
	head  int
	count int
}

// newRing creates a ring buffer with the given capacity.
// If size is 0, the ring buffer is disabled.
func newRing[T any](size int) *ring[T] {
	if size <= 0 {
		return nil
	}
	return &ring[T]{
		items: make([]T, size),
		size:  size,
	}
}

func (r *ring[T]) push(v T) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = v
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// all returns the entries oldest first.
func (r *ring[T]) all() []T {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	result := make([]T, r.count)
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		result[i] = r.items[(start+i)%r.size]
	}
	return result
}
