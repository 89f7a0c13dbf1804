package buffer

import (
	"errors"
	"sync"
)

// ErrInvalidCapacity is returned when a buffer is created with a capacity below one.
var ErrInvalidCapacity = errors.New("buffer capacity must be at least 1")

// Buffer is a bounded FIFO accumulator. Add never rejects items; callers are
// expected to check IsFull and Drain before the buffer grows past its capacity.
//
// Buffer is not safe for concurrent use. Use SyncBuffer when several goroutines
// write into the same instance.
type Buffer[T any] struct {
	capacity int
	items    []T
}

// New creates a Buffer that drains at most capacity items at a time.
func New[T any](capacity int) (*Buffer[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &Buffer[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}, nil
}

// Capacity returns the configured capacity.
func (b *Buffer[T]) Capacity() int { return b.capacity }

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int { return len(b.items) }

// IsFull reports whether at least capacity items are buffered.
func (b *Buffer[T]) IsFull() bool { return len(b.items) >= b.capacity }

// Add appends an item.
func (b *Buffer[T]) Add(item T) {
	b.items = append(b.items, item)
}

// Drain removes and returns up to capacity items in insertion order. It returns an
// empty, non-nil slice when nothing is buffered.
func (b *Buffer[T]) Drain() []T {
	n := min(len(b.items), b.capacity)
	out := make([]T, n)
	copy(out, b.items[:n])

	remaining := copy(b.items, b.items[n:])
	clear(b.items[remaining:])
	b.items = b.items[:remaining]
	return out
}

// SyncBuffer is a Buffer guarded by a mutex for multi-writer use.
type SyncBuffer[T any] struct {
	mu    sync.Mutex
	inner *Buffer[T]
}

// NewSync creates a SyncBuffer with the given capacity.
func NewSync[T any](capacity int) (*SyncBuffer[T], error) {
	inner, err := New[T](capacity)
	if err != nil {
		return nil, err
	}
	return &SyncBuffer[T]{inner: inner}, nil
}

// IsFull reports whether at least capacity items are buffered.
func (b *SyncBuffer[T]) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inner.IsFull()
}

// Add appends an item.
func (b *SyncBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inner.Add(item)
}

// AddAndDrainIfFull appends an item and, if that filled the buffer, drains one batch
// under the same lock. The returned batch is nil when the buffer was not full.
func (b *SyncBuffer[T]) AddAndDrainIfFull(item T) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inner.Add(item)
	if !b.inner.IsFull() {
		return nil
	}
	return b.inner.Drain()
}

// Drain removes and returns up to capacity items in insertion order.
func (b *SyncBuffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inner.Drain()
}

// Len returns the number of buffered items.
func (b *SyncBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inner.Len()
}
