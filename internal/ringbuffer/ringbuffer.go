// Package ringbuffer provides fixed-capacity collections used for diagnostic history.
//
// Buffers are not safe for concurrent use; owners guard them with their own lock.
package ringbuffer

import (
	"errors"
	"sort"
	"time"
)

// ErrCapacityExceeded is returned when a buffer was found holding more entries than its
// capacity before an insert. The buffer is truncated back to capacity.
var ErrCapacityExceeded = errors.New("ring buffer capacity exceeded")

// Entry is one stored item
type Entry[T any] struct {
	CapturedAt time.Time `json:"captured_at"`
	Payload    T         `json:"payload"`
}

// RecencyN keeps the most recent entries in insertion order; the oldest entry is dropped
// on overflow.
type RecencyN[T any] struct {
	capacity int
	entries  []Entry[T]
}

// NewRecencyN creates a Recency-N buffer. Capacity below 1 is raised to 1.
func NewRecencyN[T any](capacity int) *RecencyN[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RecencyN[T]{
		capacity: capacity,
		entries:  make([]Entry[T], 0, capacity),
	}
}

// Push appends an entry, dropping from the front on overflow
func (b *RecencyN[T]) Push(at time.Time, payload T) error {
	var err error
	if len(b.entries) > b.capacity {
		err = ErrCapacityExceeded
	}

	b.entries = append(b.entries, Entry[T]{CapturedAt: at, Payload: payload})
	if over := len(b.entries) - b.capacity; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(b.entries, b.entries[over:])
		clear(b.entries[n:])
		b.entries = b.entries[:n]
	}
	return err
}

// Items returns a copy of the entries, oldest first
func (b *RecencyN[T]) Items() []Entry[T] {
	out := make([]Entry[T], len(b.entries))
	copy(out, b.entries)
	return out
}

// Latest returns the newest entry
func (b *RecencyN[T]) Latest() (Entry[T], bool) {
	if len(b.entries) == 0 {
		return Entry[T]{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// Len returns the number of stored entries
func (b *RecencyN[T]) Len() int { return len(b.entries) }

// Cap returns the configured capacity
func (b *RecencyN[T]) Cap() int { return b.capacity }

// Resize changes the capacity, keeping the newest entries
func (b *RecencyN[T]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	b.capacity = capacity
	if over := len(b.entries) - capacity; over > 0 {
		b.entries = append([]Entry[T](nil), b.entries[over:]...)
	}
}

// WorstN keeps the entries with the largest duration, sorted descending. On overflow the
// entry with the smallest duration is dropped.
type WorstN[T any] struct {
	capacity int
	duration func(T) time.Duration
	entries  []Entry[T]
}

// NewWorstN creates a Worst-N buffer ordered by the duration returned from key
func NewWorstN[T any](capacity int, key func(T) time.Duration) *WorstN[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &WorstN[T]{
		capacity: capacity,
		duration: key,
		entries:  make([]Entry[T], 0, capacity+1),
	}
}

// Insert adds an entry, re-sorts and truncates to capacity
func (b *WorstN[T]) Insert(at time.Time, payload T) error {
	var err error
	if len(b.entries) > b.capacity {
		err = ErrCapacityExceeded
	}

	b.entries = append(b.entries, Entry[T]{CapturedAt: at, Payload: payload})
	// stable so that equal durations keep the earlier entry ahead
	sort.SliceStable(b.entries, func(i, j int) bool {
		return b.duration(b.entries[i].Payload) > b.duration(b.entries[j].Payload)
	})
	b.truncate()
	return err
}

// Items returns a copy of the entries, worst first
func (b *WorstN[T]) Items() []Entry[T] {
	out := make([]Entry[T], len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of stored entries
func (b *WorstN[T]) Len() int { return len(b.entries) }

// Cap returns the configured capacity
func (b *WorstN[T]) Cap() int { return b.capacity }

// Resize changes the capacity, keeping the worst entries
func (b *WorstN[T]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	b.capacity = capacity
	b.truncate()
}

func (b *WorstN[T]) truncate() {
	if len(b.entries) > b.capacity {
		clear(b.entries[b.capacity:])
		b.entries = b.entries[:b.capacity]
	}
}
