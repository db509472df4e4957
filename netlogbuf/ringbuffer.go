// Package netlogbuf provides a newest-first ring buffer, which is the storage
// primitive behind the live record view and the diagnostic event trail.
package netlogbuf

// RingBuffer is a collection of recent items, ordered newest first. A ring
// buffer with a positive capacity evicts its oldest item when an add would
// exceed that capacity. A ring buffer with a capacity of zero or less grows
// without bound.
//
// RingBuffer is not safe for concurrent use. Owners are expected to serialize
// access, typically by mutating it from a single goroutine.
type RingBuffer[T any] struct {
	buf []T // circular storage
	cur int // index for next write, walk backwards to read
	len int // count of actual values
	max int // 0 means unbounded
}

// New returns an empty ring buffer with the given capacity. Bounded buffers are
// pre-allocated with the full capacity.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &RingBuffer[T]{
		buf: make([]T, capacity),
		max: capacity,
	}
}

// Len returns the number of items in the ring buffer.
func (rb *RingBuffer[T]) Len() int {
	return rb.len
}

// Cap returns the maximum number of items, or 0 if the buffer is unbounded.
func (rb *RingBuffer[T]) Cap() int {
	return rb.max
}

// PushFront adds the value as the newest item. If that exceeds the capacity,
// the oldest item is evicted and returned along with true.
func (rb *RingBuffer[T]) PushFront(val T) (evicted T, ok bool) {
	// Unbounded buffers grow instead of overwriting.
	if rb.len >= len(rb.buf) {
		if rb.max > 0 {
			evicted, ok = rb.buf[rb.cur], true
			rb.len -= 1
		} else {
			rb.grow()
		}
	}

	// Write the value at the write cursor.
	rb.buf[rb.cur] = val
	rb.len += 1

	// Advance the write cursor.
	rb.cur += 1
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}

	return evicted, ok
}

// At returns the item at logical index i, where 0 is the newest item. An index
// out of range is a programmer error and panics.
func (rb *RingBuffer[T]) At(i int) T {
	return rb.buf[rb.physical(i)]
}

// Set replaces the item at logical index i. An index out of range is a
// programmer error and panics.
func (rb *RingBuffer[T]) Set(i int, val T) {
	rb.buf[rb.physical(i)] = val
}

// Index returns the logical index of the newest item matching the predicate,
// or -1 if no item matches.
func (rb *RingBuffer[T]) Index(match func(T) bool) int {
	for i := 0; i < rb.len; i++ {
		if match(rb.buf[rb.physical(i)]) {
			return i
		}
	}
	return -1
}

// Contains reports whether any item matches the predicate.
func (rb *RingBuffer[T]) Contains(match func(T) bool) bool {
	return rb.Index(match) >= 0
}

// RemoveAll removes every item matching the predicate, preserving the order of
// the remaining items, and returns the number of removed items.
func (rb *RingBuffer[T]) RemoveAll(match func(T) bool) int {
	keep := make([]T, 0, rb.len)
	for i := rb.len - 1; i >= 0; i-- { // oldest first
		if v := rb.buf[rb.physical(i)]; !match(v) {
			keep = append(keep, v)
		}
	}

	removed := rb.len - len(keep)
	if removed == 0 {
		return 0
	}

	rb.reset(keep)
	return removed
}

// Walk calls the given function for each item, starting with the newest and
// ending with the oldest. If the function returns an error, the walk stops and
// that error is returned.
func (rb *RingBuffer[T]) Walk(fn func(T) error) error {
	for i := 0; i < rb.len; i++ {
		if err := fn(rb.buf[rb.physical(i)]); err != nil {
			return err
		}
	}
	return nil
}

// Slice returns a copy of all items, newest first.
func (rb *RingBuffer[T]) Slice() []T {
	out := make([]T, rb.len)
	for i := range out {
		out[i] = rb.buf[rb.physical(i)]
	}
	return out
}

// Clear removes all items. Capacity is unchanged.
func (rb *RingBuffer[T]) Clear() {
	rb.buf = make([]T, rb.max)
	rb.cur = 0
	rb.len = 0
}

// Resize changes the capacity of the ring buffer. A capacity of zero or less
// makes the buffer unbounded. If the new capacity is smaller than the number
// of items, the oldest items are dropped and returned, oldest last.
func (rb *RingBuffer[T]) Resize(capacity int) (dropped []T) {
	if capacity < 0 {
		capacity = 0
	}

	newest := rb.Slice()
	if capacity > 0 && len(newest) > capacity {
		dropped = newest[capacity:]
		newest = newest[:capacity]
	}

	rb.max = capacity

	// reset wants oldest first.
	oldest := make([]T, len(newest))
	for i := range newest {
		oldest[len(newest)-1-i] = newest[i]
	}
	rb.reset(oldest)

	return dropped
}

// physical maps a logical index to an index in the circular storage. Reads go
// backwards from one before the write cursor.
func (rb *RingBuffer[T]) physical(i int) int {
	if i < 0 || i >= rb.len {
		panic("netlogbuf: index out of range")
	}
	cur := rb.cur - 1 - i
	if cur < 0 {
		cur += len(rb.buf)
	}
	return cur
}

// grow doubles the storage of an unbounded buffer, linearizing the items so
// the oldest is at index 0.
func (rb *RingBuffer[T]) grow() {
	n := 2 * len(rb.buf)
	if n < 8 {
		n = 8
	}
	buf := make([]T, n)
	for i := 0; i < rb.len; i++ {
		buf[rb.len-1-i] = rb.buf[rb.physical(i)]
	}
	rb.buf = buf
	rb.cur = rb.len
}

// reset replaces the contents with the given items, which must be ordered
// oldest first and must fit within the capacity.
func (rb *RingBuffer[T]) reset(oldestFirst []T) {
	size := rb.max
	if size <= 0 {
		size = len(oldestFirst)
	}
	buf := make([]T, size)
	copy(buf, oldestFirst)

	rb.buf = buf
	rb.len = len(oldestFirst)
	rb.cur = rb.len
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}
}
