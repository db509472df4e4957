package netlogbuf

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func assertEqual[T any](t *testing.T, have, want T) {
	t.Helper()
	if !cmp.Equal(have, want) {
		t.Fatal(cmp.Diff(have, want))
	}
}

func TestRingBuffer(t *testing.T) {
	t.Parallel()

	rb := New[int](3)

	top := func(k int) []int {
		res := []int{}
		rb.Walk(func(i int) error {
			if k >= 0 && len(res) >= k {
				return errors.New("done")
			}
			res = append(res, i)
			return nil
		})
		return res
	}

	assertEqual(t, top(-1), []int{})
	assertEqual(t, top(0), []int{})
	assertEqual(t, top(99), []int{})

	rb.PushFront(1)

	assertEqual(t, top(-1), []int{1})
	assertEqual(t, top(0), []int{})
	assertEqual(t, top(1), []int{1})
	assertEqual(t, top(4), []int{1})

	rb.PushFront(2)

	assertEqual(t, top(-1), []int{2, 1})
	assertEqual(t, top(1), []int{2})
	assertEqual(t, top(3), []int{2, 1})

	_, did := rb.PushFront(3)

	assertEqual(t, did, false)
	assertEqual(t, top(-1), []int{3, 2, 1})
	assertEqual(t, top(2), []int{3, 2})

	removed, did := rb.PushFront(4)

	assertEqual(t, did, true)
	assertEqual(t, removed, 1)
	assertEqual(t, top(-1), []int{4, 3, 2})
	assertEqual(t, top(1), []int{4})
	assertEqual(t, top(4), []int{4, 3, 2})

	rb.PushFront(5)
	rb.PushFront(6)

	assertEqual(t, top(-1), []int{6, 5, 4})
	assertEqual(t, top(99), []int{6, 5, 4})
	assertEqual(t, rb.Len(), 3)
	assertEqual(t, rb.Cap(), 3)
}

func TestRingBufferBoundedRetention(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{1, 2, 7, 50} {
		for _, pushes := range []int{0, 1, capacity - 1, capacity, capacity + 1, 3*capacity + 2} {
			t.Run(fmt.Sprintf("cap=%d/pushes=%d", capacity, pushes), func(t *testing.T) {
				rb := New[int](capacity)
				for i := 0; i < pushes; i++ {
					rb.PushFront(i)
				}

				want := []int{}
				for i := pushes - 1; i >= 0 && len(want) < capacity; i-- {
					want = append(want, i)
				}

				assertEqual(t, rb.Len(), len(want))
				assertEqual(t, rb.Slice(), want)
			})
		}
	}
}

func TestRingBufferEvictsOldestRecord(t *testing.T) {
	t.Parallel()

	type record struct{ id string }

	rb := New[record](50)
	for i := 0; i < 51; i++ {
		rb.PushFront(record{id: strconv.Itoa(i)})
	}

	assertEqual(t, rb.Len(), 50)
	assertEqual(t, rb.Contains(func(r record) bool { return r.id == "0" }), false)
	assertEqual(t, rb.At(0).id, "50")
	assertEqual(t, rb.At(49).id, "1")
}

func TestRingBufferUnbounded(t *testing.T) {
	t.Parallel()

	rb := New[int](0)
	for i := 0; i < 1000; i++ {
		if _, ok := rb.PushFront(i); ok {
			t.Fatalf("push %d: unexpected eviction", i)
		}
	}

	assertEqual(t, rb.Len(), 1000)
	assertEqual(t, rb.Cap(), 0)
	assertEqual(t, rb.At(0), 999)
	assertEqual(t, rb.At(999), 0)
}

func TestRingBufferIndexAndSet(t *testing.T) {
	t.Parallel()

	rb := New[string](4)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		rb.PushFront(s)
	}

	assertEqual(t, rb.Slice(), []string{"e", "d", "c", "b"})
	assertEqual(t, rb.Index(func(s string) bool { return s == "c" }), 2)
	assertEqual(t, rb.Index(func(s string) bool { return s == "a" }), -1)

	rb.Set(2, "C")
	assertEqual(t, rb.Slice(), []string{"e", "d", "C", "b"})
	assertEqual(t, rb.At(2), "C")
}

func TestRingBufferRemoveAll(t *testing.T) {
	t.Parallel()

	rb := New[int](5)
	for i := 1; i <= 7; i++ {
		rb.PushFront(i)
	}

	assertEqual(t, rb.Slice(), []int{7, 6, 5, 4, 3})

	n := rb.RemoveAll(func(i int) bool { return i%2 == 0 })
	assertEqual(t, n, 2)
	assertEqual(t, rb.Slice(), []int{7, 5, 3})

	assertEqual(t, rb.RemoveAll(func(int) bool { return false }), 0)

	rb.PushFront(8)
	rb.PushFront(9)
	rb.PushFront(10)

	assertEqual(t, rb.Slice(), []int{10, 9, 8, 7, 5})
	assertEqual(t, rb.Len(), 5)

	rb.Clear()
	assertEqual(t, rb.Len(), 0)
	assertEqual(t, rb.Slice(), []int{})
}

func TestRingBufferOutOfRangePanics(t *testing.T) {
	t.Parallel()

	rb := New[int](2)
	rb.PushFront(1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()

	rb.At(1)
}

func TestRingBufferResize(t *testing.T) {
	t.Parallel()

	rb := New[int](3)
	rb.PushFront(1)
	rb.PushFront(2)
	rb.PushFront(3)

	assertEqual(t, rb.Slice(), []int{3, 2, 1})

	removed := rb.Resize(2)

	assertEqual(t, removed, []int{1})
	assertEqual(t, rb.Slice(), []int{3, 2})

	removed = rb.Resize(4)

	assertEqual(t, removed, nil)
	assertEqual(t, rb.Slice(), []int{3, 2})

	rb.PushFront(4)
	rb.PushFront(5)
	rb.PushFront(6)
	rb.PushFront(7)

	assertEqual(t, rb.Slice(), []int{7, 6, 5, 4})
}

func BenchmarkRingBuffer(b *testing.B) {
	for _, cap := range []int{100, 1000, 10000} {
		b.Run(strconv.Itoa(cap), func(b *testing.B) {
			rb := New[int](cap)
			for i := 0; i < cap; i++ {
				rb.PushFront(i)
			}

			walkFn := func(int) error { return nil }

			b.ReportAllocs()

			b.Run("PushFront", func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					rb.PushFront(i)
				}
			})

			b.Run("Walk", func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					rb.Walk(walkFn)
				}
			})
		})
	}
}
