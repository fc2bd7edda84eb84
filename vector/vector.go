// Package vector implements a growable array of machine-word-sized slots,
// the backing store for both the kernel-stack VA pool and the process
// registry.
//
// In the original C kernel this array was carved out of the buddy
// allocator, because C had no general-purpose heap below the buddy. In this
// Go rewrite the buddy sits below the Go runtime's own allocator, so the
// backing store here is an ordinary growable slice — see DESIGN.md for the
// open-question resolution. The external contract (doubling growth from an
// initial capacity, atomic size for lock-free snapshot reads, tombstone
// reuse via ReplaceFirstZero) is otherwise unchanged from spec.md §4.6.
package vector

import (
	"sync"
	"sync/atomic"

	"golang.org/x/exp/constraints"
)

// initialCapacity mirrors the buddy leaf size used by the original vector's
// first growth step.
const initialCapacity = 16

// Vector is a mutex-protected, growable array of T, with an atomically
// maintained size so readers that only need an iteration bound can avoid
// the lock (see Size).
type Vector[T constraints.Integer] struct {
	mu   sync.Mutex
	data []T
	size atomic.Int64
}

// Size returns the current element count without acquiring the lock. Safe
// to call concurrently with any other Vector method; combined with the
// registry's size-only-grows invariant, this gives callers a safe lower
// bound for iteration.
func (v *Vector[T]) Size() int {
	return int(v.size.Load())
}

func (v *Vector[T]) grow(newCap int) {
	nd := make([]T, len(v.data), newCap)
	copy(nd, v.data)
	v.data = nd
}

// Get returns the value at index i. Panics if i is out of bounds — an
// out-of-bounds vector access is an invariant violation, not a recoverable
// error, per spec.md §7.
func (v *Vector[T]) Get(i int) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i < 0 || i >= v.Size() {
		panic("vector: out of bounds get")
	}
	return v.data[i]
}

// Set stores val at index i. Panics if i is out of bounds.
func (v *Vector[T]) Set(i int, val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setLocked(i, val)
}

func (v *Vector[T]) setLocked(i int, val T) {
	if i < 0 || i >= int(v.size.Load()) {
		panic("vector: out of bounds set")
	}
	v.data[i] = val
}

// PushBack appends val, growing the backing array (doubling from
// initialCapacity) if necessary.
func (v *Vector[T]) PushBack(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pushBackLocked(val)
}

func (v *Vector[T]) pushBackLocked(val T) {
	if len(v.data) == cap(v.data) {
		newCap := initialCapacity
		if c := cap(v.data); c != 0 {
			newCap = c * 2
		}
		v.grow(newCap)
	}
	v.data = append(v.data, 0)
	v.size.Add(1)
	v.setLocked(len(v.data)-1, val)
}

// PopBack removes and returns the last element. Panics if the vector is
// empty.
func (v *Vector[T]) PopBack() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.data) == 0 {
		panic("vector: pop from empty vector")
	}
	val := v.data[len(v.data)-1]
	v.data = v.data[:len(v.data)-1]
	v.size.Add(-1)
	return val
}

// ReplaceFirstZero scans for the first slot holding the zero value and
// overwrites it with val, returning that index. If no such slot exists, it
// grows the vector with PushBack and returns the new last index — this is
// the tombstone-reuse strategy the process registry relies on (§4.2,
// §9 "Tombstoned dynamic array as a registry").
func (v *Vector[T]) ReplaceFirstZero(val T) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, cur := range v.data {
		if cur == 0 {
			v.setLocked(i, val)
			return i
		}
	}
	v.pushBackLocked(val)
	return len(v.data) - 1
}

// Resize truncates or zero-extends the vector to exactly n elements.
func (v *Vector[T]) Resize(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n < 0 {
		panic("vector: negative resize")
	}
	if n <= len(v.data) {
		v.data = v.data[:n]
		v.size.Store(int64(n))
		return
	}
	for len(v.data) < n {
		v.pushBackLocked(0)
	}
}
