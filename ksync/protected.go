package ksync

// ProtectedPtr is a single-slot, lock-guarded pointer: a slot is either
// empty or holds one *T, and every read or write of the slot happens with
// the lock held across the whole read-modify-write, not just the pointer
// access. Nothing else in this module currently publishes through it — see
// DESIGN.md for why it ships unwired.
//
// The original (protected_pointer.c) is untyped (void *); this version is
// generic over the pointee type, which is the one place this rewrite
// departs from a line-for-line port — Go generics make the cast-and-hope
// pattern unnecessary.
type ProtectedPtr[T any] struct {
	lock SpinLock
	ptr  *T
}

// NewProtectedPtr returns a ProtectedPtr initialized to hold ptr (which may
// be nil).
func NewProtectedPtr[T any](ptr *T) *ProtectedPtr[T] {
	return &ProtectedPtr[T]{ptr: ptr}
}

// AcquireAndGet locks the slot and returns its current value. A nil
// receiver is legal and returns nil without blocking, mirroring the
// original's "so we can always acquire non-existing elements" — callers
// that hold a possibly-nil *ProtectedPtr[T] (e.g. an unpopulated per-hart
// slot) don't need a separate nil check before calling Release.
func (p *ProtectedPtr[T]) AcquireAndGet() *T {
	if p == nil {
		return nil
	}
	p.lock.Lock()
	return p.ptr
}

// TestEmptyAndSet locks the slot; if it is empty, installs ptr and returns
// true (leaving the lock held — pair with Release). If it already holds a
// value, it releases the lock and returns false.
func (p *ProtectedPtr[T]) TestEmptyAndSet(ptr *T) bool {
	p.lock.Lock()
	if p.ptr == nil {
		p.ptr = ptr
		return true
	}
	p.lock.Unlock()
	return false
}

// AcquireAndSet locks the slot and unconditionally installs ptr, leaving
// the lock held.
func (p *ProtectedPtr[T]) AcquireAndSet(ptr *T) {
	p.lock.Lock()
	p.ptr = ptr
}

// Release unlocks the slot. A nil receiver is a no-op, matching
// AcquireAndGet's nil tolerance.
func (p *ProtectedPtr[T]) Release() {
	if p == nil {
		return
	}
	p.lock.Unlock()
}
