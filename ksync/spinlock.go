// Package ksync implements the kernel's multi-hart synchronization
// primitives: a named mutual-exclusion lock, a reader/writer lock that
// favors readers, a generic protected pointer, and (atop the named lock and
// an injected Waiter) a sleep lock for long-held waits.
//
// SpinLock, RWLock and ProtectedPtr are leaves in the kernel's
// lock-ordering graph: none of them ever acquires a process lock, so they
// can be safely held while calling into the process table's claim/watch
// protocol. SleepLock is not a leaf: it calls its Waiter's Sleep and Wakeup
// while holding its guard, and the proc package's Waiter takes process
// locks there.
package ksync

import "sync"

// SpinLock is a named mutual-exclusion lock. On real hardware this would
// also disable interrupts on the acquiring hart (xv6's acquire/release);
// that half of the contract is modeled explicitly by Hart.PushOff/PopOff
// in the proc package, at the specific call sites (cpuid/myproc) that need
// it, rather than on every lock in the kernel — see DESIGN.md.
type SpinLock struct {
	mu   sync.Mutex
	name string
}

// NewSpinLock returns an initialized, unlocked SpinLock with the given name
// (used only for diagnostics, matching xv6's initlock(&lk, "name")).
func NewSpinLock(name string) *SpinLock {
	return &SpinLock{name: name}
}

// Name reports the lock's diagnostic name.
func (l *SpinLock) Name() string {
	return l.name
}

// Lock acquires the lock, blocking until available.
func (l *SpinLock) Lock() {
	l.mu.Lock()
}

// Unlock releases the lock. Unlocking an unlocked SpinLock panics, matching
// sync.Mutex and xv6's "release" assertion that the lock is held.
func (l *SpinLock) Unlock() {
	l.mu.Unlock()
}

// TryLock attempts to acquire the lock without blocking.
func (l *SpinLock) TryLock() bool {
	return l.mu.TryLock()
}

// Held reports whether the lock is currently held by anyone. It exists for
// invariant assertions (xv6's holding(&p->lock) checks in sched()), not for
// synchronization decisions: a true result only tells the caller "someone
// holds this," which is only a meaningful safety check when the caller
// already knows it must be the one holding it.
func (l *SpinLock) Held() bool {
	if l.mu.TryLock() {
		l.mu.Unlock()
		return false
	}
	return true
}
