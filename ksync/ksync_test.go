package ksync_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-corekernel/ksync"
)

func TestSpinLock_MutualExclusion(t *testing.T) {
	lock := ksync.NewSpinLock("counter")
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 5000, counter)
}

func TestRWLock_ReadersConcurrentWriterExclusive(t *testing.T) {
	lock := ksync.NewRWLock()
	var first, second atomic.Int64
	var torn atomic.Bool

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Writers must never observe a torn update: every write sets both
	// halves of a pair, every read checks they match.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 200; i++ {
			lock.Lock()
			first.Store(i)
			second.Store(i) // two writes under one lock acquisition
			lock.Unlock()
		}
		close(stop)
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				lock.RLock()
				if first.Load() != second.Load() {
					torn.Store(true)
				}
				lock.RUnlock()
			}
		}()
	}
	wg.Wait()
	require.False(t, torn.Load(), "a reader observed a half-finished write")
}

func TestProtectedPtr_TestEmptyAndSet(t *testing.T) {
	type payload struct{ n int }
	pp := ksync.NewProtectedPtr[payload](nil)

	a := &payload{n: 1}
	ok := pp.TestEmptyAndSet(a)
	require.True(t, ok)
	pp.Release()

	got := pp.AcquireAndGet()
	require.Same(t, a, got)
	pp.Release()

	b := &payload{n: 2}
	ok = pp.TestEmptyAndSet(b)
	require.False(t, ok)

	pp.AcquireAndSet(b)
	pp.Release()
	got = pp.AcquireAndGet()
	pp.Release()
	require.Same(t, b, got)
}

func TestProtectedPtr_NilReceiverIsSafe(t *testing.T) {
	var pp *ksync.ProtectedPtr[int]
	require.Nil(t, pp.AcquireAndGet())
	pp.Release() // must not panic
}

// fakeWaiter is the simplest possible Waiter: Sleep unlocks, polls every
// millisecond until Wakeup has been called for its channel, and relocks,
// standing in for wakeup delivery without needing a real scheduler.
type fakeWaiter struct {
	mu        sync.Mutex
	woken     map[any]bool
	wakeupCnt atomic.Int64
}

func newFakeWaiter() *fakeWaiter {
	return &fakeWaiter{woken: make(map[any]bool)}
}

func (f *fakeWaiter) Sleep(chanKey any, lk sync.Locker) {
	lk.Unlock()
	for {
		f.mu.Lock()
		w := f.woken[chanKey]
		f.mu.Unlock()
		if w {
			break
		}
		time.Sleep(time.Millisecond)
	}
	lk.Lock()
}

func (f *fakeWaiter) Wakeup(chanKey any) {
	f.wakeupCnt.Add(1)
	f.mu.Lock()
	f.woken[chanKey] = true
	f.mu.Unlock()
}

func TestSleepLock_BlocksUntilWakeup(t *testing.T) {
	w := newFakeWaiter()
	l := ksync.NewSleepLock("disk", w)

	l.Lock()
	require.True(t, l.Holding())

	unlocked := make(chan struct{})
	go func() {
		l.Lock()
		close(unlocked)
		l.Unlock()
	}()

	time.Sleep(5 * time.Millisecond)
	select {
	case <-unlocked:
		t.Fatal("second Lock returned before first Unlock")
	default:
	}

	l.Unlock()

	select {
	case <-unlocked:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after Unlock")
	}
}
