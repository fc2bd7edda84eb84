package proc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-corekernel/buddy"
	"github.com/joeycumines/go-corekernel/proc"
	"github.com/joeycumines/go-corekernel/vmfake"
)

const testHeap = 1 << 20

func newTestKernel(t *testing.T, opts ...proc.Option) (*proc.Kernel, *buddy.Allocator) {
	t.Helper()
	b := buddy.New(testHeap)
	k := proc.New(b, vmfake.NewFactory(b), opts...)
	return k, b
}

// bootOneHart starts a single scheduler hart in the background and returns a
// cancel func that stops it and waits for the goroutine to exit, so each
// test controls its own teardown instead of leaking a scheduler goroutine
// into the next test.
func bootOneHart(t *testing.T, k *proc.Kernel) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		k.Scheduler(ctx, proc.NewHart(0))
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func TestUserInit_FirstProcessIsRunnable(t *testing.T) {
	k, _ := newTestKernel(t)
	p := k.UserInit(func(*proc.Kernel, *proc.Proc) {}, []byte("init"), nil)
	require.Equal(t, proc.Runnable, p.State())
	require.Equal(t, 1, k.RegistrySize())
}

// TestForkExitWait exercises the whole lifecycle on a single hart: init
// forks a child, the child exits with a status, and init's Wait reaps it
// and observes the same status.
func TestForkExitWait(t *testing.T) {
	k, b := newTestKernel(t)

	const childStatus = 7
	results := make(chan [2]int, 1) // [pid, xstate]

	childWorkload := func(k *proc.Kernel, p *proc.Proc) {
		k.Exit(p, childStatus)
	}

	initWorkload := func(k *proc.Kernel, p *proc.Proc) {
		childPid := k.Fork(p, childWorkload)
		require.GreaterOrEqual(t, childPid, 0)

		pid, xstate := k.Wait(p)
		results <- [2]int{pid, xstate}
	}

	p := k.UserInit(initWorkload, []byte("init"), nil)
	// init itself never exits, so its own trapframe/kstack/record/address
	// space stay charged for the kernel's whole lifetime: the memory a
	// fork+exit+wait cycle should fully recover is everything beyond this
	// baseline, not the whole heap.
	afterInit := b.HaveMem()

	stop := bootOneHart(t, k)
	defer stop()

	select {
	case r := <-results:
		require.Equal(t, p.Pid+1, r[0])
		require.Equal(t, childStatus, r[1])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fork/exit/wait to complete")
	}

	// Give the scheduler a chance to reap the child's zombie record via the
	// pool before asserting full memory recovery.
	require.Eventually(t, func() bool {
		k.DrainPool()
		return b.HaveMem() == afterInit
	}, 2*time.Second, 10*time.Millisecond)
}

// TestKillSleepingProcess verifies that killing a process blocked in Wait
// (on a child that never exits, so it would otherwise sleep forever) wakes
// it up and lets it observe Killed.
func TestKillSleepingProcess(t *testing.T) {
	k, _ := newTestKernel(t)

	waiting := make(chan int, 1)
	done := make(chan struct{})

	// The child sleeps on a channel nothing ever wakes.
	childWorkload := func(k *proc.Kernel, p *proc.Proc) {
		var mu sync.Mutex
		mu.Lock()
		k.Sleep(p, &mu, &mu)
	}

	initWorkload := func(k *proc.Kernel, p *proc.Proc) {
		require.GreaterOrEqual(t, k.Fork(p, childWorkload), 0)
		waiting <- p.Pid
		pid, _ := k.Wait(p) // child never exits: blocks until killed
		require.Equal(t, -1, pid)
		close(done)
	}

	k.UserInit(initWorkload, []byte("init"), nil)

	stop := bootOneHart(t, k)
	defer stop()

	var pid int
	select {
	case pid = <-waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("init never reached Wait")
	}

	require.Eventually(t, func() bool {
		return k.Kill(pid)
	}, 2*time.Second, time.Millisecond)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("killed process never woke from Wait")
	}
}

// TestConcurrentForkDistinctPids runs several harts, each forking several
// children off the init process concurrently, and checks every child pid
// is unique and the registry only grows.
func TestConcurrentForkDistinctPids(t *testing.T) {
	const nHarts = 4
	const childrenPerHart = 5

	k, _ := newTestKernel(t, proc.WithMaxHarts(nHarts))

	var (
		mu      sync.Mutex
		seen    = map[int]bool{}
		dupes   []int
		wg      sync.WaitGroup
		forkErr bool
	)

	leaf := func(k *proc.Kernel, p *proc.Proc) {
		k.Exit(p, 0)
	}

	initWorkload := func(k *proc.Kernel, p *proc.Proc) {
		for h := 0; h < nHarts; h++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < childrenPerHart; i++ {
					pid := k.Fork(p, leaf)
					mu.Lock()
					if pid < 0 {
						forkErr = true
					} else if seen[pid] {
						dupes = append(dupes, pid)
					} else {
						seen[pid] = true
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		for {
			if pid, _ := k.Wait(p); pid < 0 {
				break
			}
		}
	}

	k.UserInit(initWorkload, []byte("init"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var hartWg sync.WaitGroup
	for id := 0; id < nHarts; id++ {
		hartWg.Add(1)
		go func(id int) {
			defer hartWg.Done()
			k.Scheduler(ctx, proc.NewHart(id))
		}(id)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == nHarts*childrenPerHart
	}, 4*time.Second, 10*time.Millisecond)

	cancel()
	hartWg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.False(t, forkErr, "at least one Fork call failed")
	require.Empty(t, dupes, "duplicate child pids observed")
	require.GreaterOrEqual(t, k.RegistrySize(), nHarts*childrenPerHart+1)
}
