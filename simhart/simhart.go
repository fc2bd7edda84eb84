// Package simhart boots a simulated multi-hart machine: hart 0 runs a
// caller-supplied initialization function and then releases every other
// hart to start its own scheduler, mirroring main.c's cpuid()==0 /
// "while (started == 0)" split. Each hart is one goroutine running
// proc.Kernel.Scheduler for the lifetime of the boot context.
package simhart

import (
	"context"

	"github.com/joeycumines/go-corekernel/klog"
	"github.com/joeycumines/go-corekernel/proc"
	"golang.org/x/sync/errgroup"
)

// Barrier is a one-shot gate: every Wait blocks until Release is called
// (once), standing in for main.c's "volatile static int started" spin
// loop, expressed with a channel close instead of a busy-wait.
type Barrier struct {
	done chan struct{}
}

// NewBarrier returns an unreleased Barrier.
func NewBarrier() *Barrier {
	return &Barrier{done: make(chan struct{})}
}

// Release opens the barrier, unblocking every current and future Wait.
// Calling it more than once panics, matching the original's single
// assignment to started.
func (b *Barrier) Release() {
	close(b.done)
}

// Wait blocks until Release is called or ctx is cancelled.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Boot starts nHarts scheduler goroutines against k. Hart 0 runs preInit
// first (the init-process setup main.c performs under "if (cpuid() == 0)"),
// then releases the barrier every other hart is waiting on before falling
// into its own Scheduler call. Boot blocks until ctx is cancelled, then
// waits for every hart's Scheduler call to return, propagating the first
// non-nil error any of them (or preInit) returned.
func Boot(ctx context.Context, k *proc.Kernel, nHarts int, preInit func(*proc.Kernel) error) error {
	g, gctx := errgroup.WithContext(ctx)
	barrier := NewBarrier()

	g.Go(func() error {
		if preInit != nil {
			if err := preInit(k); err != nil {
				return err
			}
		}
		klog.Infof("simhart", "hart 0 initialized, releasing %d hart(s)", nHarts-1)
		barrier.Release()
		k.Scheduler(gctx, proc.NewHart(0))
		return nil
	})

	for id := 1; id < nHarts; id++ {
		id := id
		g.Go(func() error {
			if err := barrier.Wait(gctx); err != nil {
				return err
			}
			klog.Infof("simhart", "hart %d starting", id)
			k.Scheduler(gctx, proc.NewHart(id))
			return nil
		})
	}

	return g.Wait()
}
