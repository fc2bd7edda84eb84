package proc

import (
	"context"
	"sync"
)

// Scheduler runs forever on hart h, repeatedly scanning the process table
// for a Runnable process, switching into it, and switching back once it
// suspends — exactly xv6's scheduler(). It returns only when ctx is
// cancelled, which has no xv6 analogue: the original never returns from
// scheduler() at all, but a goroutine that can never be stopped would leak
// across every test that boots a Kernel, so an early-return-on-cancel exit
// is the one deliberate addition to this loop, documented as a test/shutdown
// accommodation rather than a faithful port.
func (k *Kernel) Scheduler(ctx context.Context, h *Hart) {
	rounds := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		h.IntrOn()

		n := k.registry.Size()
		for i := 0; i < n; i++ {
			p := k.registry.Claim(i)
			if p == nil {
				continue
			}

			p.lock.Lock()
			if p.state == Runnable {
				p.state = Running
				p.runningHart = h
				h.current = p

				SwitchContext(h.ctx, p.ctx)

				h.current = nil
			}
			p.lock.Unlock()
			stopWatching(p)
		}

		rounds++
		if rounds >= k.cfg.PoolDrainRounds {
			rounds = 0
			k.pool.drain(true)
		}
	}
}

// schedOut hands control from the currently running process p back to its
// hart's scheduler goroutine. The caller must hold p.lock and must already
// have set p.state to something other than Running — xv6's sched() asserts
// the same two invariants (holding(&p->lock), p->state != RUNNING), plus a
// pair of interrupt-nesting checks (noff == 1, intr_get() == 0) this port
// drops: ksync.SpinLock was deliberately not made hart-aware (see its
// DESIGN.md entry), so there is no per-lock nesting counter to check here.
func (k *Kernel) schedOut(p *Proc) {
	if !p.lock.Held() {
		panic("proc: sched: p.lock not held")
	}
	if p.state == Running {
		panic("proc: sched: process still running")
	}
	h := p.runningHart
	SwitchContext(p.ctx, h.ctx)
}

// Sleep atomically releases lk and suspends p until something calls
// Wakeup(_, chanVal) naming the same value, exactly as xv6's sleep(): the
// two steps (acquire p.lock, then release lk) happen in an order that
// can never miss a concurrent wakeup, because the wakeup side also needs
// p.lock to observe p sleeping on chanVal.
func (k *Kernel) Sleep(p *Proc, chanVal any, lk sync.Locker) {
	p.lock.Lock()
	lk.Unlock()

	p.ChanVal = chanVal
	p.state = Sleeping

	k.schedOut(p)

	p.ChanVal = nil
	p.lock.Unlock()

	lk.Lock()
}

// Wakeup marks every process sleeping on chanVal Runnable, except
// excludeSelf (xv6's wakeup() skips the calling process itself via
// p != myproc(); this port takes that exclusion as an explicit parameter
// instead, since a process's own identity isn't implicit here the way
// myproc() is there).
func (k *Kernel) Wakeup(excludeSelf *Proc, chanVal any) {
	n := k.registry.Size()
	for i := 0; i < n; i++ {
		p := k.registry.Claim(i)
		if p == nil {
			continue
		}
		if p != excludeSelf {
			p.lock.Lock()
			if p.state == Sleeping && p.ChanVal == chanVal {
				p.state = Runnable
			}
			p.lock.Unlock()
		}
		stopWatching(p)
	}
}

// Yield gives up the hart voluntarily, returning to Runnable rather than
// Sleeping (xv6's yield()).
func (k *Kernel) Yield(p *Proc) {
	p.lock.Lock()
	p.state = Runnable
	k.schedOut(p)
	p.lock.Unlock()
}

// procWaiter adapts a specific process onto ksync.Waiter, so that a
// SleepLock can be used from within a process's own workload (e.g. a
// workload that contends a SleepLock guarding a fake device register).
// ksync.Waiter's shape carries no process or hart identity of its own —
// see ksync/sleeplock.go's doc for why — so the binding has to happen on
// this side, one adapter per calling process.
type procWaiter struct {
	k *Kernel
	p *Proc
}

// NewWaiter returns a ksync.Waiter bound to p, for use with
// ksync.NewSleepLock from inside p's own workload.
func (k *Kernel) NewWaiter(p *Proc) *procWaiter {
	return &procWaiter{k: k, p: p}
}

func (w *procWaiter) Sleep(chan_ any, lk sync.Locker) {
	w.k.Sleep(w.p, chan_, lk)
}

func (w *procWaiter) Wakeup(chan_ any) {
	w.k.Wakeup(w.p, chan_)
}
