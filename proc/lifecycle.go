package proc

import (
	"fmt"
)

// Fork creates a new process as a copy of p, running childWorkload instead
// of literally resuming the same workload function (the original's fork()
// has the child return from the same fork() call site with a 0 return
// value; this port has no single shared call site to return into, since
// each process is its own goroutine, so the caller supplies what the child
// should run instead — typically a closure that reads childWorkload's own
// arguments and then delegates to the same function p is running).
// Returns the child's pid, or -1 on resource exhaustion.
func (k *Kernel) Fork(p *Proc, childWorkload func(*Kernel, *Proc)) int {
	np := k.allocProc(childWorkload)
	if np == nil {
		return -1
	}

	if err := p.AddressSpace.Copy(np.AddressSpace, p.Sz); err != nil {
		k.freeProc(np)
		return -1
	}
	np.Sz = p.Sz

	*np.Trapframe = *p.Trapframe
	np.Trapframe.A0 = 0

	for i, f := range p.Files {
		if f != nil {
			np.Files[i] = f.Dup()
		}
	}
	if p.Cwd != nil {
		np.Cwd = p.Cwd.Dup()
	}
	np.Name = p.Name

	pid := np.Pid
	np.lock.Unlock()

	k.waitLock.Lock()
	np.Parent = p
	k.waitLock.Unlock()

	np.lock.Lock()
	np.state = Runnable
	np.lock.Unlock()

	return pid
}

// reparent hands p's children to the init process, waking init in case it's
// blocked in Wait. Caller must hold waitLock.
func (k *Kernel) reparent(p *Proc) {
	n := k.registry.Size()
	for i := 0; i < n; i++ {
		pp := k.registry.Claim(i)
		if pp == nil {
			continue
		}
		if pp.Parent == p {
			pp.Parent = k.initProc
			k.Wakeup(nil, k.initProc)
		}
		stopWatching(pp)
	}
}

// Exit terminates p, reparenting its children to init, waking a parent
// potentially blocked in Wait, and leaving p a Zombie until that parent
// reaps it via Wait. Never returns: it hands control to the scheduler and
// is never scheduled again, mirroring exit()'s "does not return" contract
// (violated only by a bug, hence the trailing panic).
func (k *Kernel) Exit(p *Proc, status int) {
	if p == k.initProc {
		panic("proc: init exiting")
	}

	for i, f := range p.Files {
		if f != nil {
			f.Close()
			p.Files[i] = nil
		}
	}
	if p.Cwd != nil {
		p.Cwd.Put()
		p.Cwd = nil
	}

	k.waitLock.Lock()

	k.reparent(p)
	k.Wakeup(p, p.Parent)

	p.lock.Lock()

	p.XState = status
	p.state = Zombie

	k.waitLock.Unlock()

	k.schedOut(p)
	panic("proc: zombie exit resumed")
}

// Wait blocks p until one of its children exits, then reaps it and returns
// its pid and exit status. Returns (-1, 0) immediately if p has no children,
// or once p itself has been killed.
func (k *Kernel) Wait(p *Proc) (int, int) {
	k.waitLock.Lock()

	for {
		haveKids := false

		n := k.registry.Size()
		for i := 0; i < n; i++ {
			pp := k.registry.Claim(i)
			if pp == nil {
				continue
			}
			if pp.Parent == p {
				pp.lock.Lock()
				haveKids = true
				if pp.state == Zombie {
					pid := pp.Pid
					xstate := pp.XState
					k.freeProc(pp) // releases pp.lock
					k.waitLock.Unlock()
					stopWatching(pp)
					return pid, xstate
				}
				pp.lock.Unlock()
			}
			stopWatching(pp)
		}

		if !haveKids || k.isKilled(p) {
			k.waitLock.Unlock()
			return -1, 0
		}

		k.Sleep(p, p, &k.waitLock)
	}
}

// Kill marks the process with the given pid as killed, waking it if it's
// sleeping. Reports whether a matching process was found. The victim
// notices Killed and exits on its own schedule — this core has no forcible
// preemption point (xv6's is in usertrap(), out of scope here).
func (k *Kernel) Kill(pid int) bool {
	n := k.registry.Size()
	for i := 0; i < n; i++ {
		p := k.registry.Claim(i)
		if p == nil {
			continue
		}
		p.lock.Lock()
		if p.Pid == pid {
			p.Killed = true
			if p.state == Sleeping {
				p.state = Runnable
			}
			p.lock.Unlock()
			stopWatching(p)
			return true
		}
		p.lock.Unlock()
		stopWatching(p)
	}
	return false
}

// isKilled reports whether p has been marked killed.
func (k *Kernel) isKilled(p *Proc) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.Killed
}

// GrowProc grows (delta > 0) or shrinks (delta < 0) p's address space by
// delta bytes. Reports whether the operation succeeded; a failed growth
// leaves p's size unchanged.
func (k *Kernel) GrowProc(p *Proc, delta int) bool {
	sz := p.Sz
	switch {
	case delta > 0:
		newSz, ok := p.AddressSpace.Alloc(sz, sz+uint64(delta))
		if !ok {
			return false
		}
		sz = newSz
	case delta < 0:
		sz = p.AddressSpace.Dealloc(sz, sz-uint64(-delta))
	}
	p.Sz = sz
	return true
}

// EitherCopyOut copies src either to the user virtual address dst inside
// p's address space (userDst true) or into the first len(src) bytes of the
// plain kernel-side byte slice dstBuf (userDst false) —
// collapsing the original's two destination kinds (a user pagetable VA, or
// a bare kernel pointer) into the one distinction Go actually needs to
// make at this boundary.
func (k *Kernel) EitherCopyOut(p *Proc, userDst bool, dst uint64, dstBuf []byte, src []byte) error {
	if userDst {
		return p.AddressSpace.CopyOut(dst, src)
	}
	copy(dstBuf, src)
	return nil
}

// EitherCopyIn copies into dst out of either a user virtual address inside
// p's address space (userSrc true, srcVA used) or a kernel-side byte slice
// srcBuf (userSrc false).
func (k *Kernel) EitherCopyIn(p *Proc, dst []byte, userSrc bool, srcVA uint64, srcBuf []byte) error {
	if userSrc {
		return p.AddressSpace.CopyIn(dst, srcVA)
	}
	copy(dst, srcBuf)
	return nil
}

// ProcDump renders every non-Unused process's pid, state, and name,
// followed by the free pool's contents, for debugging — the Ctrl-P
// listing, without taking any process lock (xv6's procdump() takes none
// either, so a listing can still be produced from a wedged machine). It
// does take the registry lock inside each Claim and the free pool's lock.
func (k *Kernel) ProcDump() []string {
	lines := []string{""}
	n := k.registry.Size()
	lines = append(lines, fmt.Sprintf("proc list size is %d", n))
	for i := 0; i < n; i++ {
		p := k.registry.Claim(i)
		if p == nil {
			continue
		}
		if p.state != Unused {
			lines = append(lines, fmt.Sprintf("pid = %d; state = %s; name = %s; ind = %d",
				p.Pid, p.state, p.Name, p.ListIndex))
		}
		stopWatching(p)
	}
	lines = append(lines, k.pool.dump()...)
	return lines
}
