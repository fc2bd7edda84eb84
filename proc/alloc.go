package proc

import (
	"github.com/joeycumines/go-corekernel/klog"
)

// procRecordSize stands in for sizeof(struct proc) in the original's
// malloc(sizeof(struct proc)): a nominal size charged against the buddy
// allocator purely so the accounting identity (total free bytes + live
// allocations == managed size) stays honest even though the Proc struct
// itself lives on the Go heap, not in the buddy's arena (see DESIGN.md's
// buddy entry for why the arena holds no real memory this simulation
// reads or writes through).
const procRecordSize = 512

// trapframePageSize and kstackPageSize are the simulated physical frame
// sizes charged for a process's trapframe and kernel stack, matching
// xv6's one-page-each allocation via kalloc().
const (
	trapframePageSize = 4096
	kstackPageSize    = 4096
)

// allocProc looks for an UNUSED slot by allocating a brand-new record (this
// port has no free-list of Proc structs to reuse — Go's own allocator
// already recycles the backing memory once freeProc drops every reference
// — see DESIGN.md), charges the buddy for its resources, and returns it
// with its lock held, exactly as xv6's allocproc(). Returns nil on any
// resource exhaustion.
func (k *Kernel) allocProc(workload func(*Kernel, *Proc)) *Proc {
	recordAddr, ok := k.Buddy.Alloc(procRecordSize)
	if !ok {
		return nil
	}

	p := &Proc{
		recordAddr: recordAddr,
		ListIndex:  -1,
		ctx:        NewContext(),
		workload:   workload,
	}
	p.lock.Lock()
	p.Pid = k.allocPID()
	p.state = Used

	kstackFrame, ok := k.Buddy.Alloc(kstackPageSize)
	if !ok {
		k.freeProc(p)
		return nil
	}
	p.kstackFrame = kstackFrame
	p.KStackVA = k.KStack.Get()

	trapframeAddr, ok := k.Buddy.Alloc(trapframePageSize)
	if !ok {
		k.freeProc(p)
		return nil
	}
	p.trapframeAddr = trapframeAddr
	p.Trapframe = &Trapframe{}

	as, ok := k.newAddressSpace()
	if !ok {
		k.freeProc(p)
		return nil
	}
	p.AddressSpace = as

	idx := k.registry.Push(p)
	if idx < 0 {
		// The original clobbers list_index to 0 here before calling
		// freeproc, which would then overwrite whatever legitimate occupant
		// sits at slot 0. Left at -1 instead, so Registry.Remove (called
		// from within freeProc) short-circuits rather than tombstoning
		// someone else's slot.
		k.freeProc(p)
		return nil
	}
	p.ListIndex = idx

	go k.runProcess(p)

	klog.Debugf("proc", "allocated pid %d at registry index %d", p.Pid, p.ListIndex)
	return p
}

// freeProc releases every resource a process holds and parks the now-
// unused record in the free pool. The caller must hold p.lock; freeProc
// releases it before returning, exactly as xv6's freeproc() does (its doc
// comment: "p->lock must be held").
func (k *Kernel) freeProc(p *Proc) {
	if p.Trapframe != nil {
		k.Buddy.Free(p.trapframeAddr)
		p.Trapframe = nil
	}
	if p.AddressSpace != nil {
		p.AddressSpace.Free(p.Sz)
		p.AddressSpace = nil
	}
	if p.KStackVA != 0 {
		k.Buddy.Free(p.kstackFrame)
		k.KStack.Put(p.KStackVA)
		p.KStackVA = 0
	}
	k.registry.Remove(p)
	p.lock.Unlock()
	k.pool.push(p)
}

// runProcess is the goroutine body launched for every allocated process.
// Its first resume corresponds to xv6's forkret(): the scheduler holds
// p.lock across the switch that starts it, so the first thing a newly
// scheduled process must do is release it (this port has no file-system
// layer to lazily initialize on the first-ever process, so that half of
// forkret is dropped). After that it simply runs the process's workload
// (the stand-in for a user program, see proc.go's Kernel doc) until the
// workload calls Kernel.Exit — or, if it returns without exiting, this
// calls Exit(0) on its behalf, since a process in this core must always
// end as a ZOMBIE, never by its goroutine just returning. The one
// exception is the init process itself: Exit refuses to let it die (xv6's
// "init exiting" panic), so a returning init workload instead loops here
// forever, reaping children with Wait and yielding the hart whenever it
// has none to reap, same as xv6's init looping on wait() and never
// reaching its own exit().
func (k *Kernel) runProcess(p *Proc) {
	<-p.ctx.resume
	p.lock.Unlock()

	if p.workload != nil {
		p.workload(k, p)
	}
	if p == k.initProc {
		for {
			if pid, _ := k.Wait(p); pid < 0 {
				k.Yield(p)
			}
		}
	}
	k.Exit(p, 0)
}

// UserInit allocates the very first process (going straight from unused
// to Runnable, as userinit() does), maps initCode as its entire user image via
// AddressSpace.First, and records it as the Kernel's initProc — the
// process every orphan is reparented to, and the one process Exit refuses
// to let exit. Panics if the very first allocation fails, matching xv6's
// assumption that userinit() cannot fail this early in boot.
func (k *Kernel) UserInit(workload func(*Kernel, *Proc), initCode []byte, cwd Inode) *Proc {
	p := k.allocProc(workload)
	if p == nil {
		panic("proc: userinit: allocproc failed")
	}
	k.initProc = p

	p.AddressSpace.First(initCode)
	p.Sz = trapframePageSize
	p.Trapframe.Epc = 0
	p.Trapframe.Sp = trapframePageSize
	p.Name = "initcode"
	p.Cwd = cwd

	p.state = Runnable
	p.lock.Unlock()

	klog.Infof("proc", "userinit: pid %d is the first process", p.Pid)
	return p
}
