// Package proc implements the process table, scheduler, and process
// lifecycle (fork/exit/wait/kill/sleep/wakeup): the largest single
// component of the kernel core.
//
// A "hart" is modeled as a goroutine running Kernel.Scheduler. A process is
// a goroutine launched at allocProc time and parked until the scheduler
// first switches into it; after that it runs cooperatively, handing control
// back to its hart's scheduler goroutine only at three suspension points:
// Sleep, Yield, and Exit. See context.go for how that handoff is modeled
// without a real register/stack switch.
//
// Lock-ordering rule: wait_lock is always acquired before any process's
// own lock, never the reverse. The registry lock, free-pool lock, and
// buddy lock are leaves and never wrap a process lock.
package proc

import (
	"sync/atomic"

	"github.com/joeycumines/go-corekernel/buddy"
	"github.com/joeycumines/go-corekernel/ksync"
)

// State is a process's position in the lifecycle state machine.
type State int32

const (
	Unused State = iota
	Used
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Used:
		return "used"
	case Sleeping:
		return "sleep"
	case Runnable:
		return "runble"
	case Running:
		return "run"
	case Zombie:
		return "zombie"
	default:
		return "???"
	}
}

// NOFile bounds the number of simultaneously open files per process,
// matching xv6's NOFILE.
const NOFile = 16

// OpenFile stands in for xv6's struct file: the only operations the core
// needs are reference-counted duplication (fork) and closing (exit). The
// real implementation (buffered/device/pipe files) is the filesystem
// layer's concern, out of scope here.
type OpenFile interface {
	Dup() OpenFile
	Close()
}

// Inode stands in for xv6's struct inode, for the same reason: only Dup
// (idup, for fork's cwd) and Put (iput, for exit) are needed by this core.
type Inode interface {
	Dup() Inode
	Put()
}

// Trapframe holds the subset of saved user registers the core itself
// touches (userinit's initial pc/sp, fork's verbatim copy with a zeroed
// return register). The full xv6 trapframe has dozens of fields destined
// for trampoline.S, which is out of scope here.
type Trapframe struct {
	Epc uint64
	Sp  uint64
	A0  uint64
	A1  uint64
	A2  uint64
}

// AddressSpace is the downstream VM collaborator (map_pages, uvmcreate,
// uvmfirst, uvmalloc, uvmdealloc, uvmcopy, uvmfree) plus
// either_copyin/either_copyout's user-address half, collapsed into one
// interface per process. The real implementation is the (out-of-scope)
// page-table walker; vmfake provides a fake in-memory one for tests and the
// boot harness.
type AddressSpace interface {
	// MapPages installs size/PageSize consecutive mappings starting at va,
	// to physical addresses starting at pa.
	MapPages(va, size, pa uint64, flags int) error
	// Unmap removes npages mappings starting at va. If freePhys, the
	// backing physical frames are returned to the buddy allocator.
	Unmap(va uint64, npages int, freePhys bool)
	// First maps one page at virtual address 0 and copies code into it,
	// standing in for uvmfirst (the very first user program image).
	First(code []byte)
	// Alloc grows the address space from oldSz to newSz, mapping fresh
	// frames as needed. Returns the new size and false on exhaustion.
	Alloc(oldSz, newSz uint64) (uint64, bool)
	// Dealloc shrinks the address space from oldSz to newSz, unmapping and
	// freeing frames no longer in range. Returns the new size.
	Dealloc(oldSz, newSz uint64) uint64
	// Copy deep-copies every mapped page, up to sz bytes, into dst.
	Copy(dst AddressSpace, sz uint64) error
	// Free unmaps and frees every page still mapped, sized by sz.
	Free(sz uint64)
	// CopyIn copies len(dst) bytes out of the address space starting at
	// srcVA.
	CopyIn(dst []byte, srcVA uint64) error
	// CopyOut copies src into the address space starting at dstVA.
	CopyOut(dstVA uint64, src []byte) error
}

// AddressSpaceFactory mints a new, empty AddressSpace (uvmcreate), failing
// if construction itself requires a frame the buddy can't supply.
type AddressSpaceFactory func() (AddressSpace, bool)

// Proc is one process-table record. Every mutable field below except
// Parent is guarded by the process's own lock; Parent is guarded by the
// Kernel's wait lock instead, so that reparent can rewrite it while
// scanning under wait_lock alone.
type Proc struct {
	lock ksync.SpinLock

	Pid    int
	Name   string
	state  State
	Parent *Proc

	ctx         *Context
	runningHart *Hart // set only by Kernel.Scheduler, for the duration of a run

	Trapframe     *Trapframe
	trapframeAddr buddy.Addr

	AddressSpace AddressSpace

	KStackVA    uint64
	kstackFrame buddy.Addr

	Files [NOFile]OpenFile
	Cwd   Inode

	Sz      uint64
	XState  int
	Killed  bool
	ChanVal any

	ListIndex int
	watching  atomic.Int32

	recordAddr buddy.Addr
	workload   func(k *Kernel, p *Proc)
}

// State reports the process's current lifecycle state, under its own lock.
func (p *Proc) State() State {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}
