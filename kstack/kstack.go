// Package kstack hands out virtual addresses for per-process kernel
// stacks. Each address is unique for the lifetime of the kernel and spaced
// two pages apart from its neighbors, leaving room for an unmapped guard
// page below every stack (the mapping itself, and the guard page's
// protection, are a vmfake/trapframe concern — this package only manages
// the VA numbering).
package kstack

import (
	"github.com/joeycumines/go-corekernel/ksync"
	"github.com/joeycumines/go-corekernel/vector"
)

// PageSize is the simulated page granularity used to space stacks apart.
const PageSize = 4096

// VA computes the kernel-stack virtual address for the given id. Ids start
// at 1; VA is monotonically decreasing in the original (stacks count down
// from TRAMPOLINE), but since this simulation has no real virtual address
// space to place a trampoline page within, ids here count up instead — the
// property that matters, and the one §8 actually tests, is that distinct
// ids never alias and are always two pages apart, not the direction of
// growth.
func VA(id uint64) uint64 {
	return id * 2 * PageSize
}

// Provider hands out kernel-stack VAs, reusing ids returned via Put before
// minting new ones, exactly like the original's vector-backed pool.
type Provider struct {
	lock   ksync.SpinLock
	pool   vector.Vector[uint64]
	nextID uint64
}

// New returns a Provider with no ids yet reserved.
func New() *Provider {
	return &Provider{nextID: 1}
}

// Get returns a kernel-stack VA: a previously returned one if the pool has
// any, otherwise a freshly minted one.
func (p *Provider) Get() uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.pool.Size() > 0 {
		return p.pool.PopBack()
	}
	va := VA(p.nextID)
	p.nextID++
	return va
}

// Put returns va to the pool for reuse by a future Get.
func (p *Provider) Put(va uint64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.pool.PushBack(va)
}
