package proc

import (
	"fmt"

	"github.com/joeycumines/go-corekernel/ksync"
)

// freePool is the deferred-free holding area: a process record that's been
// removed from the registry still can't be handed back to the buddy until
// every hart currently watching it (via Registry.Claim) has finished, so
// freeProc parks it here instead, draining entries whose watching count
// has reached zero. Exact port of free_proc_pool.c, generalized from its
// fixed NCPU*2 C array to a slice sized from the kernel's configured hart
// count.
type freePool struct {
	lock    ksync.SpinLock
	slots   []*Proc
	inPool  int
	reclaim func(*Proc)
}

func (fp *freePool) init(capacity int, reclaim func(*Proc)) {
	fp.slots = make([]*Proc, capacity)
	fp.reclaim = reclaim
}

// drain reclaims every pooled entry whose watching count is zero. Called
// with needLock false from push (which already holds the lock), and with
// needLock true from a scheduler's periodic sweep.
func (fp *freePool) drain(needLock bool) {
	if needLock {
		fp.lock.Lock()
		defer fp.lock.Unlock()
	}
	if fp.inPool == 0 {
		return
	}
	for i, p := range fp.slots {
		if p != nil && p.watching.Load() == 0 {
			fp.reclaim(p)
			fp.slots[i] = nil
			fp.inPool--
		}
	}
}

// push adds p to the pool, first giving any already-pooled, no-longer-
// watched entries a chance to drain (mirroring push_pool's own call to
// free_pool(0) before scanning for a free slot). Panics if the pool is
// full — a bug rather than a recoverable condition: the pool's capacity is
// sized so this should never happen.
func (fp *freePool) push(p *Proc) {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	fp.drain(false)
	for i, cur := range fp.slots {
		if cur == nil {
			fp.slots[i] = p
			fp.inPool++
			return
		}
	}
	panic("proc: free-process pool is full")
}

// dump renders the pool's current contents for ProcDump.
func (fp *freePool) dump() []string {
	fp.lock.Lock()
	defer fp.lock.Unlock()
	lines := []string{"free pool"}
	for _, p := range fp.slots {
		if p != nil {
			lines = append(lines, fmt.Sprintf("pid %d name %s", p.Pid, p.Name))
		}
	}
	return append(lines, "")
}
