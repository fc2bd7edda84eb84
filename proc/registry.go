package proc

import (
	"unsafe"

	"github.com/joeycumines/go-corekernel/ksync"
	"github.com/joeycumines/go-corekernel/vector"
)

// Registry is the process table: a tombstoned, lock-protected dynamic
// array of process pointers. Entries are stored as the word-sized
// vector.Vector wants them — the original C table literally casts struct
// proc* to uint64 to store it in the same vector used for other
// word-sized data; the Go equivalent is the same reinterpretation via
// uintptr, which is why vector.Vector is generic over constraints.Integer
// (uintptr included) rather than over Proc pointers directly.
type Registry struct {
	lock ksync.SpinLock
	list vector.Vector[uintptr]
}

func procToWord(p *Proc) uintptr { return uintptr(unsafe.Pointer(p)) }

func wordToProc(w uintptr) *Proc { return (*Proc)(unsafe.Pointer(w)) }

// Size reports the table's current length. It never decreases: callers
// may snapshot it without the lock and use it as a safe iteration bound,
// exactly as vector.Vector.Size permits.
func (r *Registry) Size() int {
	return r.list.Size()
}

// Push inserts p into the first tombstoned slot, or appends, returning the
// index it landed at.
func (r *Registry) Push(p *Proc) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.list.ReplaceFirstZero(procToWord(p))
}

// Remove tombstones p's slot. A no-op if p was never inserted (ListIndex
// == -1) — see allocProc's Push-failure path for why that check matters.
func (r *Registry) Remove(p *Proc) {
	if p.ListIndex == -1 {
		return
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.list.Set(p.ListIndex, 0)
}

// Claim returns the process at index i with its watching count
// incremented, or nil if the slot is a tombstone or out of range. The
// caller must eventually pass the result to stopWatching. This is the
// claim/watch protocol that lets a scanner (the scheduler, wait, wakeup,
// kill, reparent, ProcDump) hold a safe pointer into the table without
// holding the registry lock for the scan's duration, and without racing a
// concurrent freeProc that's handing the same record to the pool.
func (r *Registry) Claim(i int) *Proc {
	r.lock.Lock()
	if i < 0 || i >= r.list.Size() {
		r.lock.Unlock()
		return nil
	}
	w := r.list.Get(i)
	if w == 0 {
		r.lock.Unlock()
		return nil
	}
	p := wordToProc(w)
	p.watching.Add(1)
	r.lock.Unlock()
	return p
}

// stopWatching releases a pointer obtained from Claim. It needs no lock:
// watching is only ever read/written atomically.
func stopWatching(p *Proc) {
	p.watching.Add(-1)
}
