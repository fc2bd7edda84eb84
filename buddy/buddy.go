// Package buddy implements a power-of-two buddy allocator over a managed
// address range, used to hand out the physical frames the rest of the
// kernel needs (process trapframes, kernel stacks, and user memory in the
// full build).
//
// Free-block bookkeeping is two bitmaps per block size: an "allocated" bitmap
// that stores, per buddy pair, the XOR of the two buddies' allocation state
// (a pair merges only when both halves are free — see Free), and a "split"
// bitmap recording which blocks of a given size have been divided into two
// of the size below. Free blocks of each size sit on an intrusive free list
// (package freelist) threaded through the managed arena itself.
package buddy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joeycumines/go-corekernel/bitset"
	"github.com/joeycumines/go-corekernel/freelist"
)

// LeafSize is the smallest block size the allocator hands out. It must be
// at least freelist.Size, since a free leaf block stores its free-list link
// in its own bytes.
const LeafSize = 16

// Addr is an offset into the allocator's managed arena. It stands in for a
// physical frame number: nothing outside this package interprets it as a
// real pointer.
type Addr uint64

type levelInfo struct {
	free      freelist.List
	allocated bitset.Set
	split     bitset.Set
}

// Allocator is a buddy allocator over a fixed-size arena, sized up front to
// the smallest power-of-two multiple of LeafSize that covers the requested
// heap size.
type Allocator struct {
	mu      sync.Mutex
	arena   []byte
	nsizes  int
	lvl     []levelInfo
	freeMem atomic.Uint64
}

func blkSize(k int) uint64 {
	return (uint64(1) << uint(k)) * LeafSize
}

func nblk(nsizes, k int) uint64 {
	return uint64(1) << uint(nsizes-1-k)
}

func roundUp(n, sz uint64) uint64 {
	return ((n-1)/sz + 1) * sz
}

func log2(n uint64) int {
	k := 0
	for n > 1 {
		k++
		n >>= 1
	}
	return k
}

func firstLevelContains(n uint64) int {
	lvl := 0
	sz := uint64(LeafSize)
	for sz < n {
		lvl++
		sz <<= 1
	}
	return lvl
}

// New builds an Allocator managing at least heapSize bytes. Any padding
// needed to reach the next power-of-two block size is marked permanently
// allocated, exactly as the original's bd_mark_unavailable.
func New(heapSize uint64) *Allocator {
	if heapSize == 0 {
		panic("buddy: zero heap size")
	}
	nsizes := log2(roundUp(heapSize, LeafSize)/LeafSize) + 1
	total := blkSize(nsizes - 1)
	if heapSize > total {
		nsizes++
		total = blkSize(nsizes - 1)
	}

	a := &Allocator{
		nsizes: nsizes,
		arena:  make([]byte, total),
		lvl:    make([]levelInfo, nsizes),
	}
	for k := 0; k < nsizes; k++ {
		a.lvl[k].free.Init()
		n := nblk(nsizes, k)
		allocBits := (n + 1) / 2
		if allocBits == 0 {
			allocBits = 1
		}
		a.lvl[k].allocated = bitset.New(int(allocBits))
		if k > 0 {
			a.lvl[k].split = bitset.New(int(n))
		}
	}

	usableEnd := roundUp(heapSize, LeafSize)
	if usableEnd > total {
		usableEnd = total
	}
	unavailable := total - usableEnd
	if unavailable > 0 {
		a.bdMark(int(usableEnd), int(total))
	}

	free := a.bdInitFree(0, int(usableEnd))
	if unavailable == 0 {
		// Nothing was marked, so the whole arena is one free block of the
		// largest size.
		a.lvl[a.maxSize()].free.Push(a.nodeAt(0))
		free = total
	}
	a.freeMem.Store(free)

	if want := total - unavailable; free != want {
		panic(fmt.Sprintf("buddy: wrong free mem amount: expected %d, got %d", want, free))
	}
	return a
}

func (a *Allocator) maxSize() int {
	return a.nsizes - 1
}

func ptrBlockIndex(k int, p int) uint64 {
	return uint64(p) / blkSize(k)
}

func nextBlockIndex(k int, p int) uint64 {
	i := uint64(p) / blkSize(k)
	if uint64(p)%blkSize(k) != 0 {
		i++
	}
	return i
}

func blockToAddr(k int, blockIndex uint64) int {
	return int(blockIndex * blkSize(k))
}

func (a *Allocator) nodeAt(offset int) *freelist.Node {
	return freelist.NodeAt(a.arena, offset)
}

func (a *Allocator) offsetOf(n *freelist.Node) int {
	return int(uintptr(unsafe.Pointer(n)) - uintptr(unsafe.Pointer(&a.arena[0])))
}

// bdMark marks memory in [start, stop) as allocated at every size, setting
// the split bit at each level above 0 (a block covering any part of an
// allocated range can't be handed out whole).
func (a *Allocator) bdMark(start, stop int) {
	if start%LeafSize != 0 || stop%LeafSize != 0 {
		panic("buddy: bdMark: unaligned range")
	}
	for k := 0; k < a.nsizes; k++ {
		bi := ptrBlockIndex(k, start)
		bj := nextBlockIndex(k, stop)
		for ; bi < bj; bi++ {
			if k > 0 {
				a.lvl[k].split.SetBit(bi)
			}
			a.lvl[k].allocated.Invert(bi >> 1)
		}
	}
}

// bdInitFreePair is called once per boundary block at a given size, where a
// "boundary block" is one whose buddy pair was left half-marked by bdMark
// (the pair's allocated flag, the XOR of the two buddies, is set). When
// that's the case exactly one of the pair is actually free, and
// markPrefix tells us which: it's true for the boundary at the low (left)
// edge of the managed range, where the free half is the one with the
// larger index, and false at the high (right) edge, where the free half is
// the one with the smaller index.
func (a *Allocator) bdInitFreePair(k int, bi uint64, markPrefix bool) uint64 {
	var buddy uint64
	if bi%2 == 0 {
		buddy = bi + 1
	} else {
		buddy = bi - 1
	}
	var free uint64
	if a.lvl[k].allocated.IsSet(bi >> 1) {
		free = blkSize(k)
		if (buddy > bi) == markPrefix {
			a.lvl[k].free.Push(a.nodeAt(blockToAddr(k, buddy)))
		} else {
			a.lvl[k].free.Push(a.nodeAt(blockToAddr(k, bi)))
		}
	}
	return free
}

// bdInitFree seeds the free lists after bdMark has run, by checking the two
// blocks that straddle the managed range's edges at every size below the
// max (interior blocks are either wholly allocated or wholly free and need
// no special handling; only a boundary block can have exactly one free
// buddy).
func (a *Allocator) bdInitFree(left, right int) uint64 {
	var free uint64
	for k := 0; k < a.maxSize(); k++ {
		l := nextBlockIndex(k, left)
		r := ptrBlockIndex(k, right)
		// With left == 0 there is no marked prefix: pair l can only have
		// been half-marked from the right edge, and the right-edge check
		// below seeds it.
		if left > 0 {
			free += a.bdInitFreePair(k, l, true)
		}
		if r <= l {
			continue
		}
		// r == nblk(k) means right sits exactly on the range's end — there
		// is no unavailable suffix at this level, so there's no boundary
		// pair to seed, and the pair index (r) is one past the allocated
		// bitset's last valid entry.
		if r >= nblk(a.nsizes, k) {
			continue
		}
		free += a.bdInitFreePair(k, r, false)
	}
	return free
}

// Alloc returns an Addr to a block of at least n bytes, or false if the
// allocator has no block large enough.
func (a *Allocator) Alloc(n uint64) (Addr, bool) {
	fk := firstLevelContains(n)
	if fk >= a.nsizes {
		return 0, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	k := fk
	for ; k < a.nsizes; k++ {
		if !a.lvl[k].free.Empty() {
			break
		}
	}
	if k >= a.nsizes {
		return 0, false
	}

	a.freeMem.Add(-blkSize(fk))
	p := a.offsetOf(a.lvl[k].free.Pop())
	a.lvl[k].allocated.Invert(ptrBlockIndex(k, p) >> 1)
	for ; k > fk; k-- {
		buddyOff := p + int(blkSize(k-1))
		a.lvl[k].split.SetBit(ptrBlockIndex(k, p))
		a.lvl[k-1].allocated.Invert(ptrBlockIndex(k-1, p) >> 1)
		a.lvl[k-1].free.Push(a.nodeAt(buddyOff))
	}
	return Addr(p), true
}

// ptrBlockSize returns the size index of the block that owns offset p, by
// walking up from the leaf size until a level's split bit for p's parent is
// set (meaning p's block itself was never split further). If no such level
// exists, p is the whole arena, allocated as one block of the largest size.
func (a *Allocator) ptrBlockSize(p int) int {
	for k := 0; k < a.maxSize(); k++ {
		if a.lvl[k+1].split.IsSet(ptrBlockIndex(k+1, p)) {
			return k
		}
	}
	return a.maxSize()
}

// Free returns a block previously returned by Alloc, coalescing with its
// buddy at each size while the buddy is also free.
func (a *Allocator) Free(addr Addr) {
	p := int(addr)
	k := a.ptrBlockSize(p)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.freeMem.Add(blkSize(k))
	for ; k < a.maxSize(); k++ {
		blockIndex := ptrBlockIndex(k, p)
		var buddy uint64
		if blockIndex%2 == 0 {
			buddy = blockIndex + 1
		} else {
			buddy = blockIndex - 1
		}
		a.lvl[k].allocated.Invert(blockIndex >> 1)
		if a.lvl[k].allocated.IsSet(buddy >> 1) {
			break // buddy is still allocated; stop coalescing here
		}
		q := blockToAddr(k, buddy)
		freelist.Remove(a.nodeAt(q))
		if buddy%2 == 0 {
			p = q // move to the start of the now-merged, larger block
		}
		a.lvl[k+1].split.ClearBit(ptrBlockIndex(k+1, p))
	}
	a.lvl[k].free.Push(a.nodeAt(p))
}

// HaveMem reports the number of bytes currently free across all sizes.
func (a *Allocator) HaveMem() uint64 {
	return a.freeMem.Load()
}
