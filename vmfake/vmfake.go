// Package vmfake provides a fake, in-memory implementation of
// proc.AddressSpace, for use in tests and the boot harness in place of a
// real page-table walker (out of scope here). It tracks no page table at
// all: "mapped" pages are just keys in a map, and every physical frame is
// still charged to and released from a real buddy.Allocator, so the
// accounting properties (frames returned on Free/Dealloc, HaveMem
// recovering fully once every process exits) hold exactly as they would
// against a real allocator.
package vmfake

import (
	"fmt"

	"github.com/joeycumines/go-corekernel/buddy"
	"github.com/joeycumines/go-corekernel/proc"
)

// PageSize is the fake address space's page granularity, matching xv6's
// PGSIZE.
const PageSize = 4096

// AddressSpace is a fake in-memory address space: a map from page-aligned
// virtual address to the buddy frame backing it, plus the page's actual
// bytes.
type AddressSpace struct {
	b      *buddy.Allocator
	frames map[uint64]buddy.Addr
	data   map[uint64][]byte
}

var _ proc.AddressSpace = (*AddressSpace)(nil)

// New returns an empty address space backed by b.
func New(b *buddy.Allocator) *AddressSpace {
	return &AddressSpace{
		b:      b,
		frames: make(map[uint64]buddy.Addr),
		data:   make(map[uint64][]byte),
	}
}

// NewFactory returns a proc.AddressSpaceFactory that mints fake address
// spaces backed by b, for passing to proc.New.
func NewFactory(b *buddy.Allocator) proc.AddressSpaceFactory {
	return func() (proc.AddressSpace, bool) {
		return New(b), true
	}
}

func pageAlign(va uint64) uint64 {
	return (va / PageSize) * PageSize
}

func pageCount(sz uint64) uint64 {
	return (sz + PageSize - 1) / PageSize
}

// MapPages installs size/PageSize consecutive mappings starting at va. The
// fake implementation ignores pa and flags (there is no real physical
// memory behind a mapping here beyond what Alloc/First already charged to
// the buddy) and simply marks each page present.
func (a *AddressSpace) MapPages(va, size, _ uint64, _ int) error {
	base := pageAlign(va)
	n := pageCount(size)
	for i := uint64(0); i < n; i++ {
		pageVA := base + i*PageSize
		if _, ok := a.data[pageVA]; !ok {
			a.data[pageVA] = make([]byte, PageSize)
		}
	}
	return nil
}

// Unmap removes npages mappings starting at va, freeing their backing
// frames if freePhys is set.
func (a *AddressSpace) Unmap(va uint64, npages int, freePhys bool) {
	base := pageAlign(va)
	for i := 0; i < npages; i++ {
		pageVA := base + uint64(i)*PageSize
		if freePhys {
			if frame, ok := a.frames[pageVA]; ok {
				a.b.Free(frame)
				delete(a.frames, pageVA)
			}
		}
		delete(a.data, pageVA)
	}
}

// First maps one page at virtual address 0 and copies code into it,
// standing in for uvmfirst.
func (a *AddressSpace) First(code []byte) {
	if len(code) > PageSize {
		panic("vmfake: init code larger than one page")
	}
	frame, ok := a.b.Alloc(PageSize)
	if !ok {
		panic("vmfake: out of memory mapping init code")
	}
	a.frames[0] = frame
	page := make([]byte, PageSize)
	copy(page, code)
	a.data[0] = page
}

// Alloc grows the address space from oldSz to newSz, allocating and
// mapping one buddy frame per new page. Returns the prior size and false
// if any frame allocation fails partway through (already-mapped pages in
// this call are rolled back, matching uvmalloc's own cleanup-on-failure).
func (a *AddressSpace) Alloc(oldSz, newSz uint64) (uint64, bool) {
	if newSz <= oldSz {
		return oldSz, true
	}
	start := pageAlign(oldSz)
	if oldSz%PageSize != 0 {
		start += PageSize
	}
	var mapped []uint64
	for va := start; va < newSz; va += PageSize {
		frame, ok := a.b.Alloc(PageSize)
		if !ok {
			for _, m := range mapped {
				a.b.Free(a.frames[m])
				delete(a.frames, m)
				delete(a.data, m)
			}
			return oldSz, false
		}
		a.frames[va] = frame
		a.data[va] = make([]byte, PageSize)
		mapped = append(mapped, va)
	}
	return newSz, true
}

// Dealloc shrinks the address space from oldSz to newSz, freeing every
// frame no longer in range.
func (a *AddressSpace) Dealloc(oldSz, newSz uint64) uint64 {
	if newSz >= oldSz {
		return oldSz
	}
	start := pageAlign(newSz)
	if newSz%PageSize != 0 {
		start += PageSize
	}
	for va := start; va < oldSz; va += PageSize {
		if frame, ok := a.frames[va]; ok {
			a.b.Free(frame)
			delete(a.frames, va)
		}
		delete(a.data, va)
	}
	return newSz
}

// Copy deep-copies every mapped page up to sz bytes into dst, allocating
// fresh frames in dst rather than sharing the source's (matching uvmcopy's
// copy-on-fork semantics, not copy-on-write).
func (a *AddressSpace) Copy(dst proc.AddressSpace, sz uint64) error {
	d, ok := dst.(*AddressSpace)
	if !ok {
		return fmt.Errorf("vmfake: Copy target is not a *vmfake.AddressSpace")
	}
	n := pageCount(sz)
	for i := uint64(0); i < n; i++ {
		va := i * PageSize
		src, ok := a.data[va]
		if !ok {
			continue
		}
		frame, ok := a.b.Alloc(PageSize)
		if !ok {
			return fmt.Errorf("vmfake: Copy: out of memory at va %#x", va)
		}
		page := make([]byte, PageSize)
		copy(page, src)
		d.frames[va] = frame
		d.data[va] = page
	}
	return nil
}

// Free unmaps and frees every page still mapped. sz is not consulted: the
// fake tracks its mapped pages directly.
func (a *AddressSpace) Free(sz uint64) {
	for _, frame := range a.frames {
		a.b.Free(frame)
	}
	a.frames = make(map[uint64]buddy.Addr)
	a.data = make(map[uint64][]byte)
}

// CopyIn copies len(dst) bytes out of the address space starting at srcVA.
// Reads spanning an unmapped page return an error rather than panicking,
// matching copyin's own bounds checking.
func (a *AddressSpace) CopyIn(dst []byte, srcVA uint64) error {
	return a.rw(dst, srcVA, false)
}

// CopyOut copies src into the address space starting at dstVA.
func (a *AddressSpace) CopyOut(dstVA uint64, src []byte) error {
	return a.rw(src, dstVA, true)
}

func (a *AddressSpace) rw(buf []byte, va uint64, out bool) error {
	remaining := buf
	cur := va
	for len(remaining) > 0 {
		pageVA := pageAlign(cur)
		page, ok := a.data[pageVA]
		if !ok {
			return fmt.Errorf("vmfake: address %#x not mapped", cur)
		}
		off := cur - pageVA
		n := PageSize - off
		if uint64(len(remaining)) < n {
			n = uint64(len(remaining))
		}
		if out {
			copy(page[off:off+n], remaining[:n])
		} else {
			copy(remaining[:n], page[off:off+n])
		}
		remaining = remaining[n:]
		cur += n
	}
	return nil
}
