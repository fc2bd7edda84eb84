package buddy_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-corekernel/buddy"
)

const testHeap = 16 * 1024 // exact power-of-two multiple of LeafSize: no padding

func TestNew_FreeMemStartsAtFullHeap(t *testing.T) {
	a := buddy.New(testHeap)
	require.Equal(t, uint64(testHeap), a.HaveMem())
}

func TestAllocFree_LeafRoundTrip(t *testing.T) {
	a := buddy.New(testHeap)
	addr, ok := a.Alloc(buddy.LeafSize)
	require.True(t, ok)
	require.Equal(t, uint64(testHeap-buddy.LeafSize), a.HaveMem())

	a.Free(addr)
	require.Equal(t, uint64(testHeap), a.HaveMem())
}

func TestAlloc_RoundsUpToBlockSize(t *testing.T) {
	a := buddy.New(testHeap)
	addr, ok := a.Alloc(100) // rounds up to 128
	require.True(t, ok)
	require.Equal(t, uint64(testHeap-128), a.HaveMem())
	a.Free(addr)
	require.Equal(t, uint64(testHeap), a.HaveMem())
}

func TestAlloc_ExhaustionFailsCleanly(t *testing.T) {
	a := buddy.New(testHeap)
	addr, ok := a.Alloc(testHeap)
	require.True(t, ok)
	require.Equal(t, uint64(0), a.HaveMem())

	_, ok = a.Alloc(buddy.LeafSize)
	require.False(t, ok)

	a.Free(addr)
	require.Equal(t, uint64(testHeap), a.HaveMem())
}

func TestAlloc_NonOverlappingRanges(t *testing.T) {
	a := buddy.New(testHeap)
	type span struct{ start, end uint64 }
	var spans []span
	for i := 0; i < testHeap/buddy.LeafSize; i++ {
		addr, ok := a.Alloc(buddy.LeafSize)
		require.True(t, ok)
		spans = append(spans, span{uint64(addr), uint64(addr) + buddy.LeafSize})
	}
	_, ok := a.Alloc(buddy.LeafSize)
	require.False(t, ok, "heap should be fully allocated")

	for i := range spans {
		for j := range spans {
			if i == j {
				continue
			}
			overlap := spans[i].start < spans[j].end && spans[j].start < spans[i].end
			require.False(t, overlap, "span %d overlaps span %d", i, j)
		}
	}
}

func TestFree_CoalescesBackToFullBlock(t *testing.T) {
	a := buddy.New(testHeap)
	// Allocate the entire heap as leaves, then free them all back in
	// arbitrary order; coalescing should restore the full free byte count
	// regardless of free order.
	n := testHeap / buddy.LeafSize
	addrs := make([]buddy.Addr, n)
	for i := range addrs {
		addr, ok := a.Alloc(buddy.LeafSize)
		require.True(t, ok)
		addrs[i] = addr
	}
	// free in reverse-pairwise order to exercise both coalescing directions:
	// every even-indexed leaf first, then the odd-indexed ones
	for i := n - 2; i >= 0; i -= 2 {
		a.Free(addrs[i])
	}
	for i := n - 1; i >= 1; i -= 2 {
		a.Free(addrs[i])
	}
	require.Equal(t, uint64(testHeap), a.HaveMem())

	// the fully-coalesced heap must again be allocatable as one block
	addr, ok := a.Alloc(testHeap)
	require.True(t, ok)
	require.Equal(t, uint64(0), a.HaveMem())
	a.Free(addr)
	require.Equal(t, uint64(testHeap), a.HaveMem())
}

func TestAllocFree_ConcurrentStressPreservesAccounting(t *testing.T) {
	a := buddy.New(testHeap)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				addr, ok := a.Alloc(buddy.LeafSize)
				if !ok {
					continue
				}
				a.Free(addr)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(testHeap), a.HaveMem())
}

func TestNew_PaddedHeapMarksTailUnavailable(t *testing.T) {
	// 3000 is not a power-of-two multiple of LeafSize; New must pad up to
	// the next block size and mark the pad permanently allocated, so the
	// allocatable total still matches the accounting identity checked
	// internally by New (it panics on mismatch).
	a := buddy.New(3000)
	require.True(t, a.HaveMem() >= 3000)
	require.True(t, a.HaveMem() < 4096)
}
