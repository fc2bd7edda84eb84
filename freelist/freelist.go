// Package freelist implements an intrusive, circular, doubly-linked list.
//
// Nodes are not allocated by this package — the caller supplies pointers
// into memory it already owns, and the list stores its link pointers
// in-place inside that memory (exactly like xv6's free_mem_list: the space
// for a free block's header is the free block itself). This is why Node
// must be embedded at the front of anything handed to Push: for a block to
// be eligible, it must be at least as large as a Node.
package freelist

import "unsafe"

// Node is the in-place link header. Any region of memory at least
// unsafe.Sizeof(Node{}) bytes can be reinterpreted as a *Node via NodeAt.
type Node struct {
	prev, next *Node
}

// Size is the minimum block size a List can track. The buddy allocator's
// LeafSize must be >= this.
const Size = unsafe.Sizeof(Node{})

// NodeAt reinterprets the first Size bytes at the given address within buf
// as a *Node. The caller must guarantee the region is otherwise unused for
// as long as the returned pointer is live in a list.
func NodeAt(buf []byte, offset int) *Node {
	if offset < 0 || offset+int(Size) > len(buf) {
		panic("freelist: offset out of range")
	}
	return (*Node)(unsafe.Pointer(&buf[offset]))
}

// List is a sentinel-based circular doubly-linked list, analogous to xv6's
// free_mem_list head node.
type List struct {
	sentinel Node
}

// Init resets the list to empty. Must be called before use.
func (l *List) Init() {
	l.sentinel.next = &l.sentinel
	l.sentinel.prev = &l.sentinel
}

// Empty reports whether the list holds no nodes.
func (l *List) Empty() bool {
	return l.sentinel.next == &l.sentinel
}

// Push inserts n immediately after the sentinel (LIFO order, matching
// fm_list_push).
func (l *List) Push(n *Node) {
	n.next = l.sentinel.next
	n.prev = &l.sentinel
	l.sentinel.next.prev = n
	l.sentinel.next = n
}

// Pop removes and returns the node nearest the sentinel. Panics if the list
// is empty, matching xv6's "pop from empty list" invariant violation.
func (l *List) Pop() *Node {
	if l.Empty() {
		panic("freelist: pop from empty list")
	}
	n := l.sentinel.next
	Remove(n)
	return n
}

// Remove detaches an arbitrary node from whichever list it currently sits
// in. It is the caller's responsibility to know which list that is; the
// buddy allocator uses this to pull a specific buddy off its free list
// during coalescing.
func Remove(n *Node) {
	n.prev.next = n.next
	n.next.prev = n.prev
}
