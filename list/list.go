// Package list provides the intrusive list building blocks every other
// kernel package is built on: nodes live inside the owning object, so
// insertion and removal never allocate and run in O(1) given only a
// node pointer.
//
// Go has no pointer-to-member, so where the original C++
// (estd::IntrusiveForwardList / estd::SortedIntrusiveForwardList) uses a
// compile-time byte offset to recover the owner from a node, a Node here
// instead carries a plain `any` back-reference set once at construction;
// Of[T] type-asserts it back. The list itself still never allocates and
// a node still knows how to remove itself without a pointer to the list
// head.
package list

import "golang.org/x/exp/constraints"

// Node is an intrusive doubly-linked list node, meant to be embedded as
// a field of the owning struct (a TCB, a mutex control block, a timer,
// ...).
type Node struct {
	prev, next *Node
	list       *List
	owner      any
}

// NewNode creates a detached node that knows its owner. owner is
// typically the address of the struct embedding this Node.
func NewNode(owner any) *Node {
	return &Node{owner: owner}
}

// Of recovers the owning *T from a node created with NewNode(ownerPtr).
func Of[T any](n *Node) *T {
	return n.owner.(*T)
}

// Linked reports whether the node currently belongs to a list.
func (n *Node) Linked() bool {
	return n.list != nil
}

// List manages a circular, doubly-linked, intrusive list via a sentinel
// root node. The zero value is not usable; use New.
type List struct {
	root Node
	len  int
}

// New returns an empty list, ready for use.
func New() *List {
	l := &List{}
	l.root.next = &l.root
	l.root.prev = &l.root
	l.root.list = l
	return l
}

// Len returns the number of linked nodes.
func (l *List) Len() int { return l.len }

// Empty reports whether the list has no linked nodes.
func (l *List) Empty() bool { return l.len == 0 }

// Front returns the first node, or nil if the list is empty.
func (l *List) Front() *Node {
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// Back returns the last node, or nil if the list is empty.
func (l *List) Back() *Node {
	if l.len == 0 {
		return nil
	}
	return l.root.prev
}

// Next returns the node following n on its list, or nil if n is the
// last linked node (or detached).
func (n *Node) Next() *Node {
	if n.list == nil || n.next == &n.list.root {
		return nil
	}
	return n.next
}

// Prev returns the node preceding n on its list, or nil if n is the
// first linked node (or detached).
func (n *Node) Prev() *Node {
	if n.list == nil || n.prev == &n.list.root {
		return nil
	}
	return n.prev
}

func (l *List) insertAfter(at, n *Node) {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	n.list = l
	l.len++
}

// PushFront links n at the head of the list. n must currently be
// detached.
func (l *List) PushFront(n *Node) {
	l.insertAfter(&l.root, n)
}

// PushBack links n at the tail of the list. n must currently be
// detached.
func (l *List) PushBack(n *Node) {
	l.insertAfter(l.root.prev, n)
}

// InsertBefore links n immediately before at, which must already be
// linked on l.
func (l *List) InsertBefore(at, n *Node) {
	l.insertAfter(at.prev, n)
}

// InsertOrdered walks from the front and links n immediately before the
// first existing node for which stopBefore reports true, preserving
// the relative order of any existing nodes for which stopBefore is
// false (the FIFO tiebreak required by wait-queue and sleep-queue
// ordering). If no such node exists, n is appended at the tail.
func (l *List) InsertOrdered(n *Node, stopBefore func(existing *Node) bool) {
	for cur := l.root.next; cur != &l.root; cur = cur.next {
		if stopBefore(cur) {
			l.InsertBefore(cur, n)
			return
		}
	}
	l.PushBack(n)
}

// SortedByKey links n into l ordered ascending by key(n), FIFO among
// equal keys, given the key extractor a caller would otherwise inline
// into every InsertOrdered call site (ktime.SleepQueue's wake tick).
// It is the Go analogue of
// estd::SortedIntrusiveForwardList existing as a component distinct
// from the plain forward list: InsertOrdered stays the general
// primitive, SortedByKey is sugar for the common "order by an
// extracted orderable key" case.
func SortedByKey[K constraints.Integer](l *List, n *Node, key func(*Node) K) {
	nk := key(n)
	l.InsertOrdered(n, func(existing *Node) bool { return key(existing) > nk })
}

// Remove unlinks n from whatever list it is currently on. It is a
// no-op if n is already detached. Removal never needs the list head:
// n carries everything required to splice itself out.
func Remove(n *Node) {
	if n.list == nil {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.list.len--
	n.prev = nil
	n.next = nil
	n.list = nil
}

// Do calls fn for every node currently linked, from front to back. fn
// must not mutate the list.
func (l *List) Do(fn func(*Node)) {
	for cur := l.root.next; cur != &l.root; cur = cur.next {
		fn(cur)
	}
}
