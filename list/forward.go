package list

// ForwardNode is a singly-linked forward list node, the Go analogue of
// estd::IntrusiveForwardListNode. It supports push_front/pop_front and
// insert/erase "after a position" in O(1), but — as in the original —
// does not support removing an arbitrary node without first locating
// its predecessor.
type ForwardNode struct {
	next  *ForwardNode
	owner any
}

// NewForwardNode creates a detached forward-list node for owner.
func NewForwardNode(owner any) *ForwardNode {
	return &ForwardNode{owner: owner}
}

// ForwardOf recovers the owning *T from a node created with
// NewForwardNode(ownerPtr).
func ForwardOf[T any](n *ForwardNode) *T {
	return n.owner.(*T)
}

// Next returns the following node, or nil at the end of the list.
func (n *ForwardNode) Next() *ForwardNode { return n.next }

// ForwardList is a singly-linked intrusive list with a "before-begin"
// sentinel, the Go analogue of estd::IntrusiveForwardList.
type ForwardList struct {
	beforeBegin ForwardNode
}

// NewForwardList returns an empty forward list, ready for use.
func NewForwardList() *ForwardList {
	return &ForwardList{}
}

// BeforeBegin returns the sentinel node preceding the first element;
// InsertAfter(l.BeforeBegin(), n) is equivalent to PushFront(n).
func (l *ForwardList) BeforeBegin() *ForwardNode { return &l.beforeBegin }

// Begin returns the first linked node, or nil if the list is empty.
func (l *ForwardList) Begin() *ForwardNode { return l.beforeBegin.next }

// Empty reports whether the list has no linked nodes.
func (l *ForwardList) Empty() bool { return l.beforeBegin.next == nil }

// PushFront links n at the head of the list.
func (l *ForwardList) PushFront(n *ForwardNode) {
	InsertAfter(&l.beforeBegin, n)
}

// PopFront unlinks the first node. No-op on an empty list.
func (l *ForwardList) PopFront() {
	if l.beforeBegin.next != nil {
		EraseAfter(&l.beforeBegin)
	}
}

// InsertAfter links newNode immediately after position. No list
// instance is required: the operation is purely a pointer splice.
func InsertAfter(position, newNode *ForwardNode) {
	newNode.next = position.next
	position.next = newNode
}

// EraseAfter unlinks the node following position and returns the node
// that now follows position (nil if none). No list instance is
// required.
func EraseAfter(position *ForwardNode) *ForwardNode {
	removed := position.next
	if removed == nil {
		return nil
	}
	position.next = removed.next
	removed.next = nil
	return position.next
}

// Do calls fn for every linked node, from the first to the last.
func (l *ForwardList) Do(fn func(*ForwardNode)) {
	for cur := l.beforeBegin.next; cur != nil; cur = cur.next {
		fn(cur)
	}
}

// InsertOrdered walks from the front and links n
// immediately before the first existing node for which stopBefore
// reports true (ties broken by leaving existing nodes in place,
// i.e. insertion order), appending at the tail if none match.
func (l *ForwardList) InsertOrdered(n *ForwardNode, stopBefore func(existing *ForwardNode) bool) {
	prev := &l.beforeBegin
	for cur := l.beforeBegin.next; cur != nil; cur = cur.next {
		if stopBefore(cur) {
			InsertAfter(prev, n)
			return
		}
		prev = cur
	}
	InsertAfter(prev, n)
}
