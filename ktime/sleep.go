package ktime

import "github.com/distortos-go/kernel/list"

// SleepQueue is a list of list.Node entries sorted by wake tick
// ascending (distortos spec §3 invariant 5). It only knows about ticks
// and opaque nodes; the scheduler owns what a node actually represents
// (a sleeping TCB, or a bounded-wait deadline), keeping this package
// below thread.TCB in the dependency order the spec lays out (L1 below
// L2).
type SleepQueue struct {
	entries *list.List
	wake    map[*list.Node]Tick
}

// NewSleepQueue returns an empty sleep queue.
func NewSleepQueue() *SleepQueue {
	return &SleepQueue{
		entries: list.New(),
		wake:    make(map[*list.Node]Tick),
	}
}

// Insert links node into the queue, keyed by wakeAt, preserving FIFO
// order among entries sharing the same wake tick.
func (q *SleepQueue) Insert(node *list.Node, wakeAt Tick) {
	q.wake[node] = wakeAt
	list.SortedByKey(q.entries, node, func(n *list.Node) Tick { return q.wake[n] })
}

// Remove unlinks node from the queue. No-op if node is not enrolled.
func (q *SleepQueue) Remove(node *list.Node) {
	if _, ok := q.wake[node]; !ok {
		return
	}
	list.Remove(node)
	delete(q.wake, node)
}

// WakeAt returns the wake tick node was enrolled with, and whether it
// is currently enrolled.
func (q *SleepQueue) WakeAt(node *list.Node) (Tick, bool) {
	t, ok := q.wake[node]
	return t, ok
}

// PopDue removes and returns every node whose wake tick is <= now, in
// ascending wake-tick order.
func (q *SleepQueue) PopDue(now Tick) []*list.Node {
	var due []*list.Node
	for {
		front := q.entries.Front()
		if front == nil || q.wake[front] > now {
			break
		}
		due = append(due, front)
		list.Remove(front)
		delete(q.wake, front)
	}
	return due
}

// Len reports the number of enrolled entries.
func (q *SleepQueue) Len() int { return q.entries.Len() }
