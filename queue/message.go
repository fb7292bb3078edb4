package queue

import (
	"github.com/distortos-go/kernel/ksync"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

// Entry is one element of a MessageQueue: a value tagged with the
// caller-supplied priority it was pushed with.
type Entry[T any] struct {
	Priority uint8
	Value    T
}

// MessageQueue is a bounded queue ordered by entry priority descending,
// ties broken by insertion order (distortos' MessageQueue). Unlike
// FIFOQueue it needs arbitrary-position insertion rather than a plain
// ring, so storage is a flat slice kept sorted on every Push.
type MessageQueue[T any] struct {
	mu       *ksync.Mutex
	notEmpty *ksync.ConditionVariable
	notFull  *ksync.ConditionVariable
	storage  []Entry[T]
	live     int
}

// NewMessageQueue constructs a queue backed by a heap-allocated buffer
// of the given capacity.
func NewMessageQueue[T any](sched *scheduler.Scheduler, capacity int) *MessageQueue[T] {
	return NewStaticMessageQueue(sched, make([]Entry[T], capacity))
}

// NewStaticMessageQueue constructs a queue backed by storage supplied
// by the caller; its length is the queue's capacity. storage is
// retained, not copied, and its initial contents are ignored.
func NewStaticMessageQueue[T any](sched *scheduler.Scheduler, storage []Entry[T]) *MessageQueue[T] {
	return &MessageQueue[T]{
		mu:       ksync.New(sched, ksync.Normal, ksync.PriorityInheritance, 0),
		notEmpty: ksync.NewConditionVariable(sched),
		notFull:  ksync.NewConditionVariable(sched),
		storage:  storage,
	}
}

// Capacity returns the fixed number of entries the queue can hold.
func (q *MessageQueue[T]) Capacity() int { return len(q.storage) }

// Len returns the number of entries currently queued.
func (q *MessageQueue[T]) Len(self *thread.TCB) int {
	_ = q.mu.Lock(self)
	n := q.live
	_ = q.mu.Unlock(self)
	return n
}

// insertSorted places value at the first position whose existing entry
// has strictly lower priority, preserving FIFO order among equals.
func (q *MessageQueue[T]) insertSorted(priority uint8, value T) {
	i := 0
	for i < q.live && q.storage[i].Priority >= priority {
		i++
	}
	copy(q.storage[i+1:q.live+1], q.storage[i:q.live])
	q.storage[i] = Entry[T]{Priority: priority, Value: value}
	q.live++
}

// Push blocks until there is room, then inserts value in priority
// order.
func (q *MessageQueue[T]) Push(self *thread.TCB, priority uint8, value T) error {
	return q.push(self, priority, value, nil)
}

// TryPush inserts value without blocking, returning kerrors.ErrBusy if
// the queue is full.
func (q *MessageQueue[T]) TryPush(self *thread.TCB, priority uint8, value T) error {
	if err := q.mu.TryLock(self); err != nil {
		return err
	}
	if q.live == len(q.storage) {
		return errBusy(q.mu, self)
	}
	q.insertSorted(priority, value)
	q.notEmpty.Signal()
	return q.mu.Unlock(self)
}

// PushFor blocks at most timeout ticks for room before inserting.
func (q *MessageQueue[T]) PushFor(self *thread.TCB, clock *ktime.Clock, timeout ktime.Duration, priority uint8, value T) error {
	deadline := clock.Now() + ktime.Tick(timeout)
	return q.push(self, priority, value, &deadline)
}

// PushUntil blocks at most until deadline for room before inserting.
func (q *MessageQueue[T]) PushUntil(self *thread.TCB, deadline ktime.Tick, priority uint8, value T) error {
	return q.push(self, priority, value, &deadline)
}

func (q *MessageQueue[T]) push(self *thread.TCB, priority uint8, value T, deadline *ktime.Tick) error {
	if err := q.mu.Lock(self); err != nil {
		return err
	}
	for q.live == len(q.storage) {
		if err := q.notFull.WaitAs(self, q.mu, thread.BlockedOnMessageQueuePush, deadline); err != nil {
			_ = q.mu.Unlock(self)
			return err
		}
	}
	q.insertSorted(priority, value)
	q.notEmpty.Signal()
	return q.mu.Unlock(self)
}

// Pop blocks until an entry is available, then removes and returns the
// highest-priority head entry.
func (q *MessageQueue[T]) Pop(self *thread.TCB) (Entry[T], error) {
	return q.pop(self, nil)
}

// TryPop removes the head entry without blocking, returning
// kerrors.ErrBusy if the queue is empty.
func (q *MessageQueue[T]) TryPop(self *thread.TCB) (Entry[T], error) {
	var zero Entry[T]
	if err := q.mu.TryLock(self); err != nil {
		return zero, err
	}
	if q.live == 0 {
		return zero, errBusy(q.mu, self)
	}
	return q.popHead(self)
}

// PopFor blocks at most timeout ticks for an entry.
func (q *MessageQueue[T]) PopFor(self *thread.TCB, clock *ktime.Clock, timeout ktime.Duration) (Entry[T], error) {
	deadline := clock.Now() + ktime.Tick(timeout)
	return q.pop(self, &deadline)
}

// PopUntil blocks at most until deadline for an entry.
func (q *MessageQueue[T]) PopUntil(self *thread.TCB, deadline ktime.Tick) (Entry[T], error) {
	return q.pop(self, &deadline)
}

func (q *MessageQueue[T]) pop(self *thread.TCB, deadline *ktime.Tick) (Entry[T], error) {
	var zero Entry[T]
	if err := q.mu.Lock(self); err != nil {
		return zero, err
	}
	for q.live == 0 {
		if err := q.notEmpty.WaitAs(self, q.mu, thread.BlockedOnMessageQueuePop, deadline); err != nil {
			_ = q.mu.Unlock(self)
			return zero, err
		}
	}
	return q.popHead(self)
}

// popHead removes storage[0] (already known live) and unlocks mu,
// called with mu held.
func (q *MessageQueue[T]) popHead(self *thread.TCB) (Entry[T], error) {
	e := q.storage[0]
	var zero Entry[T]
	copy(q.storage, q.storage[1:q.live])
	q.storage[q.live-1] = zero
	q.live--
	q.notFull.Signal()
	if err := q.mu.Unlock(self); err != nil {
		return zero, err
	}
	return e, nil
}
