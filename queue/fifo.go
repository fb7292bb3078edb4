// Package queue implements bounded FIFO and priority message queues
// for inter-thread communication (distortos spec: FifoQueue,
// MessageQueue): a fixed-capacity buffer guarded by a mutex, with
// push/pop blocking via condition variables until a slot or an element
// becomes available.
package queue

import (
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/ksync"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/queue/internal/ring"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

// FIFOQueue is a bounded strict-FIFO queue of type T: Push appends at
// the tail, Pop removes from the head, both blocking while the queue
// is respectively full or empty.
type FIFOQueue[T any] struct {
	mu       *ksync.Mutex
	notEmpty *ksync.ConditionVariable
	notFull  *ksync.ConditionVariable
	ring     *ring.Ring[T]
}

// NewFIFOQueue constructs a queue backed by a heap-allocated buffer of
// the given capacity (distortos' DynamicFifoQueue).
func NewFIFOQueue[T any](sched *scheduler.Scheduler, capacity int) *FIFOQueue[T] {
	return NewStaticFIFOQueue(sched, make([]T, capacity))
}

// NewStaticFIFOQueue constructs a queue backed by storage supplied by
// the caller (distortos' static FifoQueue, whose backing array is
// usually a package-level array so the whole control block lives in
// .bss). storage is retained, not copied; its length is the queue's
// capacity.
func NewStaticFIFOQueue[T any](sched *scheduler.Scheduler, storage []T) *FIFOQueue[T] {
	return &FIFOQueue[T]{
		mu:       ksync.New(sched, ksync.Normal, ksync.PriorityInheritance, 0),
		notEmpty: ksync.NewConditionVariable(sched),
		notFull:  ksync.NewConditionVariable(sched),
		ring:     ring.New(storage),
	}
}

// Capacity returns the fixed number of elements the queue can hold.
func (q *FIFOQueue[T]) Capacity() int { return q.ring.Cap() }

// Len returns the number of elements currently queued.
func (q *FIFOQueue[T]) Len(self *thread.TCB) int {
	_ = q.mu.Lock(self)
	n := q.ring.Len()
	_ = q.mu.Unlock(self)
	return n
}

// Push blocks until there is room, then appends value at the tail.
func (q *FIFOQueue[T]) Push(self *thread.TCB, value T) error {
	return q.push(self, value, nil)
}

// TryPush appends value without blocking, returning kerrors.ErrBusy if
// the queue is full.
func (q *FIFOQueue[T]) TryPush(self *thread.TCB, value T) error {
	if err := q.mu.TryLock(self); err != nil {
		return err
	}
	if q.ring.Full() {
		return errBusy(q.mu, self)
	}
	q.ring.PushBack(value)
	q.notEmpty.Signal()
	return q.mu.Unlock(self)
}

// PushFor blocks at most timeout ticks for room before appending.
func (q *FIFOQueue[T]) PushFor(self *thread.TCB, clock *ktime.Clock, timeout ktime.Duration, value T) error {
	deadline := clock.Now() + ktime.Tick(timeout)
	return q.push(self, value, &deadline)
}

// PushUntil blocks at most until deadline for room before appending.
func (q *FIFOQueue[T]) PushUntil(self *thread.TCB, deadline ktime.Tick, value T) error {
	return q.push(self, value, &deadline)
}

func (q *FIFOQueue[T]) push(self *thread.TCB, value T, deadline *ktime.Tick) error {
	if err := q.mu.Lock(self); err != nil {
		return err
	}
	for q.ring.Full() {
		if err := q.notFull.WaitAs(self, q.mu, thread.BlockedOnFifoQueuePush, deadline); err != nil {
			// WaitAs reacquires mu even on timeout/interruption; release
			// it before reporting the error, mirroring Once.Do.
			_ = q.mu.Unlock(self)
			return err
		}
	}
	q.ring.PushBack(value)
	q.notEmpty.Signal()
	return q.mu.Unlock(self)
}

// Pop blocks until an element is available, then removes and returns
// the head.
func (q *FIFOQueue[T]) Pop(self *thread.TCB) (T, error) {
	return q.pop(self, nil)
}

// TryPop removes the head without blocking, returning kerrors.ErrBusy
// if the queue is empty.
func (q *FIFOQueue[T]) TryPop(self *thread.TCB) (T, error) {
	var zero T
	if err := q.mu.TryLock(self); err != nil {
		return zero, err
	}
	if q.ring.Empty() {
		return zero, errBusy(q.mu, self)
	}
	v := q.ring.PopFront()
	q.notFull.Signal()
	return v, q.mu.Unlock(self)
}

// PopFor blocks at most timeout ticks for an element.
func (q *FIFOQueue[T]) PopFor(self *thread.TCB, clock *ktime.Clock, timeout ktime.Duration) (T, error) {
	deadline := clock.Now() + ktime.Tick(timeout)
	return q.pop(self, &deadline)
}

// PopUntil blocks at most until deadline for an element.
func (q *FIFOQueue[T]) PopUntil(self *thread.TCB, deadline ktime.Tick) (T, error) {
	return q.pop(self, &deadline)
}

func (q *FIFOQueue[T]) pop(self *thread.TCB, deadline *ktime.Tick) (T, error) {
	var zero T
	if err := q.mu.Lock(self); err != nil {
		return zero, err
	}
	for q.ring.Empty() {
		if err := q.notEmpty.WaitAs(self, q.mu, thread.BlockedOnFifoQueuePop, deadline); err != nil {
			_ = q.mu.Unlock(self)
			return zero, err
		}
	}
	v := q.ring.PopFront()
	q.notFull.Signal()
	if err := q.mu.Unlock(self); err != nil {
		return zero, err
	}
	return v, nil
}

// errBusy unlocks mu (ignoring its error, since we're already
// returning one) and reports the queue as not ready.
func errBusy(mu *ksync.Mutex, self *thread.TCB) error {
	_ = mu.Unlock(self)
	return kerrors.ErrBusy
}
