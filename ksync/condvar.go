package ksync

import (
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/list"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

// ConditionVariable is the classic wait/signal/broadcast primitive,
// always used together with a Mutex the caller already holds
// (distortos spec §5): Wait atomically releases the mutex and blocks,
// reacquiring it before returning.
type ConditionVariable struct {
	sched     *scheduler.Scheduler
	waitQueue *list.List
}

// NewConditionVariable constructs an empty condition variable.
func NewConditionVariable(sched *scheduler.Scheduler) *ConditionVariable {
	return &ConditionVariable{sched: sched, waitQueue: list.New()}
}

// WaitQueue implements scheduler.WaitQueueHolder.
func (c *ConditionVariable) WaitQueue() *list.List { return c.waitQueue }

// Wait releases m, blocks self until Signal/Broadcast wakes it (or
// deadline elapses, if non-nil), then reacquires m before returning.
// The caller must already hold m.
func (c *ConditionVariable) Wait(self *thread.TCB, m *Mutex, deadline *ktime.Tick) error {
	return c.WaitAs(self, m, thread.BlockedOnConditionVariable, deadline)
}

// WaitAs is Wait with the reported blocked-state Kind overridden,
// letting a caller built on top of a condition variable (queue's
// bounded FIFO/message queues) report a more specific state than
// BlockedOnConditionVariable while reusing the same release/enroll/
// park machinery.
func (c *ConditionVariable) WaitAs(self *thread.TCB, m *Mutex, kind thread.Kind, deadline *ktime.Tick) error {
	// unlockLocked, not Unlock: releasing the mutex and enqueuing self
	// on the condition variable's wait queue must happen as one
	// uninterrupted step on self's own goroutine, or a signal raised by
	// whoever the unlock hands the mutex to could be lost before self
	// finishes enqueuing.
	if err := m.unlockLocked(self); err != nil {
		return err
	}
	scheduler.EnrollWaitQueue(c.waitQueue, self)
	reason := c.sched.ParkBlocked(thread.State{Kind: kind, Target: c}, deadline)
	lockErr := m.Lock(self)
	switch reason.Kind {
	case scheduler.TimedOut:
		if lockErr != nil {
			return lockErr
		}
		return kerrors.ErrTimedOut
	case scheduler.Interrupted:
		if lockErr != nil {
			return lockErr
		}
		return kerrors.ErrInterrupted
	default:
		return lockErr
	}
}

// Signal wakes at most one waiter, the highest-priority one.
func (c *ConditionVariable) Signal() {
	if front := c.waitQueue.Front(); front != nil {
		c.sched.Unblock(list.Of[thread.TCB](front), scheduler.Reason{Kind: scheduler.Unblocked})
		c.sched.Checkpoint()
	}
}

// Broadcast wakes every waiter.
func (c *ConditionVariable) Broadcast() {
	var woken []*thread.TCB
	c.waitQueue.Do(func(n *list.Node) {
		woken = append(woken, list.Of[thread.TCB](n))
	})
	for _, t := range woken {
		c.sched.Unblock(t, scheduler.Reason{Kind: scheduler.Unblocked})
	}
	if len(woken) > 0 {
		c.sched.Checkpoint()
	}
}
