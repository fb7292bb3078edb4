package ksync

import (
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/list"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

// Semaphore is a counting semaphore with a fixed maximum value and
// direct handoff to the highest-priority waiter on Post (distortos
// spec §5): a post during contention hands its unit straight to the
// winner rather than merely incrementing the count for everyone to
// race over.
type Semaphore struct {
	sched *scheduler.Scheduler

	value     int
	max       int
	waitQueue *list.List
}

// NewSemaphore constructs a semaphore with the given initial value and
// maximum value.
func NewSemaphore(sched *scheduler.Scheduler, value, max int) *Semaphore {
	return &Semaphore{sched: sched, value: value, max: max, waitQueue: list.New()}
}

// WaitQueue implements scheduler.WaitQueueHolder.
func (s *Semaphore) WaitQueue() *list.List { return s.waitQueue }

// Value returns the current count.
func (s *Semaphore) Value() int { return s.value }

// Wait blocks self until a unit is available.
func (s *Semaphore) Wait(self *thread.TCB) error {
	return s.wait(self, nil)
}

// TryWait attempts to take a unit without blocking.
func (s *Semaphore) TryWait(self *thread.TCB) error {
	if s.value > 0 {
		s.value--
		return nil
	}
	return kerrors.ErrBusy
}

// TryWaitFor blocks self for at most timeout ticks.
func (s *Semaphore) TryWaitFor(self *thread.TCB, clock *ktime.Clock, timeout ktime.Duration) error {
	deadline := clock.Now() + ktime.Tick(timeout)
	return s.wait(self, &deadline)
}

// TryWaitUntil blocks self until at most deadline.
func (s *Semaphore) TryWaitUntil(self *thread.TCB, deadline ktime.Tick) error {
	return s.wait(self, &deadline)
}

func (s *Semaphore) wait(self *thread.TCB, deadline *ktime.Tick) error {
	if s.value > 0 {
		s.value--
		return nil
	}
	reason := s.sched.Block(s.waitQueue, thread.State{Kind: thread.BlockedOnSemaphore, Target: s}, deadline)
	switch reason.Kind {
	case scheduler.TimedOut:
		return kerrors.ErrTimedOut
	case scheduler.Interrupted:
		return kerrors.ErrInterrupted
	default:
		// A unit was handed directly to self by Post; value already
		// reflects the transfer (Post never increments in this case).
		return nil
	}
}

// Post releases one unit. If a thread is waiting, the unit is handed
// directly to the highest-priority (longest-waiting among peers)
// waiter without ever touching value. Returns kerrors.ErrWouldOverflow
// if value is already at max with nobody waiting.
func (s *Semaphore) Post() error {
	if front := s.waitQueue.Front(); front != nil {
		winner := list.Of[thread.TCB](front)
		s.sched.Unblock(winner, scheduler.Reason{Kind: scheduler.Unblocked})
		s.sched.Checkpoint()
		return nil
	}
	if s.value >= s.max {
		return kerrors.ErrWouldOverflow
	}
	s.value++
	return nil
}
