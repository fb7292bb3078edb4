// Package ksync implements the blocking synchronization primitives
// layered on scheduler: Mutex (with priority inheritance and priority
// protect), Semaphore, ConditionVariable, and Once (distortos spec
// §4.3 mutex protocols, §5 semaphore/condvar/once).
package ksync

import (
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/list"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

// Type selects Mutex's recursion/error-checking behavior.
type Type int

const (
	// Normal: relocking from the owner deadlocks (distortos default).
	Normal Type = iota
	// ErrorChecking: relocking from the owner returns kerrors.ErrDeadlock
	// instead of blocking; unlocking from a non-owner returns
	// kerrors.ErrNotOwner instead of being undefined behavior.
	ErrorChecking
	// Recursive: the owner may lock repeatedly; each Lock must be
	// matched by an Unlock before any other thread can acquire it.
	Recursive
)

// Protocol selects how a Mutex participates in priority inversion
// avoidance.
type Protocol int

const (
	// None: no boosting. Priority inversion is possible.
	None Protocol = iota
	// PriorityInheritance: the owner's effective priority is boosted to
	// the highest priority among threads currently blocked on this
	// mutex, for as long as it owns it.
	PriorityInheritance
	// PriorityProtect: the owner's effective priority is boosted to a
	// fixed ceiling the instant it acquires the mutex, regardless of
	// whether anyone is waiting.
	PriorityProtect
)

// Mutex is a kernel mutex: possibly recursive, possibly
// error-checking, and optionally boosting its owner's priority via
// inheritance or a fixed ceiling.
type Mutex struct {
	sched *scheduler.Scheduler

	typ      Type
	protocol Protocol
	ceiling  thread.Priority

	waitQueue *list.List
	node      *list.Node // links into owner.OwnedMutexes

	owner        *thread.TCB
	lockCount    int
	maxRecursion int // 0 means unlimited; only meaningful for Recursive
}

// New constructs an unlocked mutex of the given type and protocol.
// ceiling is only meaningful for PriorityProtect.
func New(sched *scheduler.Scheduler, typ Type, protocol Protocol, ceiling thread.Priority) *Mutex {
	m := &Mutex{sched: sched, typ: typ, protocol: protocol, ceiling: ceiling, waitQueue: list.New()}
	m.node = list.NewNode(m)
	return m
}

// NewRecursive constructs an unlocked Recursive mutex whose lock count
// is bounded to maxRecursion (0 means unlimited): a relock that would
// push the count past the bound returns kerrors.ErrWouldOverflow
// instead of succeeding, matching §4.4's "count bounded to a
// configurable max".
func NewRecursive(sched *scheduler.Scheduler, protocol Protocol, ceiling thread.Priority, maxRecursion int) *Mutex {
	m := New(sched, Recursive, protocol, ceiling)
	m.maxRecursion = maxRecursion
	return m
}

// WaitQueue implements scheduler.WaitQueueHolder.
func (m *Mutex) WaitQueue() *list.List { return m.waitQueue }

// contribution returns the priority boost m contributes to its
// current owner's effective priority, per its protocol.
func (m *Mutex) contribution() thread.Priority {
	switch m.protocol {
	case PriorityProtect:
		return m.ceiling
	case PriorityInheritance:
		if front := m.waitQueue.Front(); front != nil {
			return list.Of[thread.TCB](front).EffectivePriority
		}
		return 0
	default:
		return 0
	}
}

func mutexContribution(n *list.Node) thread.Priority {
	return list.Of[Mutex](n).contribution()
}

// propagateInheritance recomputes t's effective priority and, if t is
// itself blocked on another PriorityInheritance mutex, re-sorts t
// within that mutex's wait queue and recurses into its owner — so a
// boost climbs the whole chain of nested owners in one pass instead of
// only reaching the immediate one.
func propagateInheritance(t *thread.TCB) {
	t.RecomputeEffectivePriority(mutexContribution)
	if t.State.Kind != thread.BlockedOnMutex {
		return
	}
	blocking, ok := t.State.Target.(*Mutex)
	if !ok || blocking.owner == nil {
		return
	}
	list.Remove(t.SchedNode)
	scheduler.EnrollWaitQueue(blocking.waitQueue, t)
	if blocking.protocol == PriorityInheritance {
		propagateInheritance(blocking.owner)
	}
}

// Lock blocks the calling thread (self) until it owns m.
func (m *Mutex) Lock(self *thread.TCB) error {
	return m.lock(self, nil)
}

// TryLock attempts to acquire m without blocking.
func (m *Mutex) TryLock(self *thread.TCB) error {
	if err := m.tryAcquireOrError(self); err != errWouldBlock {
		return err
	}
	return kerrors.ErrBusy
}

// TryLockFor attempts to acquire m, blocking at most for timeout
// ticks.
func (m *Mutex) TryLockFor(self *thread.TCB, clock *ktime.Clock, timeout ktime.Duration) error {
	deadline := clock.Now() + ktime.Tick(timeout)
	return m.lock(self, &deadline)
}

// TryLockUntil attempts to acquire m, blocking at most until deadline.
func (m *Mutex) TryLockUntil(self *thread.TCB, deadline ktime.Tick) error {
	return m.lock(self, &deadline)
}

var errWouldBlock = kerrors.New(kerrors.Busy, "ksync: would block")

// tryAcquireOrError acquires m immediately if free or already owned
// recursively by self, returning errWouldBlock if the caller must
// block instead.
func (m *Mutex) tryAcquireOrError(self *thread.TCB) error {
	if m.protocol == PriorityProtect && self.EffectivePriority > m.ceiling {
		return kerrors.New(kerrors.InvalidArgument, "ksync: caller priority exceeds PriorityProtect ceiling")
	}
	if m.owner == nil {
		m.acquire(self)
		return nil
	}
	if m.owner == self {
		switch m.typ {
		case Recursive:
			if m.maxRecursion > 0 && m.lockCount >= m.maxRecursion {
				return kerrors.ErrWouldOverflow
			}
			m.lockCount++
			return nil
		case ErrorChecking:
			return kerrors.Wrap(kerrors.Deadlock, "ksync: relock by owner", kerrors.ErrDeadlock)
		default:
			return errWouldBlock // Normal: caller must actually deadlock by blocking
		}
	}
	return errWouldBlock
}

func (m *Mutex) acquire(self *thread.TCB) {
	m.owner = self
	m.lockCount = 1
	self.OwnedMutexes.PushBack(m.node)
	if m.protocol != None {
		self.RecomputeEffectivePriority(mutexContribution)
	}
}

func (m *Mutex) lock(self *thread.TCB, deadline *ktime.Tick) error {
	if err := m.tryAcquireOrError(self); err != errWouldBlock {
		return err
	}
	// A Normal mutex relocked by its own owner falls through to here and
	// blocks forever: nothing will ever unblock it, which is the
	// intentional (if unfriendly) distortos behavior for that case.
	scheduler.EnrollWaitQueue(m.waitQueue, self)
	if m.protocol == PriorityInheritance && m.owner != nil {
		// self just became (or stayed) the highest-priority waiter:
		// propagate the boost to the owner immediately, and onward
		// through any chain of mutexes that owner is itself blocked on,
		// rather than waiting for a Lock/Unlock to recompute it.
		propagateInheritance(m.owner)
	}
	reason := m.sched.ParkBlocked(thread.State{Kind: thread.BlockedOnMutex, Target: m}, deadline)
	switch reason.Kind {
	case scheduler.TimedOut:
		return kerrors.ErrTimedOut
	case scheduler.Interrupted:
		return kerrors.ErrInterrupted
	default:
		// Ownership was handed to self directly by Unlock's handoff.
		return nil
	}
}

// Unlock releases one level of ownership. Returns kerrors.ErrNotOwner
// if self does not own m, whatever m's type.
func (m *Mutex) Unlock(self *thread.TCB) error {
	if err := m.unlockLocked(self); err != nil {
		return err
	}
	m.sched.Checkpoint()
	return nil
}

// unlockLocked does the actual release and handoff without
// checkpointing, so callers that need to perform further scheduler
// manipulation atomically with the release (ConditionVariable.Wait)
// can defer the checkpoint until they too are done.
func (m *Mutex) unlockLocked(self *thread.TCB) error {
	if m.owner != self {
		return kerrors.Wrap(kerrors.NotOwner, "ksync: unlock by non-owner", kerrors.ErrNotOwner)
	}
	if m.typ == Recursive && m.lockCount > 1 {
		m.lockCount--
		return nil
	}

	list.Remove(m.node)
	m.owner = nil
	m.lockCount = 0
	if m.protocol != None {
		self.RecomputeEffectivePriority(mutexContribution)
	}

	if next := m.waitQueue.Front(); next != nil {
		winner := list.Of[thread.TCB](next)
		m.sched.Unblock(winner, scheduler.Reason{Kind: scheduler.Unblocked})
		m.acquire(winner)
	}
	return nil
}

// Owner returns the current owner, or nil if unlocked.
func (m *Mutex) Owner() *thread.TCB { return m.owner }
