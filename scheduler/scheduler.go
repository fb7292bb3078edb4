// Package scheduler implements the priority-preemptive, per-priority
// round-robin ready-queue core (distortos spec §3/§4), layered directly
// on list, thread, ktime and arch.
//
// Real preemption (an interrupt yanking control away from whatever
// instruction is executing) has no Go equivalent: nothing can force an
// arbitrary running goroutine to park. So every context switch this
// scheduler performs happens at an explicit checkpoint reached by the
// currently running thread's own goroutine: Block, Yield, Sleep, and
// TickHook switch directly; Admit, Unblock and SetPriority only ever
// mutate queues and leave preemption to a following Checkpoint call.
//
// Every exported method on Scheduler must be called from the goroutine
// that currently holds the baton — the body of whichever thread is
// presently running (or the boot goroutine, before Start). A thread
// that admits a higher-priority peer, unblocks a higher-priority
// waiter, or raises someone's priority above its own is responsible
// for calling Checkpoint itself immediately afterwards if it wants
// that to take effect now rather than at its next natural checkpoint
// (Yield, Block, Sleep, or the next TickHook it happens to drive).
// This is the Go-native substitute for real interrupt-driven
// preemption, which cannot force an arbitrary running goroutine to
// park: the thread bodies in this simulation cooperate by calling back
// into the kernel, the same way a real thread cooperates by eventually
// returning from whatever syscall made it preemptible.
package scheduler

import (
	"github.com/distortos-go/kernel/arch"
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/klog"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/list"
	"github.com/distortos-go/kernel/thread"
)

// Scheduler owns the ready queues, the currently running TCB, and the
// sleep/deadline queue, and is the only component allowed to call
// arch.Port.SwitchTo.
//
// Invariant: the currently running TCB (current) is never itself
// linked into a ready queue. A TCB is a member of at most one of:
// a ready queue, the sleep queue (via SchedNode or DeadlineNode), a
// primitive's wait queue, or "current" — never two at once, except
// that a bounded wait is on a wait queue (via SchedNode) and the sleep
// queue (via DeadlineNode) at the same time.
type Scheduler struct {
	port  arch.Port
	clock *ktime.Clock
	sleep *ktime.SleepQueue

	ready [int(thread.MaxPriority) + 1]*list.List

	current *thread.TCB
	idle    *thread.TCB
}

// New returns a scheduler with empty ready queues, wired to port for
// context switches and clock/sleepQueue for tick-driven wakeups.
func New(port arch.Port, clock *ktime.Clock, sleep *ktime.SleepQueue) *Scheduler {
	s := &Scheduler{port: port, clock: clock, sleep: sleep}
	for i := range s.ready {
		s.ready[i] = list.New()
	}
	return s
}

// Current returns the currently running TCB, or nil before Start.
func (s *Scheduler) Current() *thread.TCB { return s.current }

// SetIdle registers the idle thread, the only TCB the scheduler may
// select when every other ready queue is empty. It is not Admitted;
// pickNext falls back to it directly.
func (s *Scheduler) SetIdle(idle *thread.TCB) { s.idle = idle }

func (s *Scheduler) readyPushBack(t *thread.TCB)  { s.ready[t.EffectivePriority].PushBack(t.SchedNode) }
func (s *Scheduler) readyPushFront(t *thread.TCB) { s.ready[t.EffectivePriority].PushFront(t.SchedNode) }

// scanReady returns the front of the highest-priority non-empty ready
// queue, or nil if every ready queue is empty. It never consults
// current and never unlinks anything.
func (s *Scheduler) scanReady() *thread.TCB {
	for p := len(s.ready) - 1; p >= 0; p-- {
		if n := s.ready[p].Front(); n != nil {
			return list.Of[thread.TCB](n)
		}
	}
	return nil
}

// pickNext peeks the thread that should run next when current is no
// longer a candidate (it has just been blocked, put to sleep,
// terminated, or voluntarily requeued into the ready array itself).
// Falls back to idle if nothing is ready.
func (s *Scheduler) pickNext() *thread.TCB {
	if top := s.scanReady(); top != nil {
		return top
	}
	return s.idle
}

// pickPreempting peeks the thread that should run next when current
// is still eligible to keep running (it has not been requeued or
// changed out of Runnable). current wins ties, since strictly-greater
// priority is required to preempt (spec §4.3).
func (s *Scheduler) pickPreempting() *thread.TCB {
	top := s.scanReady()
	if s.current != nil && s.current.State.Kind == thread.Runnable {
		if top == nil || s.current.EffectivePriority >= top.EffectivePriority {
			return s.current
		}
		return top
	}
	if top != nil {
		return top
	}
	return s.idle
}

// take unlinks t from whatever ready queue it is on, committing a
// pick. Safe no-op when t is idle, the not-yet-linked current-thread
// fallback, or nil (pickNext before boot, with no idle thread set).
func take(t *thread.TCB) {
	if t == nil {
		return
	}
	list.Remove(t.SchedNode)
}

// Admit moves t from Created into the ready queue, tail of its
// priority. Follow with Checkpoint to preempt immediately if t now
// outranks the running thread.
func (s *Scheduler) Admit(t *thread.TCB) {
	mask := s.port.Mask()
	t.State = thread.State{Kind: thread.Runnable}
	s.readyPushBack(t)
	mask.Release()
}

// Start performs the kernel's first, parkless context switch: the
// calling goroutine (boot) hands the baton to the highest-priority
// admitted thread and returns immediately without waiting for it,
// since boot is not itself a scheduled TCB. This is a deliberate
// departure from the literal "Start never returns" semantics of a
// bare-metal kernel main loop, necessary because our execution
// substrate is a hosted Go process that must retain its own goroutine
// for other duties (signal delivery from outside the kernel, tests,
// ...); the kernel continues running asynchronously under the baton
// discipline from this point on.
func (s *Scheduler) Start() {
	mask := s.port.Mask()
	next := s.pickNext()
	take(next)
	s.current = next
	mask.Release()
	s.port.SwitchTo(nil, next.ArchContext)
}

// Yield voluntarily gives up the remainder of the current thread's
// quantum, moving it to the tail of its own priority's ready queue
// before picking the next runnable thread (which may be itself again,
// if no peer of equal priority exists).
func (s *Scheduler) Yield() {
	mask := s.port.Mask()
	from := s.current
	from.RoundRobinBudget = from.RoundRobinQuantum
	s.readyPushBack(from)
	next := s.pickNext()
	if next == from {
		take(from)
		mask.Release()
		return
	}
	take(next)
	s.current = next
	mask.Release()
	s.port.SwitchTo(from.ArchContext, next.ArchContext)
}

// Block removes the current thread from the running slot, links it
// into waitQueue ordered by the standard wait-queue rule (strictly
// greater effective priority goes before; equal priority goes after
// all existing equals, i.e. FIFO among peers), applies newState, and —
// if deadline is non-nil — additionally enrolls it in the sleep queue
// via its DeadlineNode so a bounded wait can time out. It returns once
// some later Unblock call hands the baton back, reporting why.
func (s *Scheduler) Block(waitQueue *list.List, newState thread.State, deadline *ktime.Tick) Reason {
	EnrollWaitQueue(waitQueue, s.current)
	return s.ParkBlocked(newState, deadline)
}

// EnrollWaitQueue links t into waitQueue using the standard wait-queue
// ordering rule (strictly greater effective priority goes before;
// equal priority goes after all existing equals). Exposed separately
// from Block so a caller that must act on the wait queue's new
// contents before parking — Mutex.lock recomputing its owner's
// priority-inheritance boost once a higher-priority waiter joins — can
// do so between enrollment and ParkBlocked.
func EnrollWaitQueue(waitQueue *list.List, t *thread.TCB) {
	waitQueue.InsertOrdered(t.SchedNode, func(existing *list.Node) bool {
		return list.Of[thread.TCB](existing).EffectivePriority < t.EffectivePriority
	})
}

// ParkBlocked applies newState to the current thread (already enrolled
// in whatever wait queue via EnrollWaitQueue) and — if deadline is
// non-nil — additionally enrolls it in the sleep queue via its
// DeadlineNode, then parks it until some later Unblock call hands the
// baton back, reporting why.
func (s *Scheduler) ParkBlocked(newState thread.State, deadline *ktime.Tick) Reason {
	mask := s.port.Mask()
	from := s.current
	from.State = newState
	if deadline != nil {
		s.sleep.Insert(from.DeadlineNode, *deadline)
	}
	next := s.pickNext()
	take(next)
	s.current = next
	mask.Release()
	s.port.SwitchTo(from.ArchContext, next.ArchContext)
	reason, _ := from.WakeReason.(Reason)
	from.WakeReason = nil
	return reason
}

// Unblock removes t from whatever wait queue and/or deadline
// enrollment it is on, stashes reason for Block to return, and moves
// it to the tail of its priority's ready queue. If the caller is
// itself the running thread (the common case: a thread posting a
// semaphore or releasing a mutex), follow this with Checkpoint to
// honor preemption by a newly-runnable higher-priority thread.
func (s *Scheduler) Unblock(t *thread.TCB, reason Reason) {
	mask := s.port.Mask()
	if !t.State.IsBlocked() {
		mask.Release()
		return
	}
	list.Remove(t.SchedNode)
	if t.DeadlineNode.Linked() {
		s.sleep.Remove(t.DeadlineNode)
	}
	t.WakeReason = reason
	t.State = thread.State{Kind: thread.Runnable}
	s.readyPushBack(t)
	mask.Release()
}

// WaitQueueHolder is implemented by every blocking primitive (mutex,
// semaphore, condition variable, queue, signal receiver) and stashed
// in thread.State.Target while a thread is blocked on it, so
// SetPriority can re-sort the thread within whichever wait queue it is
// actually on without ksync/queue/signal importing scheduler.
type WaitQueueHolder interface {
	WaitQueue() *list.List
}

// SetPriority changes t's base priority, recomputes its effective
// priority, and re-sorts it within its ready queue (or wait queue, if
// currently blocked) so the change takes effect immediately (spec
// §4.3's "no special-case re-sort logic: unlink and reinsert"). Follow
// with Checkpoint if the caller is the running thread and the change
// may have affected who should be running.
func (s *Scheduler) SetPriority(t *thread.TCB, newBase thread.Priority, contribution func(mutexNode *list.Node) thread.Priority) {
	mask := s.port.Mask()
	t.BasePriority = newBase
	t.RecomputeEffectivePriority(contribution)
	if t.SchedNode.Linked() {
		switch {
		case t.State.Kind == thread.Runnable:
			list.Remove(t.SchedNode)
			s.readyPushBack(t)
		default:
			if holder, ok := t.State.Target.(WaitQueueHolder); ok {
				list.Remove(t.SchedNode)
				holder.WaitQueue().InsertOrdered(t.SchedNode, func(existing *list.Node) bool {
					return list.Of[thread.TCB](existing).EffectivePriority < t.EffectivePriority
				})
			}
			// A plain SleepingUntil thread is linked on the sleep queue
			// by wake tick, not priority; nothing to re-sort there.
		}
	}
	mask.Release()
}

// Sleep blocks the current thread until tick, independent of any
// primitive's wait queue (the plain sleepFor/sleepUntil path).
func (s *Scheduler) Sleep(until ktime.Tick) {
	mask := s.port.Mask()
	from := s.current
	from.State = thread.State{Kind: thread.SleepingUntil, Tick: until}
	s.sleep.Insert(from.SchedNode, until)
	next := s.pickNext()
	take(next)
	s.current = next
	mask.Release()
	s.port.SwitchTo(from.ArchContext, next.ArchContext)
}

// TickHook runs the scheduler's half of a tick: wakes every
// sleeper/deadline whose wake tick has elapsed, decrements the running
// thread's round-robin budget, and rotates it to the tail of its
// priority on exhaustion. now is the tick the caller's tick-ISR
// collaborator just advanced the clock to — TickHook does not advance
// the clock itself, since a caller driving both the timer engine and
// the scheduler off one Clock (as kernel.Kernel.Tick does) must only
// advance it once per tick. Must be called from the goroutine
// currently holding the baton (see the package doc comment).
func (s *Scheduler) TickHook(now ktime.Tick) {
	mask := s.port.Mask()
	due := s.sleep.PopDue(now)
	for _, node := range due {
		t := list.Of[thread.TCB](node)
		switch t.State.Kind {
		case thread.SleepingUntil:
			t.State = thread.State{Kind: thread.Runnable}
			s.readyPushBack(t)
		default:
			// The node was a bounded-wait deadline; the thread is still
			// linked on a primitive's wait queue via SchedNode.
			if t.SchedNode.Linked() {
				list.Remove(t.SchedNode)
			}
			t.WakeReason = Reason{Kind: TimedOut}
			t.State = thread.State{Kind: thread.Runnable}
			s.readyPushBack(t)
		}
	}

	current := s.current
	rotated := false
	if current != nil && current != s.idle && current.Policy == thread.RoundRobin {
		current.RoundRobinBudget--
		if current.RoundRobinBudget <= 0 {
			current.RoundRobinBudget = current.RoundRobinQuantum
			list.Remove(current.SchedNode)
			s.readyPushBack(current)
			rotated = true
		}
	}

	var next *thread.TCB
	if rotated {
		// current voluntarily relinquished its slot by joining the ready
		// array above; a plain array scan naturally rotates to an
		// earlier-queued peer, or back to current if it has none.
		next = s.pickNext()
	} else {
		next = s.pickPreempting()
	}
	if next == current {
		take(current)
		mask.Release()
		return
	}
	take(next)
	if current != nil && !current.SchedNode.Linked() {
		// Preempted mid-quantum by a newly-due sleeper, never having
		// been requeued above: return to the head of its priority, so
		// it resumes before any thread that was already waiting.
		s.readyPushFront(current)
	}
	s.current = next
	mask.Release()
	klog.L().Debug().Log("tick-preempt")
	s.port.SwitchTo(contextOf(current), next.ArchContext)
}

func contextOf(t *thread.TCB) any {
	if t == nil {
		return nil
	}
	return t.ArchContext
}

// Checkpoint switches away from the current thread if a strictly
// higher priority thread is now runnable. Call after Unblock/
// SetPriority/Admit when the caller is itself the running thread. A
// no-op before boot, when there is no current thread yet.
func (s *Scheduler) Checkpoint() {
	if s.current == nil {
		return
	}
	mask := s.port.Mask()
	from := s.current
	next := s.pickPreempting()
	if next == from {
		mask.Release()
		return
	}
	take(next)
	s.readyPushFront(from)
	s.current = next
	mask.Release()
	s.port.SwitchTo(from.ArchContext, next.ArchContext)
}

// Exit terminates the current thread: it is never returned to the
// ready queue, and the baton passes on without it. Callers (the
// kernel package's thread entry trampoline) invoke this once the
// thread body returns, after running any join/detach bookkeeping. A
// State the caller already set to Terminated (with its exit code and
// termination kind) is kept as it is.
func (s *Scheduler) Exit() {
	mask := s.port.Mask()
	from := s.current
	if from.State.Kind != thread.Terminated {
		from.State = thread.State{Kind: thread.Terminated}
	}
	next := s.pickNext()
	take(next)
	s.current = next
	mask.Release()
	s.port.Exited(from.ArchContext)
	s.port.SwitchTo(from.ArchContext, next.ArchContext)
}

// ErrNoSuchThread is returned by lookups that fail to find a live TCB.
var ErrNoSuchThread = kerrors.New(kerrors.InvalidArgument, "scheduler: no such thread")
