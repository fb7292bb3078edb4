// Package thread defines the Thread Control Block (TCB), the per-thread
// state every other kernel component reads or mutates under the
// scheduler's lock (distortos spec §3/§4.3).
package thread

import "github.com/distortos-go/kernel/list"

// TCB is the Thread Control Block. It is borrowed (never owned) by the
// scheduler's ready/wait/sleep lists; the sole owning reference lives in
// the thread object that created it (see the kernel package's static vs
// dynamic thread factories).
type TCB struct {
	// ID is a process-wide unique identifier, assigned at construction.
	ID uint64
	// Name is used only for logging/diagnostics.
	Name string

	// ArchContext is the architecture port's opaque saved-execution
	// handle (distortos spec §6); the core never inspects it, only
	// hands it back to the arch.Port that produced it.
	ArchContext any

	// BasePriority is the static priority assigned at creation or by
	// SetPriority.
	BasePriority Priority
	// EffectivePriority is the dynamic priority actually used for
	// scheduling: max(BasePriority, boosts from owned mutexes).
	EffectivePriority Priority
	// Boosted distinguishes an EffectivePriority raised through mutex
	// protocol from one equal to BasePriority by coincidence, so that on
	// release it is correctly recomputed rather than merely compared.
	Boosted bool

	Policy            SchedulingPolicy
	RoundRobinBudget  int
	RoundRobinQuantum int

	State State

	// WakeReason is stashed by the scheduler immediately before handing
	// the baton back to a blocked thread, so Block's caller can report
	// why it became runnable again (woken, timed out, interrupted). It
	// is scratch space, valid only across one Block/Unblock round trip.
	WakeReason any

	// SchedNode links the TCB into exactly one of: a ready queue, the
	// sleep queue, or a single primitive's wait queue (invariant 2).
	SchedNode *list.Node
	// GroupNode links the TCB into its owning thread-group, if any.
	GroupNode *list.Node
	// DeleterNode links the TCB into the deferred deleter's list once a
	// detached thread terminates.
	DeleterNode *list.Node
	// DeadlineNode links the TCB into the scheduler's deadline list when
	// a bounded wait (tryLockFor, tryWaitUntil, ...) is in flight. This
	// is independent of SchedNode: a thread blocked with a timeout is
	// simultaneously on a primitive's wait queue (via SchedNode) and the
	// deadline list (via DeadlineNode).
	DeadlineNode *list.Node

	// OwnedMutexes is the head of the intrusive list of mutex nodes
	// this thread currently owns, used for priority inheritance.
	// Scheduler.Exit does not release mutexes still on this list when
	// the thread terminates.
	OwnedMutexes *list.List

	// Signals holds the thread's *signal.Receiver, stored as any to
	// avoid an import cycle (signal.Receiver embeds a back-reference to
	// its owning TCB). Nil if signals are disabled or unused.
	Signals any

	// Owner is the owning thread object (a *kernel.Thread), used only
	// to drive detachable destruction.
	Owner any

	// Detachable marks whether this TCB may be detached (the
	// "undetachable" distinction from distortos' UndetachableThread
	// collapses to this bool per spec §9).
	Detachable bool
}

// New constructs a TCB in state Created with the given identity,
// priority, and policy. Callers are expected to link it into the
// scheduler via Scheduler.Admit.
func New(id uint64, name string, priority Priority, policy SchedulingPolicy, quantum int) *TCB {
	t := &TCB{
		ID:                id,
		Name:              name,
		BasePriority:      priority,
		EffectivePriority: priority,
		Policy:            policy,
		RoundRobinQuantum: quantum,
		RoundRobinBudget:  quantum,
		State:             State{Kind: Created},
		OwnedMutexes:      list.New(),
	}
	t.SchedNode = list.NewNode(t)
	t.GroupNode = list.NewNode(t)
	t.DeleterNode = list.NewNode(t)
	t.DeadlineNode = list.NewNode(t)
	return t
}

// RecomputeEffectivePriority applies invariant 3: effective priority is
// the maximum of the base priority and every boost contributed by a
// currently owned mutex. contribution is supplied by the caller (the
// scheduler/ksync package) for each owned-mutex node, since a mutex's
// contribution rule (inheritance vs ceiling) lives in ksync.
func (t *TCB) RecomputeEffectivePriority(contribution func(mutexNode *list.Node) Priority) {
	best := t.BasePriority
	boosted := false
	t.OwnedMutexes.Do(func(n *list.Node) {
		if c := contribution(n); c > best {
			best = c
			boosted = true
		}
	})
	t.EffectivePriority = best
	t.Boosted = boosted
}
