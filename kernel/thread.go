package kernel

import (
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/ksync"
	"github.com/distortos-go/kernel/thread"
)

// Thread is the owning wrapper around a thread.TCB (spec §9's
// "Deep inheritance" collapse: a plain TCB value type plus a small
// trait for entry behavior plus two factory kinds differing only in
// storage and detachability). It is what thread.TCB.Owner points at,
// and is what Join/Detach are actually methods of, since the bare TCB
// deliberately carries no synchronization of its own.
type Thread struct {
	k     *Kernel
	TCB   *thread.TCB
	entry func(self *thread.TCB) int

	mu         *ksync.Mutex
	joined     *ksync.ConditionVariable
	terminated bool
}

// NewStaticThread wraps a caller-constructed TCB (the "static storage"
// case: the caller owns tcb's lifetime, typically a package-level or
// enclosing-struct field) and prepares its architecture context. Not
// Detachable by default, matching distortos' UndetachableThread default
// for statically allocated threads. Call Start to admit it. entry's
// return value becomes the exit code spec §3's Terminated(exitCode)
// state carries.
func NewStaticThread(k *Kernel, tcb *thread.TCB, entry func(self *thread.TCB) int) *Thread {
	return newThread(k, tcb, entry, false)
}

// NewDynamicThread heap-allocates a TCB (thread.New does this
// regardless; the distinction here is purely that the caller never
// sees the TCB before this call, matching DynamicThread's "allocator
// collaborator owns storage" semantics) and marks it Detachable by
// default. Call Start to admit it.
func NewDynamicThread(k *Kernel, name string, priority thread.Priority, policy thread.SchedulingPolicy, quantum int, entry func(self *thread.TCB) int) *Thread {
	if policy == thread.RoundRobin && quantum <= 0 {
		quantum = k.Config.RoundRobinQuantumTicks
	}
	tcb := thread.New(k.nextThreadID(), name, priority, policy, quantum)
	return newThread(k, tcb, entry, true)
}

func newThread(k *Kernel, tcb *thread.TCB, entry func(self *thread.TCB) int, detachableDefault bool) *Thread {
	th := &Thread{
		k:      k,
		TCB:    tcb,
		entry:  entry,
		mu:     ksync.New(k.Sched, ksync.Normal, ksync.None, 0),
		joined: ksync.NewConditionVariable(k.Sched),
	}
	tcb.Owner = th
	tcb.Detachable = detachableDefault
	tcb.ArchContext = k.port.Spawn(func(any) {
		code := entry(tcb)
		th.finish(code)
	}, nil)
	return th
}

// Start admits the thread to the scheduler. Follow with Checkpoint on
// k.Sched if the caller wants immediate preemption, consistent with
// Scheduler.Admit's own contract.
func (th *Thread) Start() error {
	if err := th.k.checkNotPanicked(); err != nil {
		return err
	}
	th.k.Sched.Admit(th.TCB)
	return nil
}

// finish runs on th.TCB's own goroutine once entry returns, before the
// one-way Exit call hands the baton elsewhere for good (nothing after
// Sched.Exit() in this function ever runs). It wakes any joiners and,
// if already Detachable, defers reclamation immediately — TCB.State is
// set to Terminated here rather than left to Exit, since Defer
// requires that precondition and Exit never returns control to let us
// call Defer afterwards.
func (th *Thread) finish(exitCode int) {
	termination := thread.JoinableTerminated
	if th.TCB.Detachable {
		termination = thread.Detached
	}
	th.TCB.State = thread.State{Kind: thread.Terminated, ExitCode: exitCode, Termination: termination}

	th.mu.Lock(th.TCB)
	th.terminated = true
	th.joined.Broadcast()
	th.mu.Unlock(th.TCB)

	if th.TCB.Detachable {
		_ = th.k.deleter.Defer(th.TCB)
	}
	th.k.Sched.Exit()
}

// Join blocks self until th terminates. Returns kerrors.InvalidArgument
// if self is th itself (a thread cannot join itself).
func (th *Thread) Join(self *thread.TCB) error {
	if self == th.TCB {
		return kerrors.New(kerrors.InvalidArgument, "kernel: thread cannot join itself")
	}
	if err := th.mu.Lock(self); err != nil {
		return err
	}
	for !th.terminated {
		if err := th.joined.Wait(self, th.mu, nil); err != nil {
			_ = th.mu.Unlock(self)
			return err
		}
	}
	if th.TCB.State.Termination == thread.JoinableTerminated {
		th.TCB.State.Termination = thread.Joined
	}
	return th.mu.Unlock(self)
}

// Detach marks th as detachable, so its storage is reclaimed by the
// deferred deleter instead of requiring a Join. If th has already
// terminated (finish ran before Detach, skipping the defer since
// Detachable was still false then), Detach defers it immediately.
func (th *Thread) Detach(self *thread.TCB) error {
	if !th.k.Config.ThreadDetachEnable {
		return kerrors.ErrNotSupported
	}
	if err := th.mu.Lock(self); err != nil {
		return err
	}
	th.TCB.Detachable = true
	alreadyTerminated := th.terminated
	if err := th.mu.Unlock(self); err != nil {
		return err
	}
	if alreadyTerminated {
		th.TCB.State.Termination = thread.Detached
		return th.k.deleter.Defer(th.TCB)
	}
	return nil
}

// Terminated reports whether th has run to completion. Like every
// other Scheduler-adjacent query, only safe to call from the goroutine
// currently holding the baton.
func (th *Thread) Terminated() bool { return th.terminated }

// ExitCode returns entry's return value once terminated; zero before
// then.
func (th *Thread) ExitCode() int { return th.TCB.State.ExitCode }
