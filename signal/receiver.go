// Package signal implements per-thread signals (distortos spec §4.8):
// a pending bitset for payload-less "generated" signals, a bounded
// queued list for signals carrying a value, a catcher association
// table, and blocking wait/accept operations layered on scheduler.
package signal

import (
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/list"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

// MaxSignalNumber is the highest valid signal number (distortos'
// MAX_SIGNAL_NUMBER, fixed at 31).
const MaxSignalNumber = 31

// Set is a bitmask over signal numbers 0..MaxSignalNumber.
type Set uint32

// SetOf builds a Set from individual signal numbers.
func SetOf(numbers ...int) Set {
	var s Set
	for _, n := range numbers {
		s |= 1 << uint(n)
	}
	return s
}

// Has reports whether n is a member of s.
func (s Set) Has(n int) bool { return s&(1<<uint(n)) != 0 }

// With returns s with n added.
func (s Set) With(n int) Set { return s | 1<<uint(n) }

// Without returns s with n removed.
func (s Set) Without(n int) Set { return s &^ (1 << uint(n)) }

// Code distinguishes how a delivered signal arrived.
type Code int

const (
	// Generated means the signal carried no payload (set via Generate).
	Generated Code = iota
	// Queued means the signal was delivered with a value (set via Queue).
	Queued
)

// Delivery is one accepted or delivered signal occurrence.
type Delivery struct {
	Number int
	Code   Code
	Value  int
}

// Action is the catcher associated with one signal number: a handler
// invoked at delivery time, and the mask to apply (in addition to the
// signal itself) for the handler's duration. A zero Action with
// Ignore set means the signal is discarded on generation; a zero
// Action with Ignore unset and Handler nil means the signal can still
// be waited on / accepted, it simply has no catcher run for it.
type Action struct {
	Ignore  bool
	Handler func(number, value int)
	Mask    Set
}

// Entry is one queued-signal storage slot, used directly by
// NewStaticReceiver's caller-supplied backing array.
type Entry struct {
	Number int
	Value  int
}

// Receiver is one thread's signal state. It is embedded (by pointer,
// stored in thread.TCB.Signals as any) in exactly one thread.
type Receiver struct {
	sched *scheduler.Scheduler
	owner *thread.TCB

	pending Set
	mask    Set
	actions [MaxSignalNumber + 1]Action

	queue    []Entry
	queueLen int

	waitQueue *list.List
	waitSet   Set // valid while owner.State.Kind == thread.WaitingForSignal

	delivering bool // reentrancy guard: set while DeliverPending's loop is running
}

// NewReceiver constructs a receiver for owner with a heap-allocated
// queued-signal list of the given capacity.
func NewReceiver(sched *scheduler.Scheduler, owner *thread.TCB, queueCapacity int) *Receiver {
	return newReceiver(sched, owner, make([]Entry, 0, queueCapacity))
}

// NewStaticReceiver constructs a receiver backed by caller-supplied
// storage; cap(storage) is the queued-signal capacity.
func NewStaticReceiver(sched *scheduler.Scheduler, owner *thread.TCB, storage []Entry) *Receiver {
	return newReceiver(sched, owner, storage[:0])
}

func newReceiver(sched *scheduler.Scheduler, owner *thread.TCB, queue []Entry) *Receiver {
	r := &Receiver{sched: sched, owner: owner, queue: queue, mask: 0}
	r.waitQueue = list.New()
	owner.Signals = r
	return r
}

// WaitQueue implements scheduler.WaitQueueHolder.
func (r *Receiver) WaitQueue() *list.List { return r.waitQueue }

// SetAction installs the catcher for signalNumber.
func (r *Receiver) SetAction(signalNumber int, action Action) error {
	if signalNumber < 0 || signalNumber > MaxSignalNumber {
		return kerrors.New(kerrors.InvalidArgument, "signal: number out of range")
	}
	r.actions[signalNumber] = action
	return nil
}

// Mask returns the currently blocked signal set.
func (r *Receiver) Mask() Set { return r.mask }

// SetMask installs newMask and returns the previous mask. If signals
// newly unmasked by this change are already deliverable, their
// handlers run before SetMask returns (the kernel has no separate
// return-to-thread boundary to defer to, so the mask-change point
// itself is where delivery is scheduled).
func (r *Receiver) SetMask(newMask Set) Set {
	old := r.mask
	r.mask = newMask
	r.DeliverPending()
	return old
}

func (r *Receiver) deliverable(n int) bool {
	if r.mask.Has(n) {
		return false
	}
	if r.pending.Has(n) {
		return true
	}
	for i := 0; i < r.queueLen; i++ {
		if r.queue[i].Number == n {
			return true
		}
	}
	return false
}

// Generate sets the pending bit for signalNumber, with no payload. If
// the action is Ignore, the signal is discarded. If the target thread
// is currently WaitingForSignal on a set containing signalNumber (and
// it is unmasked), the wait is interrupted immediately instead of
// merely marking the bit. If signalNumber has a Handler action and is
// already unmasked, the handler runs synchronously before Generate
// returns (the kernel has no separate return-to-thread boundary, so
// signal generation itself is where catch-on-generate delivery runs).
func (r *Receiver) Generate(signalNumber int) error {
	if signalNumber < 0 || signalNumber > MaxSignalNumber {
		return kerrors.New(kerrors.InvalidArgument, "signal: number out of range")
	}
	if r.actions[signalNumber].Ignore {
		return nil
	}
	r.pending = r.pending.With(signalNumber)
	r.wakeIfWaiting(signalNumber)
	r.DeliverPending()
	return nil
}

// Queue appends (signalNumber, value) to the queued list, with the
// same ignore/wake/catch-on-generate behavior as Generate. Returns
// kerrors.ErrWouldOverflow if the queued list is full.
func (r *Receiver) Queue(signalNumber, value int) error {
	if signalNumber < 0 || signalNumber > MaxSignalNumber {
		return kerrors.New(kerrors.InvalidArgument, "signal: number out of range")
	}
	if r.actions[signalNumber].Ignore {
		return nil
	}
	if r.queueLen == cap(r.queue) {
		return kerrors.ErrWouldOverflow
	}
	if r.queueLen == len(r.queue) {
		r.queue = append(r.queue, Entry{})
	}
	r.queue[r.queueLen] = Entry{Number: signalNumber, Value: value}
	r.queueLen++
	r.wakeIfWaiting(signalNumber)
	r.DeliverPending()
	return nil
}

func (r *Receiver) wakeIfWaiting(signalNumber int) {
	if r.owner.State.Kind != thread.WaitingForSignal || r.mask.Has(signalNumber) || !r.waitSet.Has(signalNumber) {
		return
	}
	r.sched.Unblock(r.owner, scheduler.Reason{Kind: scheduler.Interrupted, Signal: signalNumber})
	r.sched.Checkpoint()
}

// dequeue removes and returns the record for signalNumber: queued
// entries first (FIFO among same-numbered entries), then the pending
// bit. ok is false if signalNumber is neither pending nor queued.
func (r *Receiver) dequeue(signalNumber int) (Delivery, bool) {
	for i := 0; i < r.queueLen; i++ {
		if r.queue[i].Number == signalNumber {
			v := r.queue[i].Value
			copy(r.queue[i:r.queueLen-1], r.queue[i+1:r.queueLen])
			r.queueLen--
			return Delivery{Number: signalNumber, Code: Queued, Value: v}, true
		}
	}
	if r.pending.Has(signalNumber) {
		r.pending = r.pending.Without(signalNumber)
		return Delivery{Number: signalNumber, Code: Generated}, true
	}
	return Delivery{}, false
}

// Accept dequeues and returns the record for signalNumber without
// blocking.
func (r *Receiver) Accept(signalNumber int) (Delivery, bool) {
	return r.dequeue(signalNumber)
}

// WaitAny blocks self until any signal in set is deliverable (pending,
// queued, and unmasked), then accepts and returns it.
func (r *Receiver) WaitAny(self *thread.TCB, set Set) (Delivery, error) {
	return r.waitAny(self, set, nil)
}

// WaitAnyFor blocks at most timeout ticks.
func (r *Receiver) WaitAnyFor(self *thread.TCB, clock *ktime.Clock, timeout ktime.Duration, set Set) (Delivery, error) {
	deadline := clock.Now() + ktime.Tick(timeout)
	return r.waitAny(self, set, &deadline)
}

// WaitAnyUntil blocks at most until deadline.
func (r *Receiver) WaitAnyUntil(self *thread.TCB, deadline ktime.Tick, set Set) (Delivery, error) {
	return r.waitAny(self, set, &deadline)
}

func (r *Receiver) waitAny(self *thread.TCB, set Set, deadline *ktime.Tick) (Delivery, error) {
	if n, ok := r.firstDeliverable(set); ok {
		d, _ := r.dequeue(n)
		return d, nil
	}
	r.waitSet = set
	scheduler.EnrollWaitQueue(r.waitQueue, self)
	reason := r.sched.ParkBlocked(thread.State{Kind: thread.WaitingForSignal, Target: r}, deadline)
	r.waitSet = 0
	switch reason.Kind {
	case scheduler.Interrupted:
		d, ok := r.dequeue(reason.Signal)
		if !ok {
			// Generate/Queue raced with a mask change between wakeup and
			// here; nothing left to report for this signal.
			return Delivery{}, kerrors.ErrInterrupted
		}
		return d, nil
	case scheduler.TimedOut:
		return Delivery{}, kerrors.ErrTimedOut
	default:
		if n, ok := r.firstDeliverable(set); ok {
			d, _ := r.dequeue(n)
			return d, nil
		}
		return Delivery{}, kerrors.ErrInterrupted
	}
}

func (r *Receiver) firstDeliverable(set Set) (int, bool) {
	for n := 0; n <= MaxSignalNumber; n++ {
		if set.Has(n) && r.deliverable(n) {
			return n, true
		}
	}
	return 0, false
}

// DeliverPending runs the handler for every currently deliverable
// signal that has a non-Ignore, non-nil Handler action, lowest number
// first, with the augmented mask (currentMask | action.Mask | {n})
// installed for the handler's duration. Nested deliverability (a
// handler generating a further deliverable signal) is picked up by the
// outer loop re-scanning after every handler returns. Called from
// SetMask, Generate, and Queue; a call arriving while a prior call's
// loop is still running (a handler itself calling Generate/Queue/
// SetMask on this same receiver) is a no-op, since the outer loop is
// already about to re-scan for exactly that newly deliverable signal.
func (r *Receiver) DeliverPending() {
	if r.delivering {
		return
	}
	r.delivering = true
	defer func() { r.delivering = false }()
	for {
		n, ok := r.nextCatchable()
		if !ok {
			return
		}
		d, _ := r.dequeue(n)
		action := r.actions[n]
		saved := r.mask
		r.mask |= action.Mask | (1 << uint(n))
		action.Handler(d.Number, d.Value)
		r.mask = saved
	}
}

func (r *Receiver) nextCatchable() (int, bool) {
	for n := 0; n <= MaxSignalNumber; n++ {
		if r.actions[n].Handler != nil && !r.actions[n].Ignore && r.deliverable(n) {
			return n, true
		}
	}
	return 0, false
}
