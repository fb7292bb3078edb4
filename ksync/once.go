package ksync

import (
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

type onceState int

const (
	onceNotStarted onceState = iota
	onceInProgress
	onceDone
)

// Once runs a function exactly once across any number of competing
// threads (distortos spec §10's callOnce), built directly on Mutex and
// ConditionVariable: the thread that finds onceNotStarted flips to
// onceInProgress, runs fn outside the lock, then flips to onceDone and
// broadcasts; everyone else waits on the condition variable until that
// happens.
type Once struct {
	mu    *Mutex
	cond  *ConditionVariable
	state onceState
}

// NewOnce constructs a not-yet-run Once.
func NewOnce(sched *scheduler.Scheduler) *Once {
	mu := New(sched, Normal, None, 0)
	return &Once{mu: mu, cond: NewConditionVariable(sched)}
}

// Do runs fn if this is the first call to Do across the Once's
// lifetime; otherwise it blocks until the first call's fn has
// returned. Per distortos semantics, a panic inside fn leaves the Once
// permanently in onceInProgress and every future (and currently
// blocked) caller deadlocked — mirroring callOnce's documented
// behavior rather than sync.Once's "never runs again" relaxation.
func (o *Once) Do(self *thread.TCB, fn func()) error {
	if err := o.mu.Lock(self); err != nil {
		return err
	}
	for o.state == onceInProgress {
		if err := o.cond.Wait(self, o.mu, nil); err != nil {
			o.mu.Unlock(self)
			return err
		}
	}
	if o.state == onceDone {
		return o.mu.Unlock(self)
	}
	o.state = onceInProgress
	if err := o.mu.Unlock(self); err != nil {
		return err
	}

	fn()

	if err := o.mu.Lock(self); err != nil {
		return err
	}
	o.state = onceDone
	o.cond.Broadcast()
	return o.mu.Unlock(self)
}

// Done reports whether fn has already run to completion.
func (o *Once) Done() bool { return o.state == onceDone }
