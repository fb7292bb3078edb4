// Package timer implements the tick-driven software timer engine
// (distortos spec §4.9): a global due-list sorted by next-fire tick
// ascending, one-shot and periodic timers, and drift-free periodic
// re-arm computed from the previous fire tick rather than the
// observed tick.
package timer

import (
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/list"
)

// Engine owns the due-list every Timer registers against. It is
// grounded on ktime.SleepQueue (distortos spec §3 invariant 5's
// tick-ascending sorted list), reused here rather than reimplemented
// since a timer due-list and the scheduler's sleep queue are the same
// shape: nodes ordered by wake/fire tick.
type Engine struct {
	clock *ktime.Clock
	due   *ktime.SleepQueue
}

// NewEngine constructs an empty timer engine bound to clock.
func NewEngine(clock *ktime.Clock) *Engine {
	return &Engine{clock: clock, due: ktime.NewSleepQueue()}
}

// Timer is a single software timer: a callback, an optional period,
// and the due-list membership node.
type Timer struct {
	engine   *Engine
	callback func()

	node    *list.Node
	next    ktime.Tick
	period  ktime.Duration // 0 means one-shot
	running bool

	firing  bool // true while Tick is executing this timer's callback
	stopped bool // Stop() was called during the current firing
}

// NewTimer constructs a heap-allocated, not-yet-armed timer.
func NewTimer(engine *Engine, callback func()) *Timer {
	return InitStaticTimer(&Timer{}, engine, callback)
}

// InitStaticTimer initializes storage supplied by the caller (the
// static/dynamic split distortos draws between a stack/struct-embedded
// SoftwareTimer and a heap-allocated DynamicSoftwareTimer) and returns
// it for chaining.
func InitStaticTimer(t *Timer, engine *Engine, callback func()) *Timer {
	t.engine = engine
	t.callback = callback
	t.node = list.NewNode(t)
	t.running = false
	return t
}

// IsRunning reports whether t is currently armed. Inside t's own
// callback this is false unless the callback itself re-armed t.
func (t *Timer) IsRunning() bool { return t.running }

// Start arms t as a one-shot timer firing after delay. If t was
// already running (including a re-arm from inside its own callback),
// it is first removed and then rearmed fresh.
func (t *Timer) Start(delay ktime.Duration) {
	t.arm(delay, 0)
}

// StartPeriodic arms t to fire first after delay, then every period
// thereafter, drift-free: each re-arm computes next = previous next +
// period rather than observedNow + period.
func (t *Timer) StartPeriodic(delay, period ktime.Duration) {
	t.arm(delay, period)
}

func (t *Timer) arm(delay, period ktime.Duration) {
	if t.running {
		t.engine.due.Remove(t.node)
	}
	t.next = t.engine.clock.Now() + ktime.Tick(delay)
	t.period = period
	t.running = true
	t.engine.due.Insert(t.node, t.next)
}

// Stop disarms t. No-op if t is not running. Calling it from inside
// t's own callback (where running was already cleared before the
// callback began) still suppresses that firing's periodic re-arm, and
// disarms t if the callback had re-armed it.
func (t *Timer) Stop() {
	if t.firing {
		t.stopped = true
	}
	if !t.running {
		return
	}
	t.running = false
	t.engine.due.Remove(t.node)
}

// Tick processes every timer whose next-fire tick is <= now: the due
// set is snapshotted up front, so a timer that arms itself (or
// another timer) for exactly `now` during a callback is picked up on
// the next Tick, not this one. Callbacks run synchronously on the
// caller's goroutine (the tick-ISR boundary, never a thread's own
// goroutine) and must not call blocking kernel APIs.
func (e *Engine) Tick(now ktime.Tick) {
	for _, node := range e.due.PopDue(now) {
		t := list.Of[Timer](node)
		t.running = false
		t.firing = true
		t.stopped = false
		t.callback()
		t.firing = false
		if !t.running && !t.stopped && t.period != 0 {
			t.next += ktime.Tick(t.period)
			t.running = true
			e.due.Insert(t.node, t.next)
		}
	}
}
