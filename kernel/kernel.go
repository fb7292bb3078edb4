// Package kernel is the top-level orchestrator: it owns the
// scheduler, the tick clock, the software timer engine, the
// architecture port, and the boot-time initializer table, and exposes
// the thread-creation factories every application built on this
// module actually calls (distortos spec §4.11/§9).
package kernel

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/distortos-go/kernel/arch"
	"github.com/distortos-go/kernel/boot"
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/klog"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/timer"
)

// logBuilder is the concrete builder type klog.Fatal's callback
// receives, named here only so the Panic/Start call sites below don't
// have to spell the instantiation out twice.
type logBuilder = logiface.Builder[*stumpy.Event]

// Kernel wires every layer of the module map together: Scheduler
// (L3), Timer.Engine (L9), the boot registry and deferred deleter
// (L11), and the Config resolved at New.
type Kernel struct {
	Config Config

	port  arch.Port
	Clock *ktime.Clock
	Sched *scheduler.Scheduler
	Timer *timer.Engine

	deleter *boot.DeferredDeleter

	mu       sync.Mutex
	panicked bool
	nextID   uint64
}

func errInvalidConfig(msg string) error {
	return kerrors.New(kerrors.InvalidArgument, "kernel: "+msg)
}

// New constructs a Kernel bound to port, but does not yet run
// initializers or start the scheduler; call Start for that.
func New(port arch.Port, opts ...Option) (*Kernel, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	clock := ktime.NewClock()
	sleep := ktime.NewSleepQueue()
	k := &Kernel{
		Config:  cfg,
		port:    port,
		Clock:   clock,
		Sched:   scheduler.New(port, clock, sleep),
		Timer:   timer.NewEngine(clock),
		deleter: boot.NewDeferredDeleter(),
	}
	return k, nil
}

// nextThreadID assigns process-wide unique TCB identifiers.
func (k *Kernel) nextThreadID() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextID++
	return k.nextID
}

// Start runs every registered low-level initializer (priority
// ascending), builds and installs the idle thread, then hands control
// to the scheduler (spec §4.11's boot sequence). Call once, from the
// boot goroutine, before any thread has been Admitted other than via
// an initializer.
func (k *Kernel) Start() error {
	if err := initializers.RunAll(k); err != nil {
		klog.Fatal("boot-initializer-failed", func(b *logBuilder) { b.Str("error", err.Error()) })
		return err
	}
	idle := boot.NewIdleThread(k.port, k.Sched, k.nextThreadID(), k.deleter)
	k.Sched.SetIdle(idle)
	k.Sched.Start()
	return nil
}

// Tick is the external tick-ISR entry point (spec §4.3's tickHook,
// driven once per TickFrequencyHz interval): it advances the clock
// exactly once, fires due software timers against the new tick, then
// runs the scheduler's own tick bookkeeping (sleep-queue wakeups and
// round-robin quantum rotation) against that same tick. Clock.Advance
// is called here and nowhere else in the Tick path — TickHook takes
// the already-advanced tick rather than advancing the shared Clock
// itself, since both Timer and Sched are driven off the one Clock
// constructed in New.
func (k *Kernel) Tick() {
	now := k.Clock.Advance()
	k.Timer.Tick(now)
	k.Sched.TickHook(now)
}

// Panic raises a Kind==Fatal error: it is logged once (rate-limited
// if repeated) and marks the kernel panicked, so Admit-adjacent
// factory calls start refusing new threads rather than continue
// driving a kernel known to be in an undefined state (spec §7's
// propagation policy for Fatal).
func (k *Kernel) Panic(cause error) error {
	k.mu.Lock()
	k.panicked = true
	k.mu.Unlock()
	err := kerrors.Wrap(kerrors.Fatal, "kernel: panic", cause)
	klog.Fatal("kernel-panic", func(b *logBuilder) { b.Str("cause", cause.Error()) })
	return err
}

// Panicked reports whether Panic has ever been called.
func (k *Kernel) Panicked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.panicked
}

func (k *Kernel) checkNotPanicked() error {
	if k.Panicked() {
		return kerrors.New(kerrors.Fatal, "kernel: panicked, refusing new work")
	}
	return nil
}
