package signal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distortos-go/kernel/arch"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/signal"
	"github.com/distortos-go/kernel/thread"
)

type harness struct {
	port  *arch.GoroutinePort
	clock *ktime.Clock
	sched *scheduler.Scheduler
	log   chan string
	cmds  chan func()
	ids   uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{port: arch.NewGoroutinePort(), log: make(chan string, 64), cmds: make(chan func(), 8)}
	h.clock = ktime.NewClock()
	h.sched = scheduler.New(h.port, h.clock, ktime.NewSleepQueue())

	idle := thread.New(h.nextID(), "idle", 0, thread.RoundRobin, 1)
	idle.ArchContext = h.port.Spawn(func(any) {
		for {
			select {
			case cmd := <-h.cmds:
				cmd()
			default:
			}
			h.sched.Yield()
		}
	}, nil)
	h.sched.SetIdle(idle)
	return h
}

func (h *harness) nextID() uint64 { h.ids++; return h.ids }

func (h *harness) spawn(name string, priority thread.Priority, body func(self *thread.TCB)) *thread.TCB {
	tcb := thread.New(h.nextID(), name, priority, thread.FIFO, 0)
	tcb.ArchContext = h.port.Spawn(func(any) {
		body(tcb)
		h.sched.Exit()
	}, nil)
	h.sched.Admit(tcb)
	return tcb
}

func TestGenerateWakesWaitingThread(t *testing.T) {
	h := newHarness(t)
	var r *signal.Receiver

	h.spawn("waiter", 5, func(self *thread.TCB) {
		r = signal.NewReceiver(h.sched, self, 4)
		h.log <- "waiting"
		d, err := r.WaitAny(self, signal.SetOf(3))
		require.NoError(t, err)
		assert.Equal(t, 3, d.Number)
		assert.Equal(t, signal.Generated, d.Code)
		h.log <- "woke"
	})
	h.sched.Start()
	require.Equal(t, "waiting", <-h.log)

	h.cmds <- func() {
		require.NoError(t, r.Generate(3))
	}
	assert.Equal(t, "woke", <-h.log)
}

func TestQueuedSignalCarriesValue(t *testing.T) {
	h := newHarness(t)
	var r *signal.Receiver

	h.spawn("waiter", 5, func(self *thread.TCB) {
		r = signal.NewReceiver(h.sched, self, 4)
		h.log <- "waiting"
		d, err := r.WaitAny(self, signal.SetOf(7))
		require.NoError(t, err)
		assert.Equal(t, 7, d.Number)
		assert.Equal(t, signal.Queued, d.Code)
		assert.Equal(t, 42, d.Value)
		h.log <- "woke"
	})
	h.sched.Start()
	require.Equal(t, "waiting", <-h.log)

	h.cmds <- func() {
		require.NoError(t, r.Queue(7, 42))
	}
	assert.Equal(t, "woke", <-h.log)
}

func TestMaskedSignalDoesNotWakeWaiter(t *testing.T) {
	h := newHarness(t)
	var r *signal.Receiver

	h.spawn("waiter", 5, func(self *thread.TCB) {
		r = signal.NewReceiver(h.sched, self, 4)
		r.SetMask(signal.SetOf(1))
		h.log <- "waiting"
		d, err := r.WaitAny(self, signal.SetOf(1, 2))
		require.NoError(t, err)
		assert.Equal(t, 2, d.Number)
		h.log <- "woke"
	})
	h.sched.Start()
	require.Equal(t, "waiting", <-h.log)

	h.cmds <- func() {
		require.NoError(t, r.Generate(1)) // masked: must not wake waiter
	}
	select {
	case got := <-h.log:
		t.Fatalf("masked signal woke waiter, got %q", got)
	default:
	}
	h.cmds <- func() {
		require.NoError(t, r.Generate(2))
	}
	assert.Equal(t, "woke", <-h.log)
}

func TestDeliverPendingRunsHandlerWithAugmentedMask(t *testing.T) {
	h := newHarness(t)

	h.spawn("owner", 5, func(self *thread.TCB) {
		r := signal.NewReceiver(h.sched, self, 4)
		var maskDuringHandler signal.Set
		require.NoError(t, r.SetAction(9, signal.Action{
			Mask: signal.SetOf(2),
			Handler: func(number, value int) {
				maskDuringHandler = r.Mask()
			},
		}))
		require.NoError(t, r.Generate(9))
		r.DeliverPending()
		assert.True(t, maskDuringHandler.Has(9))
		assert.True(t, maskDuringHandler.Has(2))
		assert.False(t, r.Mask().Has(9), "mask restored after handler returns")
		h.log <- "done"
	})
	h.sched.Start()
	assert.Equal(t, "done", <-h.log)
}

// TestGenerateRunsHandlerSynchronouslyWithoutExplicitDeliverPending
// proves Generate itself wires catch-on-generate delivery (distortos
// spec §4.8): a Handler action for an unmasked signal must run before
// Generate returns, with no caller-side DeliverPending call at all.
func TestGenerateRunsHandlerSynchronouslyWithoutExplicitDeliverPending(t *testing.T) {
	h := newHarness(t)

	h.spawn("owner", 5, func(self *thread.TCB) {
		r := signal.NewReceiver(h.sched, self, 4)
		var caught int = -1
		require.NoError(t, r.SetAction(7, signal.Action{
			Handler: func(number, value int) { caught = number },
		}))
		require.NoError(t, r.Generate(7))
		assert.Equal(t, 7, caught, "handler must run synchronously inside Generate")
		_, ok := r.Accept(7)
		assert.False(t, ok, "Generate's own DeliverPending call already consumed the signal")
		h.log <- "done"
	})
	h.sched.Start()
	assert.Equal(t, "done", <-h.log)
}

// TestQueueRunsHandlerSynchronouslyWithValue is Queue's analogue of
// TestGenerateRunsHandlerSynchronouslyWithoutExplicitDeliverPending.
func TestQueueRunsHandlerSynchronouslyWithValue(t *testing.T) {
	h := newHarness(t)

	h.spawn("owner", 5, func(self *thread.TCB) {
		r := signal.NewReceiver(h.sched, self, 4)
		var caughtValue = -1
		require.NoError(t, r.SetAction(3, signal.Action{
			Handler: func(number, value int) { caughtValue = value },
		}))
		require.NoError(t, r.Queue(3, 42))
		assert.Equal(t, 42, caughtValue, "handler must run synchronously inside Queue, with the queued value")
		h.log <- "done"
	})
	h.sched.Start()
	assert.Equal(t, "done", <-h.log)
}

// TestHandlerReentrantGenerateDoesNotDoubleDeliver guards the
// Receiver.delivering reentrancy flag: a handler that itself calls
// Generate on the same receiver must not recursively re-enter
// DeliverPending (which would run the outer loop's handler invocation
// twice for the newly generated signal) — the outer loop's re-scan
// after the handler returns is solely responsible for picking up the
// nested signal.
func TestHandlerReentrantGenerateDoesNotDoubleDeliver(t *testing.T) {
	h := newHarness(t)

	h.spawn("owner", 5, func(self *thread.TCB) {
		r := signal.NewReceiver(h.sched, self, 4)
		var runs11 int
		require.NoError(t, r.SetAction(11, signal.Action{
			Handler: func(number, value int) { runs11++ },
		}))
		var runs12 int
		require.NoError(t, r.SetAction(12, signal.Action{
			Handler: func(number, value int) {
				runs12++
				require.NoError(t, r.Generate(11)) // reentrant call, same receiver
			},
		}))
		require.NoError(t, r.Generate(12))
		assert.Equal(t, 1, runs12)
		assert.Equal(t, 1, runs11, "nested signal delivered exactly once by the outer loop's re-scan")
		h.log <- "done"
	})
	h.sched.Start()
	assert.Equal(t, "done", <-h.log)
}

func TestAcceptPrefersQueuedOverPending(t *testing.T) {
	h := newHarness(t)

	h.spawn("owner", 5, func(self *thread.TCB) {
		r := signal.NewReceiver(h.sched, self, 4)
		require.NoError(t, r.Generate(5))
		require.NoError(t, r.Queue(5, 99))

		d, ok := r.Accept(5)
		require.True(t, ok)
		assert.Equal(t, signal.Queued, d.Code)
		assert.Equal(t, 99, d.Value)

		d, ok = r.Accept(5)
		require.True(t, ok)
		assert.Equal(t, signal.Generated, d.Code)

		_, ok = r.Accept(5)
		assert.False(t, ok)
		h.log <- "done"
	})
	h.sched.Start()
	assert.Equal(t, "done", <-h.log)
}

func TestIgnoredSignalIsDiscarded(t *testing.T) {
	h := newHarness(t)

	h.spawn("owner", 5, func(self *thread.TCB) {
		r := signal.NewReceiver(h.sched, self, 4)
		require.NoError(t, r.SetAction(4, signal.Action{Ignore: true}))
		require.NoError(t, r.Generate(4))
		_, ok := r.Accept(4)
		assert.False(t, ok)
		h.log <- "done"
	})
	h.sched.Start()
	assert.Equal(t, "done", <-h.log)
}
