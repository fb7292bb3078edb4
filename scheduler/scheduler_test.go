package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distortos-go/kernel/arch"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/list"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

// harness bundles a scheduler with an idle thread and a shared log.
// Every test obeys the package's central rule: only the goroutine
// currently holding the baton (a thread body, or this test before
// Start) ever calls into h.sched.
type harness struct {
	port  *arch.GoroutinePort
	clock *ktime.Clock
	sleep *ktime.SleepQueue
	sched *scheduler.Scheduler
	log   chan string
	cmds  chan func()
	ids   uint64
}

// newHarness wires an idle thread that, whenever it actually holds the
// baton (no application thread is ready), drains cmds and runs each
// queued func on that same goroutine before yielding again. This is
// how tests inject a kernel call (TickHook, Unblock, Checkpoint) once
// every application thread has blocked or terminated, without
// violating the one-goroutine-drives-the-kernel-at-a-time rule.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		port: arch.NewGoroutinePort(),
		log:  make(chan string, 64),
		cmds: make(chan func(), 8),
	}
	h.clock = ktime.NewClock()
	h.sleep = ktime.NewSleepQueue()
	h.sched = scheduler.New(h.port, h.clock, h.sleep)

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

func (h *harness) nextID() uint64 {
	h.ids++
	return h.ids
}

// spawn constructs and admits a thread, but does not itself checkpoint
// (consistent with Admit's contract): call from the currently running
// thread's body, followed by a Checkpoint call if immediate preemption
// is desired.
func (h *harness) spawn(name string, priority thread.Priority, policy thread.SchedulingPolicy, quantum int, body func()) *thread.TCB {
	tcb := thread.New(h.nextID(), name, priority, policy, quantum)
	tcb.ArchContext = h.port.Spawn(func(any) {
		body()
		h.sched.Exit()
	}, nil)
	h.sched.Admit(tcb)
	return tcb
}

// idleWithCommands builds a second idle-style thread that drains cmds
// instead of h.cmds. Registering it with SetIdle after the original
// idle thread has run does not make it run: the original idle puts
// itself back on the priority-0 ready queue at every Yield, and the
// scheduler falls back to the idle thread only when every ready queue
// is empty.
func (h *harness) idleWithCommands(cmds chan func()) *thread.TCB {
	idle := thread.New(h.nextID(), "idle2", 0, thread.RoundRobin, 1)
	idle.ArchContext = h.port.Spawn(func(any) {
		for {
			select {
			case cmd := <-cmds:
				cmd()
			default:
			}
			h.sched.Yield()
		}
	}, nil)
	return idle
}

func TestAdmittedHigherPriorityThreadPreemptsAtCheckpoint(t *testing.T) {
	h := newHarness(t)

	lowDone := make(chan struct{})
	h.spawn("low", 5, thread.FIFO, 0, func() {
		h.log <- "low-start"
		h.spawn("high", 10, thread.FIFO, 0, func() {
			h.log <- "high-ran"
		})
		h.sched.Checkpoint()
		<-lowDone
		h.log <- "low-end"
	})
	h.sched.Start()

	require.Equal(t, "low-start", <-h.log)
	assert.Equal(t, "high-ran", <-h.log)

	close(lowDone)
	assert.Equal(t, "low-end", <-h.log)
}

func TestEqualPriorityAdmitDoesNotPreempt(t *testing.T) {
	h := newHarness(t)

	releaseA := make(chan struct{})
	h.spawn("a", 5, thread.FIFO, 0, func() {
		h.log <- "a-start"
		h.spawn("b", 5, thread.FIFO, 0, func() {
			h.log <- "b-ran"
		})
		h.sched.Checkpoint()
		h.log <- "a-still-running"
		<-releaseA
		h.log <- "a-end"
	})
	h.sched.Start()

	require.Equal(t, "a-start", <-h.log)
	require.Equal(t, "a-still-running", <-h.log)

	close(releaseA)
	assert.Equal(t, "a-end", <-h.log)
	assert.Equal(t, "b-ran", <-h.log)
}

func TestRoundRobinRotatesOnQuantumExhaustion(t *testing.T) {
	h := newHarness(t)

	doneB := make(chan struct{})
	h.spawn("a", 5, thread.RoundRobin, 2, func() {
		h.log <- "a"
		h.spawn("b", 5, thread.RoundRobin, 2, func() {
			h.log <- "b"
			close(doneB)
		})
		h.sched.TickHook(h.clock.Advance())
		h.sched.TickHook(h.clock.Advance())
		<-doneB
		h.log <- "a-resumed"
	})
	h.sched.Start()

	require.Equal(t, "a", <-h.log)
	assert.Equal(t, "b", <-h.log)
	assert.Equal(t, "a-resumed", <-h.log)
}

func TestSleepWakesOnDueTick(t *testing.T) {
	h := newHarness(t)

	h.spawn("sleeper", 5, thread.FIFO, 0, func() {
		h.log <- "before-sleep"
		h.sched.Sleep(h.clock.Now() + 2)
		h.log <- "after-sleep"
	})
	h.sched.Start()
	require.Equal(t, "before-sleep", <-h.log)

	h.cmds <- func() { h.sched.TickHook(h.clock.Advance()) }
	select {
	case got := <-h.log:
		t.Fatalf("slept thread woke too early, got %q", got)
	default:
	}
	h.cmds <- func() { h.sched.TickHook(h.clock.Advance()) }
	assert.Equal(t, "after-sleep", <-h.log)
}

func TestBlockAndUnblockRoundTrip(t *testing.T) {
	h := newHarness(t)
	waitQueue := list.New()

	h.spawn("waiter", 5, thread.FIFO, 0, func() {
		h.log <- "blocking"
		reason := h.sched.Block(waitQueue, thread.State{Kind: thread.BlockedOnSemaphore}, nil)
		assert.Equal(t, scheduler.Unblocked, reason.Kind)
		h.log <- "resumed"
	})
	h.sched.Start()
	require.Equal(t, "blocking", <-h.log)
	require.Equal(t, 1, waitQueue.Len())

	h.cmds <- func() {
		woken := list.Of[thread.TCB](waitQueue.Front())
		h.sched.Unblock(woken, scheduler.Reason{Kind: scheduler.Unblocked})
		h.sched.Checkpoint()
	}

	assert.Equal(t, "resumed", <-h.log)
}

func TestBoundedWaitTimesOutViaDeadline(t *testing.T) {
	h := newHarness(t)
	waitQueue := list.New()

	h.spawn("waiter", 5, thread.FIFO, 0, func() {
		deadline := h.clock.Now() + 2
		reason := h.sched.Block(waitQueue, thread.State{Kind: thread.BlockedOnSemaphore}, &deadline)
		assert.Equal(t, scheduler.TimedOut, reason.Kind)
		h.log <- "timed-out"
	})
	h.sched.Start()

	h.cmds <- func() { h.sched.TickHook(h.clock.Advance()) }
	h.cmds <- func() { h.sched.TickHook(h.clock.Advance()) }

	assert.Equal(t, "timed-out", <-h.log)
	assert.Equal(t, 0, waitQueue.Len())
}

func TestSetPriorityReordersReadyQueueAheadOfPeer(t *testing.T) {
	h := newHarness(t)
	order := make(chan string, 2)

	h.spawn("b", 5, thread.FIFO, 0, func() {
		h.log <- "b-start"
		var a, c *thread.TCB
		a = h.spawn("a", 3, thread.FIFO, 0, func() { order <- "a" })
		c = h.spawn("c", 3, thread.FIFO, 0, func() { order <- "c" })
		h.sched.SetPriority(c, 9, func(*list.Node) thread.Priority { return 0 })
		_ = a
		h.sched.Checkpoint()
	})
	h.sched.Start()

	require.Equal(t, "b-start", <-h.log)
	assert.Equal(t, "c", <-order)
	assert.Equal(t, "a", <-order)
}
