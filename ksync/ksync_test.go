package ksync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distortos-go/kernel/arch"
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/ksync"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/scheduler"
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

func TestMutexPriorityInheritanceBoostsOwner(t *testing.T) {
	h := newHarness(t)
	m := ksync.New(h.sched, ksync.Normal, ksync.PriorityInheritance, 0)

	lowReleasedMutex := make(chan struct{})
	h.spawn("low", 2, func(self *thread.TCB) {
		require.NoError(t, m.Lock(self))
		h.log <- "low-locked"

		h.spawn("high", 9, func(self *thread.TCB) {
			h.log <- "high-blocking"
			require.NoError(t, m.Lock(self))
			h.log <- "high-locked"
			require.NoError(t, m.Unlock(self))
		})
		h.sched.Checkpoint()

		assert.Equal(t, thread.Priority(9), self.EffectivePriority, "low should inherit high's priority while blocking it")

		<-lowReleasedMutex
		require.NoError(t, m.Unlock(self))
		assert.Equal(t, thread.Priority(2), self.EffectivePriority)
		h.log <- "low-unlocked"
	})
	h.sched.Start()

	require.Equal(t, "low-locked", <-h.log)
	require.Equal(t, "high-blocking", <-h.log)

	close(lowReleasedMutex)
	assert.Equal(t, "high-locked", <-h.log)
	assert.Equal(t, "low-unlocked", <-h.log)
}

// TestMutexPriorityInheritanceChainsThroughNestedOwners builds a classic
// three-deep inversion: low owns A, mid owns B and is itself blocked on
// A (held by low), and high blocks on B (held by mid). high's boost
// must climb through mid and reach low, not stop at the immediate
// owner.
func TestMutexPriorityInheritanceChainsThroughNestedOwners(t *testing.T) {
	h := newHarness(t)
	a := ksync.New(h.sched, ksync.Normal, ksync.PriorityInheritance, 0)
	b := ksync.New(h.sched, ksync.Normal, ksync.PriorityInheritance, 0)

	releaseA := make(chan struct{})
	var low, mid *thread.TCB

	low = h.spawn("low", 1, func(self *thread.TCB) {
		require.NoError(t, a.Lock(self))
		h.log <- "low-locked-a"

		h.spawn("mid", 5, func(self *thread.TCB) {
			mid = self
			require.NoError(t, b.Lock(self))
			h.log <- "mid-locked-b"
			require.NoError(t, a.Lock(self)) // blocks: low owns a
			h.log <- "mid-locked-a"
			require.NoError(t, a.Unlock(self))
			require.NoError(t, b.Unlock(self))
			h.log <- "mid-done"
		})
		h.sched.Checkpoint() // run mid until it blocks on a

		h.spawn("high", 9, func(self *thread.TCB) {
			h.log <- "high-blocking-on-b"
			require.NoError(t, b.Lock(self)) // blocks: mid owns b
			h.log <- "high-locked-b"
			require.NoError(t, b.Unlock(self))
		})
		h.sched.Checkpoint() // run high until it blocks on b, boost propagates

		assert.Equal(t, thread.Priority(9), mid.EffectivePriority, "mid should inherit high's priority")
		assert.Equal(t, thread.Priority(9), low.EffectivePriority, "low should inherit transitively through mid")

		<-releaseA
		require.NoError(t, a.Unlock(self))
		h.log <- "low-unlocked-a"
	})
	h.sched.Start()

	require.Equal(t, "low-locked-a", <-h.log)
	require.Equal(t, "mid-locked-b", <-h.log)
	require.Equal(t, "high-blocking-on-b", <-h.log)

	close(releaseA)
	assert.Equal(t, "mid-locked-a", <-h.log)
	assert.Equal(t, "high-locked-b", <-h.log)
	assert.Equal(t, "mid-done", <-h.log)
	assert.Equal(t, "low-unlocked-a", <-h.log)
}

func TestSemaphoreDirectHandoff(t *testing.T) {
	h := newHarness(t)
	s := ksync.NewSemaphore(h.sched, 0, 1)

	h.spawn("waiter", 5, func(self *thread.TCB) {
		h.log <- "waiting"
		require.NoError(t, s.Wait(self))
		h.log <- "acquired"
	})
	h.sched.Start()
	require.Equal(t, "waiting", <-h.log)

	h.cmds <- func() {
		require.NoError(t, s.Post())
	}
	assert.Equal(t, "acquired", <-h.log)
	assert.Equal(t, 0, s.Value())
}

func TestConditionVariableSignalWakesOneWaiter(t *testing.T) {
	h := newHarness(t)
	m := ksync.New(h.sched, ksync.Normal, ksync.None, 0)
	cond := ksync.NewConditionVariable(h.sched)
	ready := false

	h.spawn("waiter", 5, func(self *thread.TCB) {
		require.NoError(t, m.Lock(self))
		for !ready {
			require.NoError(t, cond.Wait(self, m, nil))
		}
		h.log <- "woke"
		require.NoError(t, m.Unlock(self))
	})
	h.sched.Start()

	h.cmds <- func() {
		ready = true
		cond.Signal()
	}
	assert.Equal(t, "woke", <-h.log)
}

func TestOnceRunsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	once := ksync.NewOnce(h.sched)
	runs := 0

	for i := 0; i < 3; i++ {
		h.spawn("caller", thread.Priority(i+1), func(self *thread.TCB) {
			err := once.Do(self, func() { runs++ })
			require.NoError(t, err)
			h.log <- "done"
		})
	}
	h.sched.Start()

	for i := 0; i < 3; i++ {
		assert.Equal(t, "done", <-h.log)
	}
	assert.Equal(t, 1, runs)
	assert.True(t, once.Done())
}

func TestPriorityProtectRejectsCallerAboveCeiling(t *testing.T) {
	h := newHarness(t)
	m := ksync.New(h.sched, ksync.Normal, ksync.PriorityProtect, 5)

	h.spawn("high", 9, func(self *thread.TCB) {
		err := m.Lock(self)
		assert.True(t, kerrors.Is(err, kerrors.InvalidArgument))
		h.log <- "rejected"
	})
	h.sched.Start()
	assert.Equal(t, "rejected", <-h.log)
}

// TestTryLockReturnsBusyUnderGenuineContention constructs real mutex
// contention (not just an uncontended fast path) by having the owner
// hold m across an unrelated blocking call (Sleep) instead of
// unlocking first — the only way one thread observes another's lock
// actually held in this cooperatively scheduled model. TryLock must
// return kerrors.ErrBusy immediately rather than parking the caller on
// m's wait queue, which is what queue.FIFOQueue/MessageQueue's
// TryPush/TryPop rely on for their own non-blocking contract.
func TestTryLockReturnsBusyUnderGenuineContention(t *testing.T) {
	h := newHarness(t)
	m := ksync.New(h.sched, ksync.Normal, ksync.None, 0)

	h.spawn("holder", 5, func(self *thread.TCB) {
		require.NoError(t, m.Lock(self))
		h.log <- "locked"
		h.sched.Sleep(h.clock.Now() + 1_000_000) // never due within this test
	})
	h.sched.Start()
	require.Equal(t, "locked", <-h.log)

	h.cmds <- func() {
		h.spawn("tryer", 5, func(self *thread.TCB) {
			err := m.TryLock(self)
			assert.True(t, kerrors.Is(err, kerrors.Busy))
			h.log <- "busy"
		})
	}
	assert.Equal(t, "busy", <-h.log)
}

func TestRecursiveMutexRejectsRelockPastMaxRecursion(t *testing.T) {
	h := newHarness(t)
	m := ksync.NewRecursive(h.sched, ksync.None, 0, 2)

	h.spawn("owner", 5, func(self *thread.TCB) {
		require.NoError(t, m.Lock(self))
		require.NoError(t, m.Lock(self))
		err := m.Lock(self)
		assert.True(t, kerrors.Is(err, kerrors.WouldOverflow))
		h.log <- "done"
	})
	h.sched.Start()
	assert.Equal(t, "done", <-h.log)
}
