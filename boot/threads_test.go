package boot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distortos-go/kernel/arch"
	"github.com/distortos-go/kernel/boot"
	"github.com/distortos-go/kernel/ktime"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

type reclaimSignal struct {
	reclaimed bool
	done      chan struct{}
}

func (o *reclaimSignal) TryReclaim() bool {
	o.reclaimed = true
	close(o.done)
	return true
}

// TestIdleThreadDrainsDeferredDeleter builds a scheduler whose only
// threads are one application thread and boot.NewIdleThread, and
// checks that once the application thread sleeps far into the future,
// idle's own loop reclaims a deferred terminated thread without any
// test code directly driving the deleter.
func TestIdleThreadDrainsDeferredDeleter(t *testing.T) {
	port := arch.NewGoroutinePort()
	clock := ktime.NewClock()
	sched := scheduler.New(port, clock, ktime.NewSleepQueue())
	deleter := boot.NewDeferredDeleter()

	idle := boot.NewIdleThread(port, sched, 1, deleter)
	sched.SetIdle(idle)

	stale := thread.New(2, "stale", 3, thread.FIFO, 0)
	stale.State = thread.State{Kind: thread.Terminated}
	stale.Detachable = true
	sig := &reclaimSignal{done: make(chan struct{})}
	stale.Owner = sig
	require.NoError(t, deleter.Defer(stale))

	app := thread.New(3, "app", 5, thread.FIFO, 0)
	app.ArchContext = port.Spawn(func(any) {
		sched.Sleep(clock.Now() + 1_000_000) // far enough that it never wakes in this test
	}, nil)
	sched.Admit(app)

	sched.Start()
	<-sig.done
	assert.True(t, sig.reclaimed)
}
