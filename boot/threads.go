package boot

import (
	"github.com/distortos-go/kernel/arch"
	"github.com/distortos-go/kernel/klog"
	"github.com/distortos-go/kernel/scheduler"
	"github.com/distortos-go/kernel/thread"
)

// IdlePriority is the priority distortos' idle thread always runs at
// (spec §4.11: "lowest priority"), below anything an application
// thread should ever be created at.
const IdlePriority thread.Priority = 0

// NewIdleThread builds the thread every scheduler falls back to when
// no application thread is ready. Its loop opportunistically drains
// deleter between Yields, the Go analogue of "the idle thread's loop
// drives the deferred thread deleter... when it can take the required
// locks without blocking" (spec §4.11): TryReclaimAll never blocks, so
// calling it once per idle iteration adds no latency to the moment a
// higher-priority thread becomes ready.
//
// The returned TCB is not Admitted; wire it with Scheduler.SetIdle.
func NewIdleThread(port arch.Port, sched *scheduler.Scheduler, id uint64, deleter *DeferredDeleter) *thread.TCB {
	idle := thread.New(id, "idle", IdlePriority, thread.RoundRobin, 1)
	idle.ArchContext = port.Spawn(func(any) {
		for {
			if n := deleter.TryReclaimAll(); n > 0 {
				klog.L().Debug().Int("count", n).Log("idle-reclaimed")
			}
			sched.Yield()
		}
	}, nil)
	return idle
}

// RunInitializers runs every registered low-level initializer against
// k in priority order (spec §4.11's "table of low-level initializers,
// sorted by priority, executes before any thread runs"). Call from the
// boot goroutine before the idle thread is admitted and before Start.
func RunInitializers[K any](registry *Registry[K], k K) error {
	return registry.RunAll(k)
}
