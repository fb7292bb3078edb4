package boot

import (
	"github.com/distortos-go/kernel/kerrors"
	"github.com/distortos-go/kernel/list"
	"github.com/distortos-go/kernel/thread"
)

// Reclaimable is implemented by a thread's Owner (kernel's dynamic
// thread wrapper) when it needs a chance to finish cleanup before the
// deleter drops its last reference. TryReclaim must not block; it
// reports whether the owner is done and may be dropped now.
type Reclaimable interface {
	TryReclaim() bool
}

// DeferredDeleter defers releasing a terminated, detached thread's
// owning object until a safe, opportunistic point — distortos can't
// free a thread's own stack while that thread is still the one
// running, so destruction is deferred to whichever thread next calls
// TryReclaimAll (typically the idle thread). Grounded on
// DeferredThreadDeleter.hpp's "opportunistic, lock-non-blocking"
// contract: TryReclaimAll never blocks and makes best-effort progress,
// leaving anything not yet reclaimable for a later call.
type DeferredDeleter struct {
	pending *list.List
}

// NewDeferredDeleter returns an empty deleter.
func NewDeferredDeleter() *DeferredDeleter {
	return &DeferredDeleter{pending: list.New()}
}

// Defer enqueues t for later reclamation. t must already be Terminated
// and Detachable; anything else is a caller bug.
func (d *DeferredDeleter) Defer(t *thread.TCB) error {
	if t.State.Kind != thread.Terminated {
		return kerrors.New(kerrors.InvalidArgument, "boot: deferred deletion of a non-terminated thread")
	}
	if !t.Detachable {
		return kerrors.New(kerrors.InvalidArgument, "boot: deferred deletion of an undetachable thread")
	}
	d.pending.PushBack(t.DeleterNode)
	return nil
}

// TryReclaimAll walks the pending list once, reclaiming every entry
// whose Owner either doesn't opt into Reclaimable (reclaimed
// unconditionally) or reports TryReclaim() true. Entries not yet
// reclaimable are left linked for a later call. Returns the number of
// threads actually reclaimed this pass.
func (d *DeferredDeleter) TryReclaimAll() int {
	reclaimed := 0
	node := d.pending.Front()
	for node != nil {
		next := node.Next()
		t := list.Of[thread.TCB](node)
		if r, ok := t.Owner.(Reclaimable); ok && !r.TryReclaim() {
			node = next
			continue
		}
		list.Remove(node)
		t.Owner = nil
		reclaimed++
		node = next
	}
	return reclaimed
}

// Pending reports how many terminated threads are awaiting reclamation.
func (d *DeferredDeleter) Pending() int { return d.pending.Len() }
