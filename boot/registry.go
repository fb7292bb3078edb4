// Package boot implements the low-level pieces distortos runs before a
// thread is ever scheduled (spec §4.11): a priority-sorted table of
// initializer functions run once at startup, main/idle thread
// construction, and the deferred thread deleter.
//
// boot sits below kernel in the dependency order, so Registry is
// generic over the handle type an initializer receives rather than
// importing kernel.Kernel directly — kernel instantiates
// Registry[*Kernel], exposes its Register as kernel.RegisterInitializer
// and calls RunAll from Kernel.Start, preserving
// BIND_LOW_LEVEL_INITIALIZER's "register at package scope, kernel runs
// them all in priority order at startup" shape without a boot<->kernel
// import cycle.
package boot

import "sort"

// Initializer is one registered startup function together with the
// priority it was bound at (BIND_LOW_LEVEL_INITIALIZER's priority
// argument: lower values run first).
type Initializer[K any] struct {
	Priority uint8
	Fn       func(K) error
}

// Registry is a priority-sorted table of initializers, grounded on
// BIND_LOW_LEVEL_INITIALIZER_IMPLEMENTATION.h /
// BIND_LOW_LEVEL_PREINITIALIZER.h's link-time-collected, priority-run
// table. Registration order within the same priority is preserved
// (stable sort), matching the original's link-order tiebreak.
type Registry[K any] struct {
	entries []Initializer[K]
}

// NewRegistry returns an empty registry.
func NewRegistry[K any]() *Registry[K] {
	return &Registry[K]{}
}

// Register appends fn to the table at the given priority. Safe to call
// repeatedly before RunAll; has no effect on anything already run.
func (r *Registry[K]) Register(priority uint8, fn func(K) error) {
	r.entries = append(r.entries, Initializer[K]{Priority: priority, Fn: fn})
}

// RunAll runs every registered initializer against k, lowest priority
// first, stopping at (and returning) the first error. Already-run
// initializers are not unwound; a failing boot sequence is expected to
// be fatal to the whole process, matching the original's "initializer
// failure halts startup" contract.
func (r *Registry[K]) RunAll(k K) error {
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Priority < r.entries[j].Priority
	})
	for _, e := range r.entries {
		if err := e.Fn(k); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many initializers are registered.
func (r *Registry[K]) Len() int { return len(r.entries) }
