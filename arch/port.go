// Package arch defines the architecture-port collaborator the concurrency
// kernel consumes but never implements itself (distortos spec §6):
// context save/restore, stack initialization, interrupt masking, and the
// tick source are all deliberately out of the kernel's scope and are
// described here only through the interface the core calls into.
package arch

// Port is the seam between the portable scheduler and a concrete
// execution substrate. The kernel only ever holds a Port; it never
// assumes anything about how a context switch is actually carried out.
//
// The shipped default (see NewGoroutinePort) backs every thread with a
// parked goroutine and a baton channel, so that exactly one goroutine
// runs kernel/thread code at a time — the Go-native stand-in for a
// microcontroller's single execution unit. A bare-metal port targeting
// real Cortex-M hardware would implement the same interface using
// exception-return tricks and is out of this module's scope.
type Port interface {
	// Spawn prepares a new schedulable execution context that will run
	// entry(arg) once first switched to, and returns an opaque handle
	// the kernel stores in thread.TCB.ArchContext and passes back to
	// SwitchTo/Exited. It is the Go analogue of initializeStack: no
	// code runs yet.
	Spawn(entry func(arg any), arg any) any

	// SwitchTo performs a context switch from the currently running
	// context (from, nil only for the very first switch out of boot) to
	// next. The scheduler never inspects either handle; it only ever
	// selects the next TCB and hands the two opaque ArchContext values
	// to the port, per spec §4.3's "hands two TCB pointers to the arch
	// routine". SwitchTo blocks the calling goroutine (the outgoing
	// context) until it is later switched back to, and returns only
	// once that happens; it does not block at all when from is nil.
	SwitchTo(from, next any)

	// RequestContextSwitch asks the substrate to perform a context
	// switch at the next opportunity (the Go port implements this as a
	// no-op, since there is no separate "exception return" boundary to
	// defer to and every switch happens inside SwitchTo).
	RequestContextSwitch()

	// Exited is called once a context's entry function has returned, so
	// the substrate can release any resources backing it (the default
	// port only marks the context as exited; its goroutine is not
	// released).
	Exited(ctx any)

	// Mask acquires the scoped interrupt-masking lock described by
	// InterruptMask. The scheduler and ksync primitives call this once
	// per logical kernel operation to guard their list manipulation.
	Mask() InterruptMask
}

// InterruptMask models §5's "scoped interrupt masking lock": a short
// critical section during which kernel list manipulation is safe from
// concurrent tick-ISR activity. Acquire via Port.Mask, release via
// Release on every exit path including
// panics, mirroring the RAII discipline spec §9 calls for.
type InterruptMask interface {
	Release()
}
