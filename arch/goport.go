package arch

import "sync"

// goContext is the GoroutinePort's ArchContext: one parked goroutine and
// the single-slot baton it waits on.
type goContext struct {
	resume chan struct{}
	exited bool
}

// GoroutinePort is the default Port: every spawned context is backed by
// one goroutine blocked on an unbuffered baton channel. Exactly one
// goroutine holds the baton at a time, which is how this port enforces
// "exactly one thread Runnable-running" (distortos spec §3 invariant 1)
// without real hardware underneath it.
type GoroutinePort struct {
	mu       sync.Mutex
	maskDepth int
}

// NewGoroutinePort returns the default, goroutine-backed architecture
// port.
func NewGoroutinePort() *GoroutinePort {
	return &GoroutinePort{}
}

// Spawn launches a new goroutine parked on its baton; entry does not
// run until the context is first switched to.
func (p *GoroutinePort) Spawn(entry func(arg any), arg any) any {
	ctx := &goContext{resume: make(chan struct{})}
	go func() {
		<-ctx.resume
		entry(arg)
		p.Exited(ctx)
	}()
	return ctx
}

// SwitchTo hands the baton to next and, if from is non-nil, blocks the
// calling goroutine until the baton is handed back to it.
func (p *GoroutinePort) SwitchTo(from, next any) {
	to := next.(*goContext)
	to.resume <- struct{}{}
	if from != nil {
		fc := from.(*goContext)
		<-fc.resume
	}
}

// RequestContextSwitch is a no-op seam on this port: the goroutine port
// has no separate "exception return" boundary, so every context switch
// happens synchronously inside SwitchTo.
func (p *GoroutinePort) RequestContextSwitch() {}

// Exited marks ctx as finished. It is idempotent; the channel is never
// closed because a terminated context's baton is never sent to again.
func (p *GoroutinePort) Exited(ctx any) {
	gc := ctx.(*goContext)
	gc.exited = true
}

// goInterruptMask is the GoroutinePort's InterruptMask: a plain mutex
// standing in for real interrupt masking. The port's maskDepth counter
// only tracks how many levels are held; the mutex is not reentrant, so
// a second acquisition on the same goroutine deadlocks.
type goInterruptMask struct {
	port *GoroutinePort
}

// Mask acquires the kernel's interrupt-masking lock. Release it via
// Release on every exit path, typically with defer. Not reentrant: a
// single logical kernel operation (Block, Unblock, SetPriority,
// TickHook, ...) must acquire it at most once, the same way real
// disable/enableInterrupts nesting is meant to bound one short critical
// section rather than be composed across call boundaries.
func (p *GoroutinePort) Mask() InterruptMask {
	p.mu.Lock()
	p.maskDepth++
	return &goInterruptMask{port: p}
}

// Release releases one level of interrupt masking.
func (m *goInterruptMask) Release() {
	m.port.maskDepth--
	m.port.mu.Unlock()
}
