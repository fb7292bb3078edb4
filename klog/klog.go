// Package klog wires the kernel's structured tracing to
// github.com/joeycumines/logiface, with github.com/joeycumines/stumpy as
// the default JSON event backend.
//
// Logging is a package-level concern shared by every kernel component
// (scheduler transitions, mutex priority boosts, timer fires, signal
// delivery), the same way eventloop.SetStructuredLogger/getGlobalLogger
// expose one package-scoped logger with a safe no-op default instead of
// threading a logger through every constructor.
package klog

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

var (
	mu      sync.RWMutex
	current = stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled))

	// fatalLimiter rate-limits repeated Fatal-kind log lines, so a kernel
	// that keeps tripping the same invariant violation doesn't flood
	// whatever sink is attached. One event per signature per second.
	fatalLimiter = catrate.NewLimiter(map[time.Duration]int{time.Second: 1})
)

// SetLogger installs the logger used for all kernel tracing. Passing nil
// restores the disabled default.
func SetLogger(l *logiface.Logger[*stumpy.Event]) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled))
	}
	current = l
}

// L returns the currently installed logger.
func L() *logiface.Logger[*stumpy.Event] {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Fatal logs a Fatal-kind invariant violation, but collapses bursts of
// the identical signature to at most one line per second.
func Fatal(signature string, fn func(b *logiface.Builder[*stumpy.Event])) {
	if _, allowed := fatalLimiter.Allow(signature); !allowed {
		return
	}
	b := L().Emerg()
	if fn != nil {
		fn(b)
	}
	b.Log(signature)
}
