// Package kerrors defines the POSIX-aligned error taxonomy shared by every
// kernel component. Nothing in this module panics on the request path;
// every fallible operation returns an error built from this package.
package kerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a kernel error. See distortos spec §7 for the meaning
// of each kind.
type Kind int

const (
	// InvalidArgument marks an out-of-range priority, signal number > 31,
	// or other bad configuration.
	InvalidArgument Kind = iota
	// Busy marks a non-blocking operation that could not proceed
	// immediately (tryLock on a held mutex, tryWait on a zero semaphore).
	Busy
	// TimedOut marks a bounded wait that expired before it was satisfied.
	TimedOut
	// Interrupted marks a wait terminated by signal delivery.
	Interrupted
	// WouldOverflow marks a semaphore post that would exceed maxValue, or
	// a queued-signal list that is full.
	WouldOverflow
	// NotOwner marks an unlock/recursion operation attempted by a thread
	// that does not own an error-checking mutex.
	NotOwner
	// Deadlock marks a relock of a non-recursive error-checking mutex by
	// its own owner.
	Deadlock
	// NotSupported marks an operation forbidden by build-time
	// configuration (signals disabled, detach disabled).
	NotSupported
	// NoMemory marks a refusal by the dynamic allocator collaborator.
	NoMemory
	// Fatal marks an invariant violation. The kernel halts rather than
	// continue in an undefined state.
	Fatal
)

// String renders the kind the way it would appear in a log field.
func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid-argument"
	case Busy:
		return "busy"
	case TimedOut:
		return "timed-out"
	case Interrupted:
		return "interrupted"
	case WouldOverflow:
		return "would-overflow"
	case NotOwner:
		return "not-owner"
	case Deadlock:
		return "deadlock"
	case NotSupported:
		return "not-supported"
	case NoMemory:
		return "no-memory"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the concrete error type returned by every kernel operation
// that can fail. It carries a Kind for programmatic dispatch, a
// human-readable message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, so that
// errors.Is(err, kerrors.New(kerrors.Busy, "")) matches any Busy error
// regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err has the given Kind, looking through the
// cause chain via errors.As.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors for the common zero-message cases, for use with
// errors.Is.
var (
	ErrBusy          = New(Busy, "")
	ErrTimedOut      = New(TimedOut, "")
	ErrInterrupted   = New(Interrupted, "")
	ErrWouldOverflow = New(WouldOverflow, "")
	ErrNotOwner      = New(NotOwner, "")
	ErrDeadlock      = New(Deadlock, "")
	ErrNotSupported  = New(NotSupported, "")
	ErrNoMemory      = New(NoMemory, "")
)
