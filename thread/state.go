package thread

// Kind discriminates the ThreadState sum type (distortos spec §3).
type Kind int

const (
	// Created: stack initialized, not yet admitted to the scheduler.
	Created Kind = iota
	// Runnable: on a ready queue, or currently running.
	Runnable
	// SleepingUntil: linked on the sleep queue, waiting for a tick.
	SleepingUntil
	// BlockedOnSemaphore: linked on a semaphore's wait queue.
	BlockedOnSemaphore
	// BlockedOnMutex: linked on a mutex's wait queue.
	BlockedOnMutex
	// BlockedOnConditionVariable: linked on a condition variable's wait
	// queue.
	BlockedOnConditionVariable
	// BlockedOnFifoQueuePush: linked on a FIFO queue's push-wait queue.
	BlockedOnFifoQueuePush
	// BlockedOnFifoQueuePop: linked on a FIFO queue's pop-wait queue.
	BlockedOnFifoQueuePop
	// BlockedOnMessageQueuePush: linked on a message queue's push-wait
	// queue.
	BlockedOnMessageQueuePush
	// BlockedOnMessageQueuePop: linked on a message queue's pop-wait
	// queue.
	BlockedOnMessageQueuePop
	// WaitingForSignal: blocked in Receiver.WaitAny.
	WaitingForSignal
	// Terminated: thread function returned or was terminated; see
	// TerminationKind for the sub-state.
	Terminated
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Runnable:
		return "runnable"
	case SleepingUntil:
		return "sleeping-until"
	case BlockedOnSemaphore:
		return "blocked-on-semaphore"
	case BlockedOnMutex:
		return "blocked-on-mutex"
	case BlockedOnConditionVariable:
		return "blocked-on-condition-variable"
	case BlockedOnFifoQueuePush:
		return "blocked-on-fifo-queue-push"
	case BlockedOnFifoQueuePop:
		return "blocked-on-fifo-queue-pop"
	case BlockedOnMessageQueuePush:
		return "blocked-on-message-queue-push"
	case BlockedOnMessageQueuePop:
		return "blocked-on-message-queue-pop"
	case WaitingForSignal:
		return "waiting-for-signal"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TerminationKind refines the Terminated state.
type TerminationKind int

const (
	// JoinableTerminated: function returned, nobody has joined yet, and
	// the thread was never detached.
	JoinableTerminated TerminationKind = iota
	// Joined: a caller observed the termination via Join.
	Joined
	// Detached: storage reclamation was handed to the deferred deleter.
	Detached
)

// State is the ThreadState sum type. Blocked* variants carry the
// blocking primitive in Target as an opaque value (thread cannot import
// ksync/queue/signal without a cycle); callers that need the concrete
// type know it from Kind and assert it themselves.
type State struct {
	Kind Kind

	// Tick is valid when Kind == SleepingUntil: the tick at or after
	// which the sleeper becomes Runnable again.
	Tick uint64

	// Target is valid for every Blocked* kind: the primitive the thread
	// is waiting on.
	Target any

	// ExitCode and Termination are valid when Kind == Terminated.
	ExitCode    int
	Termination TerminationKind
}

// IsBlocked reports whether the state is one of the Blocked* variants.
func (s State) IsBlocked() bool {
	switch s.Kind {
	case BlockedOnSemaphore, BlockedOnMutex, BlockedOnConditionVariable,
		BlockedOnFifoQueuePush, BlockedOnFifoQueuePop,
		BlockedOnMessageQueuePush, BlockedOnMessageQueuePop,
		WaitingForSignal:
		return true
	default:
		return false
	}
}
