package kernel

import "github.com/distortos-go/kernel/thread"

// Config holds every knob that was a compile-time macro in the
// original (BUILD_CONFIGURATION.cmake, distortosConfiguration.h):
// signal support, thread detach support, main/idle thread shape, the
// tick rate, and the default round-robin quantum.
type Config struct {
	SignalsEnabled     bool
	ThreadDetachEnable bool

	MainThreadPriority  thread.Priority
	MainThreadStackSize int

	TickFrequencyHz int

	RoundRobinQuantumTicks int

	// MaxSignalNumber is fixed at 31 (signal.MaxSignalNumber); kept here
	// only so it appears alongside the other knobs it was specified
	// with, rather than because it's actually configurable.
	MaxSignalNumber int

	RecursiveMutexMaxRecursion int

	StackGuardSize int
}

func defaultConfig() Config {
	return Config{
		SignalsEnabled:             true,
		ThreadDetachEnable:         true,
		MainThreadPriority:         10,
		MainThreadStackSize:        0,
		TickFrequencyHz:            1000,
		RoundRobinQuantumTicks:     10,
		MaxSignalNumber:            31,
		RecursiveMutexMaxRecursion: 0,
		StackGuardSize:             0,
	}
}

// Option configures a Kernel at construction, mirroring
// eventloop.LoopOption / resolveLoopOptions' "validating functional
// option" pattern: each Option is applied in order against a Config,
// and may itself fail (a bad combination of knobs is a configuration
// error, not a panic).
type Option interface {
	apply(*Config) error
}

type optionFunc func(*Config) error

func (f optionFunc) apply(cfg *Config) error { return f(cfg) }

// WithSignalsEnabled records Config.SignalsEnabled. Nothing in this
// module reads the field: signal receivers work the same whether it is
// true or false.
func WithSignalsEnabled(enabled bool) Option {
	return optionFunc(func(cfg *Config) error {
		cfg.SignalsEnabled = enabled
		return nil
	})
}

// WithThreadDetachEnable toggles whether Thread.Detach is permitted;
// when false, Detach always returns kerrors.ErrNotSupported.
func WithThreadDetachEnable(enabled bool) Option {
	return optionFunc(func(cfg *Config) error {
		cfg.ThreadDetachEnable = enabled
		return nil
	})
}

// WithMainThreadPriority sets the priority the idle thread's
// complement — the thread driving the boot goroutine itself, if the
// caller wraps it via NewStaticThread — is typically created at.
func WithMainThreadPriority(p thread.Priority) Option {
	return optionFunc(func(cfg *Config) error {
		cfg.MainThreadPriority = p
		return nil
	})
}

// WithTickFrequencyHz records the rate Tick is expected to be called
// at; purely informational; nothing in this package calls a real
// timer.
func WithTickFrequencyHz(hz int) Option {
	return optionFunc(func(cfg *Config) error {
		if hz <= 0 {
			return errInvalidConfig("TickFrequencyHz must be positive")
		}
		cfg.TickFrequencyHz = hz
		return nil
	})
}

// WithRoundRobinQuantumTicks sets the default quantum NewDynamicThread
// uses for RoundRobin threads that don't specify their own.
func WithRoundRobinQuantumTicks(ticks int) Option {
	return optionFunc(func(cfg *Config) error {
		if ticks <= 0 {
			return errInvalidConfig("RoundRobinQuantumTicks must be positive")
		}
		cfg.RoundRobinQuantumTicks = ticks
		return nil
	})
}

// WithRecursiveMutexMaxRecursion records
// Config.RecursiveMutexMaxRecursion. Nothing in this module reads the
// field: a recursive mutex's bound is the one passed to
// ksync.NewRecursive.
func WithRecursiveMutexMaxRecursion(max int) Option {
	return optionFunc(func(cfg *Config) error {
		cfg.RecursiveMutexMaxRecursion = max
		return nil
	})
}

func resolveOptions(opts []Option) (Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(&cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
