package kernel

import "github.com/distortos-go/kernel/boot"

// initializers is the process-wide low-level initializer table (spec
// §4.11's BIND_LOW_LEVEL_INITIALIZER): components register themselves
// here, at package init time, with a priority; Start runs them all,
// lowest priority first, before the idle thread exists.
//
// boot.Registry is generic over its handle type specifically so boot
// never has to import kernel (which imports boot for NewIdleThread and
// DeferredDeleter) — this var is where that generic registry gets
// instantiated against the concrete *Kernel type the original's
// BIND_LOW_LEVEL_INITIALIZER_IMPLEMENTATION macro bakes in at
// expansion time.
var initializers = boot.NewRegistry[*Kernel]()

// RegisterInitializer adds fn to the low-level initializer table at
// priority (0-99 per spec §4.11, though nothing here enforces the
// range). Intended for package-level init() calls in components that
// need a boot-time hook, mirroring how the original's macro expands to
// a link-time-collected entry rather than an explicit function call
// site.
func RegisterInitializer(priority uint8, fn func(*Kernel) error) {
	initializers.Register(priority, fn)
}
