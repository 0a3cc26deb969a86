package primitives

import "context"

// WakeCause identifies why a parked caller was resumed.
type WakeCause int

const (
	WakeNormal WakeCause = iota
	WakeDestroyed
)

// InterruptState is the opaque "were interrupts enabled" token threaded
// through DisableInterrupts/RestoreInterrupts pairs.
type InterruptState uint32

// SchedHooks is the minimal scheduler surface the spinlock and semaphore
// need. internal/sched would naturally be this package's counterpart, but
// internal/sched's TCB embeds a ksignal.Table which itself embeds a
// primitives.SpinLock — importing internal/sched directly from here would
// close an import cycle. Instead internal/sched registers an implementation
// of this interface at package init time via RegisterSchedHooks, the same
// dependency-inversion shape the teacher uses for its Backend/Logger
// injection points.
type SchedHooks interface {
	// CurrentCPU returns the logical id of the calling goroutine's pinned CPU.
	CurrentCPU() int
	// DisableInterrupts disables interrupts on the current CPU and returns
	// the previous state so it can be restored later.
	DisableInterrupts() InterruptState
	// RestoreInterrupts restores a previously saved interrupt state.
	RestoreInterrupts(InterruptState)
	// CurrentThread returns an opaque handle to the calling goroutine's TCB.
	CurrentThread() any
	// SetWaiting marks a thread WAITING on the named resource.
	SetWaiting(thread any, resource string)
	// Park blocks the thread until woken or ctx is done, returning the wake
	// cause, or a non-nil error if ctx ended the wait first.
	Park(ctx context.Context, thread any) (WakeCause, error)
	// Wake transitions a parked thread back to READY with the given cause.
	Wake(thread any, cause WakeCause)
	// Priority returns a thread's current effective priority.
	Priority(thread any) int
	// SetEffectivePriority lowers (or restores) a thread's effective
	// priority, used for priority inheritance.
	SetEffectivePriority(thread any, priority int)
}

var hooks SchedHooks

// RegisterSchedHooks installs the scheduler's hook implementation. Called
// once from internal/sched's package init(), so any program importing
// internal/sched has hooks installed before its own code runs.
func RegisterSchedHooks(h SchedHooks) {
	hooks = h
}

// schedHooks panics if no scheduler has registered itself yet; every
// spinlock and semaphore call is only valid once hooks are installed.
func schedHooks() SchedHooks {
	if hooks == nil {
		panic("primitives: blocking operation used before primitives.RegisterSchedHooks")
	}
	return hooks
}
