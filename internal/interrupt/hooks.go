package interrupt

// SchedHooks is the scheduler surface Main needs once it has finished
// routing an interrupt. internal/sched imports internal/interrupt (its
// hooks.go registers this very interface), so internal/interrupt cannot
// import internal/sched back to make this call itself without a cycle;
// internal/sched registers an implementation at init instead.
type SchedHooks interface {
	ScheduleNoInt()
}

var hooks SchedHooks

// RegisterSchedHooks installs the scheduler's hook implementation.
func RegisterSchedHooks(h SchedHooks) {
	hooks = h
}
