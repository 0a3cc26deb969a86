package constants

import "time"

// Default boot configuration constants.
const (
	// DefaultNumCPUs is the number of simulated CPUs brought up when a
	// caller doesn't specify one.
	DefaultNumCPUs = 4

	// DefaultQuantumTicks is how many MAIN ticks an equal-priority thread
	// runs before round-robining to the next ready thread on its CPU.
	DefaultQuantumTicks = 5

	// DefaultPriority is a priority for callers with no particular
	// scheduling need, one band below the midpoint so unprioritized work
	// doesn't starve latency-sensitive threads. CreateKernelThread always
	// takes an explicit priority and does not apply this value itself.
	DefaultPriority = 32
)

// Timing constants for boot and shutdown sequencing.
//
// Boot wires timer -> sched -> interrupt in that order, then starts the
// MAIN tick source as soon as a reference PIT is bound; it does not wait
// for any subsystem to report ready. Neither Boot nor Shutdown reads the
// two constants below.
const (
	// BootSettleDelay is a settle interval between wiring the scheduler
	// and interrupt dispatcher and starting the MAIN tick source. Boot
	// does not wait for it.
	BootSettleDelay = 5 * time.Millisecond

	// ShutdownGracePeriod is a bound on how long shutdown may wait for
	// per-CPU loops and the deferred-ISR worker to stop. Shutdown does not
	// apply it: Scheduler.Shutdown waits for the per-CPU loops without a
	// time limit.
	ShutdownGracePeriod = 2 * time.Second
)

// MaxPendingDeferred bounds the deferred-ISR work queue depth; a handler
// that queues work faster than the worker drains it past this bound means
// something downstream is stuck, not that the queue needs to be bigger.
const MaxPendingDeferred = 256
