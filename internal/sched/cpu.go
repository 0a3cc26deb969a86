package sched

import (
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// cpuState is one simulated CPU's run-queue and accounting. Each is driven
// by its own dedicated goroutine, pinned with runtime.LockOSThread and
// (best-effort) CPU affinity the same way the teacher's queue.Runner.ioLoop
// pins itself to honor a real device's single-submitting-thread rule.
type cpuState struct {
	id int

	mu      sync.Mutex
	ready   readyBuckets
	current *TCB
	idle    *TCB

	quantumLeft int
	tickCount   uint64

	activeNs uint64
	idleNs   uint64
	lastTick time.Time

	released chan struct{}
	halt     chan struct{}
}

func newCPUState(id int) *cpuState {
	return &cpuState{
		id:       id,
		released: make(chan struct{}, 1),
		halt:     make(chan struct{}, 1),
		lastTick: time.Now(),
	}
}

// run is the per-CPU loop's goroutine body. It pins itself to an OS thread
// and (best-effort) to the matching CPU id, then idles waiting to be
// released once per MAIN tick. The dispatch bookkeeping itself runs
// synchronously inside Scheduler.Tick (called from TickAllCPUs/
// ScheduleNoInt) rather than here, so tests can drive a tick deterministically
// without racing this goroutine; release merely keeps the pinned loop
// observably alive, the way a real per-CPU thread would be woken by its
// local timer interrupt.
func (s *Scheduler) run(cpu *cpuState, stop <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var mask unix.CPUSet
	mask.Set(cpu.id)
	if err := unix.SchedSetaffinity(0, &mask); err != nil && s.logger != nil {
		s.logger.Debugf("sched: cpu %d: SchedSetaffinity failed (continuing without affinity): %v", cpu.id, err)
	}

	for {
		select {
		case <-stop:
			return
		case <-cpu.released:
		}
	}
}

// release wakes cpu's loop once, standing in for the tick interrupt landing
// on that CPU.
func (cpu *cpuState) release() {
	select {
	case cpu.released <- struct{}{}:
	default:
		// A release is already pending; ticks coalesce rather than queue.
	}
}
