package sched

import "time"

// tickResumeIntNum marks a frame snapshot as having been taken by Tick's own
// dispatch bookkeeping rather than a real CPU trap or IRQ line, so debug
// rendering can tell the two apart.
const tickResumeIntNum = -3

// Tick runs one cpu's dispatch decision: account the elapsed wall-clock
// slice as active or idle, decrement the running thread's quantum, and
// switch to a new thread if the quantum expired or a strictly
// higher-priority thread is now ready. Safe to call directly (bypassing the
// per-CPU loop goroutine) so tests can drive scheduling deterministically.
func (s *Scheduler) Tick(cpuID int) {
	cpu := s.cpuFor(cpuID)
	if cpu == nil {
		return
	}

	cpu.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(cpu.lastTick)
	cpu.lastTick = now
	if cpu.current != nil && cpu.current != cpu.idle {
		cpu.activeNs += uint64(elapsed.Nanoseconds())
	} else {
		cpu.idleNs += uint64(elapsed.Nanoseconds())
	}
	cpu.tickCount++

	cur := cpu.current
	best := cpu.ready.lowestNonEmpty()

	preempt := false
	switch {
	case cur == nil:
		preempt = true
	case cur == cpu.idle:
		preempt = best >= 0
	case best >= 0 && best < cur.currentPrio:
		preempt = true
	default:
		cpu.quantumLeft--
		if cpu.quantumLeft <= 0 && best >= 0 && best <= cur.currentPrio {
			preempt = true
		}
	}

	if preempt {
		if cur != nil && cur != cpu.idle {
			cur.lock.Acquire()
			cur.state = StateReady
			cur.frame.SetCPU(cpu.id)
			cur.frame.SetIntNum(tickResumeIntNum)
			cur.lock.Release()
			cpu.ready.pushBack(cur)
		}
		next := cpu.ready.popFront(cpu.ready.lowestNonEmpty())
		if next == nil {
			next = cpu.idle
		}
		cpu.current = next
		cpu.quantumLeft = s.params.QuantumTicks
		if next != nil {
			next.lock.Acquire()
			next.state = StateRunning
			next.lastCPU = cpu.id
			next.frame.SetCPU(cpu.id)
			next.frame.SetIntNum(tickResumeIntNum)
			next.lock.Release()
		}
	}

	resumed := cpu.current
	cpu.mu.Unlock()

	// DispatchOnReturn models "immediately before resuming a thread after any
	// interrupt/preemption": it must run with no scheduler lock held, since
	// the default fatal handlers call back into ThreadExit/exit, which takes
	// this same cpu's lock. Run on every tick against whichever thread ends
	// up current, not only on an actual context switch, the same way a real
	// timer-interrupt return dispatches pending signals whether or not the
	// interrupt itself caused a reschedule.
	if resumed != nil && resumed != cpu.idle {
		resumed.signals.DispatchOnReturn(resumed, &resumed.frame, nil)
	}

	cpu.release()
}

// TickAllCPUs drains the sleep queue and ticks every CPU, the timer layer's
// per-MAIN-tick callback.
func (s *Scheduler) TickAllCPUs() {
	now := uint64(0)
	if s.timer != nil {
		now = s.timer.UptimeNs()
	}
	s.drainSleepQueue(now)

	for _, cpu := range s.cpus {
		s.Tick(cpu.id)
	}
}

// ScheduleNoInt re-evaluates the calling goroutine's own CPU, the
// fall-through an interrupt dispatcher takes once a handler returns.
func (s *Scheduler) ScheduleNoInt() {
	s.Tick(s.CurrentCPU())
}

// MaxTick returns the highest per-CPU tick counter across all CPUs.
func (s *Scheduler) MaxTick() uint64 {
	var max uint64
	for _, cpu := range s.cpus {
		cpu.mu.Lock()
		if cpu.tickCount > max {
			max = cpu.tickCount
		}
		cpu.mu.Unlock()
	}
	return max
}
