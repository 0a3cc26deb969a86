package sched

import (
	"context"

	"github.com/roos-kernel/utk/internal/interrupt"
	"github.com/roos-kernel/utk/internal/ksignal"
	"github.com/roos-kernel/utk/internal/primitives"
	"github.com/roos-kernel/utk/internal/timer"
)

// active is the one Scheduler instance this process builds (there is
// exactly one simulated kernel core per process), set by New. The
// downstream packages' SchedHooks implementations below are registered at
// package init time, the same dependency-inversion seam primitives/timer/
// ksignal/interrupt each document, but they can only actually do anything
// once New has run.
var active *Scheduler

func init() {
	a := hookAdapter{}
	primitives.RegisterSchedHooks(a)
	timer.RegisterSchedHooks(a)
	ksignal.RegisterSchedHooks(a)
	interrupt.RegisterSchedHooks(a)
}

type hookAdapter struct{}

func (hookAdapter) CurrentCPU() int {
	if active == nil {
		return 0
	}
	return active.CurrentCPU()
}

func (hookAdapter) DisableInterrupts() primitives.InterruptState {
	if active == nil {
		return 0
	}
	return active.DisableInterrupts()
}

func (hookAdapter) RestoreInterrupts(s primitives.InterruptState) {
	if active == nil {
		return
	}
	active.RestoreInterrupts(s)
}

func (hookAdapter) CurrentThread() any {
	if active == nil {
		return nil
	}
	return active.CurrentThread()
}

func (hookAdapter) SetWaiting(thread any, resource string) {
	if active == nil {
		return
	}
	active.SetWaiting(thread, resource)
}

func (hookAdapter) Park(ctx context.Context, thread any) (primitives.WakeCause, error) {
	if active == nil {
		<-ctx.Done()
		return primitives.WakeNormal, ctx.Err()
	}
	return active.Park(ctx, thread)
}

func (hookAdapter) Wake(thread any, cause primitives.WakeCause) {
	if active == nil {
		return
	}
	active.Wake(thread, cause)
}

func (hookAdapter) Priority(thread any) int {
	if active == nil {
		return 0
	}
	return active.Priority(thread)
}

func (hookAdapter) SetEffectivePriority(thread any, priority int) {
	if active == nil {
		return
	}
	active.SetEffectivePriority(thread, priority)
}

func (hookAdapter) TickAllCPUs() {
	if active == nil {
		return
	}
	active.TickAllCPUs()
}

func (hookAdapter) ScheduleNoInt() {
	if active == nil {
		return
	}
	active.ScheduleNoInt()
}

func (hookAdapter) MaxTick() uint64 {
	if active == nil {
		return 0
	}
	return active.MaxTick()
}

func (hookAdapter) ThreadExit(thread any, cause string) {
	if active == nil {
		return
	}
	active.ThreadExit(thread, cause)
}

var (
	_ primitives.SchedHooks = hookAdapter{}
	_ timer.SchedHooks      = hookAdapter{}
	_ ksignal.SchedHooks    = hookAdapter{}
	_ interrupt.SchedHooks  = hookAdapter{}
)
