// Package syscall is the kernel-side syscall trampoline: look up a handler
// by ID and invoke it. A real trampoline saves a caller marker, switches
// stacks, and restores on return; there is no register frame to save or
// stack to switch in this core (every kernel thread is already a goroutine
// with its own Go stack), so that framing collapses to a plain function
// call — a deliberate simplification, not a dropped feature.
package syscall

import (
	"context"
	"time"

	"github.com/roos-kernel/utk/internal/errcode"
	"github.com/roos-kernel/utk/internal/sched"
)

// ID names one syscall trampoline entry point.
type ID int

const (
	Sleep ID = iota
	Yield
	Fork
)

// Handler implements one syscall entry point against the live scheduler.
type Handler func(s *sched.Scheduler, params any) (any, error)

// Table maps syscall IDs to their handlers, populated at Boot.
type Table map[ID]Handler

// SleepParams is Sleep's params payload.
type SleepParams struct {
	Ctx      context.Context
	Duration time.Duration
}

// NewTable returns the core's default syscall table.
func NewTable() Table {
	return Table{
		Sleep: sleepHandler,
		Yield: yieldHandler,
		Fork:  forkHandler,
	}
}

func sleepHandler(s *sched.Scheduler, params any) (any, error) {
	p, ok := params.(SleepParams)
	if !ok {
		return nil, errcode.IncorrectValue
	}
	ctx := p.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return nil, s.Sleep(ctx, p.Duration)
}

// yieldHandler re-runs the calling thread's own CPU's dispatch decision
// immediately rather than waiting for the next MAIN tick, the same
// fall-through the interrupt dispatcher takes once a handler returns.
func yieldHandler(s *sched.Scheduler, params any) (any, error) {
	s.ScheduleNoInt()
	return nil, nil
}

// forkHandler is a documented extension point: this core has no address
// space to copy, so fork is out of scope per the Non-goals carried from the
// distilled spec.
func forkHandler(s *sched.Scheduler, params any) (any, error) {
	return nil, errcode.NotSupported
}

// Perform looks up id's handler and calls it directly against s. The caller
// is always a kernel thread in this core — there is no user mode to check
// against — so the only failure mode at this layer is an unregistered ID.
func (t Table) Perform(s *sched.Scheduler, id ID, params any) (any, error) {
	h, ok := t[id]
	if !ok {
		return nil, errcode.NotRegistered
	}
	return h(s, params)
}
