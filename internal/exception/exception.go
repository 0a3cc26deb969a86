// Package exception is a thin layer over internal/interrupt: it reserves a
// handful of exception lines for CPU-raised faults and translates each one
// into a ksignal raise on the current thread rather than running any fault
// recovery logic itself. Grounded on the same queue.Runner dispatch shape
// internal/interrupt borrows from the teacher, scaled down to four stub
// handlers.
package exception

import (
	"github.com/roos-kernel/utk/internal/interrupt"
	"github.com/roos-kernel/utk/internal/ksignal"
	"github.com/roos-kernel/utk/internal/vcpu"
)

// Reserved exception lines. Init registers them at these absolute line
// numbers, so a Dispatcher's Config.MinLine..MaxLine must cover 0..3;
// Config.MinException and MaxException are not consulted.
const (
	DivByZeroLine = iota
	IllegalInstructionLine
	GeneralProtectionLine
	PageFaultLine
)

// Hooks is the surface Init needs to turn a trap into a signal raise on
// whichever thread is current at the time the exception landed. Kept as a
// narrow interface (rather than importing internal/sched directly) so this
// package only ever depends downward into interrupt/ksignal/vcpu.
type Hooks interface {
	// CurrentThread returns the opaque handle for the currently running
	// thread, the same handle type ksignal.Table.DispatchOnReturn expects.
	CurrentThread() any
	// SignalTable returns the ksignal.Table for thread.
	SignalTable(thread any) *ksignal.Table
}

// Init registers the four stub exception handlers on d, each translating
// its trap into a ksignal raise against the thread current at fault time.
func Init(d *interrupt.Dispatcher, hooks Hooks) error {
	if err := d.Register(DivByZeroLine, divByZeroHandler(hooks)); err != nil {
		return err
	}
	if err := d.Register(IllegalInstructionLine, raiseHandler(hooks, ksignal.SigIll)); err != nil {
		return err
	}
	if err := d.Register(GeneralProtectionLine, raiseHandler(hooks, ksignal.SigSegv)); err != nil {
		return err
	}
	if err := d.Register(PageFaultLine, raiseHandler(hooks, ksignal.SigSegv)); err != nil {
		return err
	}
	return nil
}

// divByZeroHandler's guard is written as "if intID != DivByZeroLine return"
// rather than the inverted form, preserving the apparent intent of the
// legacy assertion this stub is modeled on (see DESIGN.md).
func divByZeroHandler(hooks Hooks) interrupt.Handler {
	return func(frame *vcpu.Frame) {
		intID := frame.IntNum()
		if intID != DivByZeroLine {
			return
		}
		raise(hooks, frame, ksignal.SigFPE)
	}
}

func raiseHandler(hooks Hooks, kind ksignal.Kind) interrupt.Handler {
	return func(frame *vcpu.Frame) {
		raise(hooks, frame, kind)
	}
}

// raise sets kind pending on the current thread's signal table and
// dispatches it immediately: this handler running IS the trap's interrupt
// return point, so there is no later "return from interrupt" boundary to
// defer to the way an IRQ-sourced signal would have.
func raise(hooks Hooks, frame *vcpu.Frame, kind ksignal.Kind) {
	thread := hooks.CurrentThread()
	table := hooks.SignalTable(thread)
	if table == nil {
		return
	}
	if err := table.Raise(kind, false); err != nil {
		return
	}
	table.DispatchOnReturn(thread, frame, nil)
}

// RaiseTrap is a test-only entry point standing in for a real CPU trap: it
// builds a frame carrying line and feeds it straight to d.Main, exercising
// the exact path a hardware exception would take.
func RaiseTrap(d *interrupt.Dispatcher, line int) {
	var frame vcpu.Frame
	frame.SetIntNum(line)
	d.Main(&frame)
}
