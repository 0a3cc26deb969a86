// Package interrupt is the common interrupt dispatcher: it routes CPU
// interrupts to registered handlers, delegates IRQ masking/EOI/spurious
// detection to a pluggable controller driver, and provides a deferred-ISR
// work queue. Grounded on the teacher's queue.Runner completion-loop-plus-
// dispatch-table shape (processRequests/handleCompletion) and ctrl.Controller's
// single-bundle-installed-once pattern for the controller slot.
package interrupt

import (
	"context"

	"github.com/roos-kernel/utk/internal/constants"
	"github.com/roos-kernel/utk/internal/errcode"
	"github.com/roos-kernel/utk/internal/interfaces"
	"github.com/roos-kernel/utk/internal/kpanic"
	"github.com/roos-kernel/utk/internal/logging"
	"github.com/roos-kernel/utk/internal/primitives"
	"github.com/roos-kernel/utk/internal/vcpu"
)

// Handler is an interrupt-line handler.
type Handler func(frame *vcpu.Frame)

// Reserved line numbers. Both lie outside every Config's range: Main checks
// PanicLine itself, and nothing in this package consults SpuriousLine
// (spurious interrupts are detected by the bound controller's Classify).
const (
	PanicLine    = -1 // out-of-band: Main special-cases this before consulting the table
	SpuriousLine = -2
)

// Config names the line-number ranges of the simulated CPU. The handler
// table covers MinLine..MaxLine, and Register and Main accept only lines in
// that range; MinException and MaxException are stored but not consulted,
// so exception lines must also fall inside MinLine..MaxLine.
type Config struct {
	MinLine      int
	MaxLine      int
	MinException int
	MaxException int
}

type deferredCall struct {
	fn  func(arg any)
	arg any
}

// Dispatcher is the fixed-size interrupt handler table plus its controller
// binding and deferred-ISR queue.
type Dispatcher struct {
	cfg    Config
	lock   *primitives.SpinLock
	table  []Handler
	ctrl   interfaces.IRQController
	ctrlOK bool
	logger *logging.Logger

	deferredQueue chan deferredCall
	deferredSem   *primitives.Semaphore
}

// NewDispatcher returns a dispatcher sized by cfg, with an empty handler
// table and no bound controller.
func NewDispatcher(cfg Config, logger *logging.Logger) *Dispatcher {
	size := cfg.MaxLine - cfg.MinLine + 1
	if size < 0 {
		size = 0
	}
	return &Dispatcher{
		cfg:           cfg,
		lock:          primitives.NewSpinLock(),
		table:         make([]Handler, size),
		logger:        logger,
		deferredQueue: make(chan deferredCall, constants.MaxPendingDeferred),
		deferredSem:   primitives.NewSemaphore(0, primitives.DisciplineFIFO),
	}
}

func (d *Dispatcher) index(line int) (int, error) {
	if line < d.cfg.MinLine || line > d.cfg.MaxLine {
		return 0, errcode.UnauthorizedInterruptLine
	}
	return line - d.cfg.MinLine, nil
}

// SetController binds the IRQ controller driver. May be called exactly
// once; a second call triggers a Tier-3 panic in addition to returning an
// error, per the "a second attempt aborts" contract.
func (d *Dispatcher) SetController(ic interfaces.IRQController) error {
	d.lock.Acquire()
	already := d.ctrlOK
	if !already {
		d.ctrl = ic
		d.ctrlOK = true
	}
	d.lock.Release()

	if already {
		// kpanic.Trigger halts forever once it renders, so it runs on its
		// own goroutine: the halt still happens, but this call can still
		// report errcode.AlreadyExist to its caller rather than wedging
		// whichever goroutine made the duplicate SetController call.
		go kpanic.Trigger(kpanic.Context{
			Op:     "interrupt.SetController",
			Code:   errcode.AlreadyExist,
			Msg:    "interrupt controller already bound",
			Logger: d.logger,
		})
		return errcode.AlreadyExist
	}
	return nil
}

// Register installs h at line. Returns errcode.AlreadyExist if line already
// has a handler.
func (d *Dispatcher) Register(line int, h Handler) error {
	idx, err := d.index(line)
	if err != nil {
		return err
	}
	d.lock.Acquire()
	defer d.lock.Release()
	if d.table[idx] != nil {
		return errcode.AlreadyExist
	}
	d.table[idx] = h
	return nil
}

// Remove uninstalls line's handler. Returns errcode.NotRegistered if line
// had none.
func (d *Dispatcher) Remove(line int) error {
	idx, err := d.index(line)
	if err != nil {
		return err
	}
	d.lock.Acquire()
	defer d.lock.Release()
	if d.table[idx] == nil {
		return errcode.NotRegistered
	}
	d.table[idx] = nil
	return nil
}

// RegisterIRQ installs h for the line the bound controller maps irq to.
func (d *Dispatcher) RegisterIRQ(irq int, h Handler) error {
	line, err := d.controllerLine(irq)
	if err != nil {
		return err
	}
	return d.Register(line, h)
}

// RemoveIRQ uninstalls the handler for the line the bound controller maps
// irq to.
func (d *Dispatcher) RemoveIRQ(irq int) error {
	line, err := d.controllerLine(irq)
	if err != nil {
		return err
	}
	return d.Remove(line)
}

func (d *Dispatcher) controllerLine(irq int) (int, error) {
	d.lock.Acquire()
	ic, ok := d.ctrl, d.ctrlOK
	d.lock.Release()
	if !ok {
		return 0, errcode.NotRegistered
	}
	return ic.IRQToLine(irq), nil
}

// Disable disables interrupts on the current CPU, returning the previous
// state for Restore.
func (d *Dispatcher) Disable() primitives.State {
	return primitives.CriticalEnter()
}

// Restore restores a previously saved interrupt state.
func (d *Dispatcher) Restore(s primitives.State) {
	primitives.CriticalExit(s)
}

// MaskIRQ delegates to the bound controller.
func (d *Dispatcher) MaskIRQ(irq int, on bool) error {
	d.lock.Acquire()
	ic, ok := d.ctrl, d.ctrlOK
	d.lock.Release()
	if !ok {
		return errcode.NotRegistered
	}
	return ic.Mask(irq, on)
}

// EOI delegates to the bound controller.
func (d *Dispatcher) EOI(irq int) error {
	d.lock.Acquire()
	ic, ok := d.ctrl, d.ctrlOK
	d.lock.Release()
	if !ok {
		return errcode.NotRegistered
	}
	return ic.EOI(irq)
}

// Defer enqueues fn(arg) to run on the deferred-ISR worker thread. A nil fn
// is logged and dropped.
func (d *Dispatcher) Defer(fn func(arg any), arg any) {
	if fn == nil {
		if d.logger != nil {
			d.logger.Warnf("interrupt: Defer called with nil fn, dropping")
		}
		return
	}
	d.deferredQueue <- deferredCall{fn: fn, arg: arg}
	d.deferredSem.Post()
}

// RunDeferredWorker runs the deferred-ISR consumer loop until ctx is done.
// Intended to be the entry point of a dedicated highest-priority kernel
// thread created during Boot (kept out of this package so internal/interrupt
// never needs to import internal/sched).
func (d *Dispatcher) RunDeferredWorker(ctx context.Context) {
	for {
		if err := d.deferredSem.Wait(ctx); err != nil {
			return
		}
		select {
		case call := <-d.deferredQueue:
			call.fn(call.arg)
		default:
			// Semaphore says work is available but queue read lost the
			// race with a concurrent Defer; loop and wait again.
		}
	}
}

// Main is the vector entry: the interrupt-handling contract run on every
// simulated trap. It never itself returns an error; misbehavior routes to
// the panic handler per the Tier-3 contract.
func (d *Dispatcher) Main(frame *vcpu.Frame) {
	intNum := frame.IntNum()

	if intNum == PanicLine {
		go kpanic.Trigger(kpanic.Context{
			Op:     "interrupt.Main",
			Code:   errcode.IncorrectValue,
			Msg:    "panic line delivered",
			Frame:  frame,
			Logger: d.logger,
		})
		return
	}

	d.lock.Acquire()
	ic, ok := d.ctrl, d.ctrlOK
	d.lock.Release()

	if ok && ic.Classify(intNum) == interfaces.IRQSpurious {
		_ = ic.EOI(ic.IRQToLine(intNum))
		if hooks != nil {
			hooks.ScheduleNoInt()
		}
		return
	}

	idx, err := d.index(intNum)
	var handler Handler
	if err == nil {
		d.lock.Acquire()
		handler = d.table[idx]
		d.lock.Release()
	}

	if handler == nil {
		go kpanic.Trigger(kpanic.Context{
			Op:     "interrupt.Main",
			Code:   errcode.NotRegistered,
			Msg:    "no handler registered for delivered interrupt",
			Frame:  frame,
			Logger: d.logger,
		})
		return
	}

	handler(frame)

	if hooks != nil {
		hooks.ScheduleNoInt()
	}
}
