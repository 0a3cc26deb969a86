package utk

import (
	"context"
	"io"
	"time"

	"github.com/roos-kernel/utk/internal/console"
	"github.com/roos-kernel/utk/internal/devicetree"
	"github.com/roos-kernel/utk/internal/driver"
	"github.com/roos-kernel/utk/internal/driver/refpic"
	"github.com/roos-kernel/utk/internal/driver/refpit"
	"github.com/roos-kernel/utk/internal/errcode"
	"github.com/roos-kernel/utk/internal/exception"
	"github.com/roos-kernel/utk/internal/interrupt"
	"github.com/roos-kernel/utk/internal/ksignal"
	"github.com/roos-kernel/utk/internal/logging"
	"github.com/roos-kernel/utk/internal/sched"
	"github.com/roos-kernel/utk/internal/syscall"
	"github.com/roos-kernel/utk/internal/timer"
)

// deferredWorkerStackSize is the simulated stack handed to the dedicated
// deferred-ISR kernel thread Boot spins up.
const deferredWorkerStackSize = sched.PageSize

// deferredWorkerPriority is the priority assigned to the deferred-ISR
// worker: numerically below every ordinary thread's default so it always
// preempts, the same "always-wins" slot the teacher reserves for its
// completion-draining goroutine.
const deferredWorkerPriority = 0

// InterruptConfig mirrors interrupt.Config, re-exported so callers never
// need to import internal/interrupt directly to call Boot.
type InterruptConfig = interrupt.Config

// Options carries the pieces of Boot that have sensible defaults: where to
// log, where to send metrics events, and the context whose cancellation
// tears the core back down. Mirrors the teacher's Options{Logger, ...}
// triad (§4.C of SPEC_FULL.md).
type Options struct {
	Context  context.Context
	Logger   *logging.Logger
	Observer Observer

	// ConsoleIn/ConsoleOut wire the kernel's console abstraction to an
	// explicit input/output pair. If both are nil, Boot builds one from the
	// device tree's "console" node (falling back to stdin/stderr), matching
	// §4.J.
	ConsoleIn  io.Reader
	ConsoleOut io.Writer

	// Interrupts configures the dispatcher's line-number ranges. The zero
	// value is rejected; callers must size it to their device tree.
	Interrupts InterruptConfig
}

// Kernel is the running core: every subsystem Boot wired together, kept
// alive so Shutdown can tear it back down in reverse. Grounded on the
// teacher's Device, the single handle CreateAndServe/StopAndDelete operate
// on.
type Kernel struct {
	Scheduler  *sched.Scheduler
	Timer      *timer.Layer
	Interrupts *interrupt.Dispatcher
	Drivers    *driver.Manager
	Syscalls   syscall.Table
	Console    *console.Console
	Metrics    *Metrics
	Observer   Observer

	deviceTree *devicetree.Node
	attached   []driver.AttachResult

	cancel context.CancelFunc
}

// kernelExceptionHooks adapts *sched.Scheduler to exception.Hooks without
// internal/exception needing to import internal/sched.
type kernelExceptionHooks struct {
	s *sched.Scheduler
}

func (h kernelExceptionHooks) CurrentThread() any {
	return h.s.CurrentThread()
}

func (h kernelExceptionHooks) SignalTable(thread any) *ksignal.Table {
	tcb, ok := thread.(*sched.TCB)
	if !ok || tcb == nil {
		return nil
	}
	return tcb.Signals()
}

// Boot wires timer, scheduler, interrupt dispatcher, exception handlers,
// and the driver manager together in the order the teacher's
// CreateAndServe establishes its queue/ctrl/backend triad: timer first (it
// has no dependents yet), then the scheduler (which needs the timer to
// drive its ticks), then the interrupt dispatcher and the exception
// handlers riding on top of it, then the driver manager, which walks tree
// and attaches concrete drivers (including the reference MAIN timer and
// PIC if the tree names them); any attached reference PIT is bound into
// the timer layer and driven off a wall-clock goroutine, and any attached
// reference PIC is bound into the dispatcher via SetController. The
// deferred-ISR worker is started last, as the first real kernel thread to
// exist.
func Boot(ctx context.Context, params sched.BootParams, tree *devicetree.Node, options *Options) (*Kernel, error) {
	if options == nil {
		options = &Options{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if options.Interrupts.MaxLine < options.Interrupts.MinLine {
		return nil, NewError("Boot", errcode.IncorrectValue, "interrupt config MaxLine < MinLine")
	}
	if tree == nil {
		tree = devicetree.NewNode("root")
	}

	logger := options.Logger
	observer := options.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}
	metrics := NewMetrics()

	bootCtx, cancel := context.WithCancel(ctx)

	tl := timer.NewLayer()
	scheduler := sched.New(params, tl, logger)

	dispatcher := interrupt.NewDispatcher(options.Interrupts, logger)

	if err := exception.Init(dispatcher, kernelExceptionHooks{s: scheduler}); err != nil {
		cancel()
		scheduler.Shutdown()
		return nil, WrapError("Boot.exception.Init", err)
	}

	driverMgr := driver.NewManager(logger)
	attached := driverMgr.Walk(tree)

	if pit := refpit.Instance(); pit != nil {
		if err := tl.AddTimer(pit, timer.SlotMain); err != nil {
			cancel()
			scheduler.Shutdown()
			return nil, WrapError("Boot.AddTimer", err)
		}
		go driveReferencePIT(bootCtx, pit)
	}

	if pic := refpic.Instance(); pic != nil {
		if err := dispatcher.SetController(pic); err != nil {
			cancel()
			scheduler.Shutdown()
			return nil, WrapError("Boot.SetController", err)
		}
	}

	con := buildConsole(tree, options)
	if logger != nil {
		logger.SetOutput(con)
	}

	syscalls := syscall.NewTable()

	k := &Kernel{
		Scheduler:  scheduler,
		Timer:      tl,
		Interrupts: dispatcher,
		Drivers:    driverMgr,
		Syscalls:   syscalls,
		Console:    con,
		Metrics:    metrics,
		Observer:   observer,
		deviceTree: tree,
		attached:   attached,
		cancel:     cancel,
	}

	if _, err := scheduler.CreateKernelThread(
		deferredWorkerPriority,
		"deferred-isr-worker",
		deferredWorkerStackSize,
		sched.NewCPUSet(0),
		func(arg any) { dispatcher.RunDeferredWorker(bootCtx) },
		nil,
	); err != nil {
		cancel()
		scheduler.Shutdown()
		return nil, WrapError("Boot.CreateKernelThread", err)
	}
	metrics.RecordThreadCreated()
	observer.ObserveThreadCreated("deferred-isr-worker", deferredWorkerPriority)

	return k, nil
}

// driveReferencePIT stands in for the MAIN timer interrupt line a real PIT
// would raise on its own: the software model only advances when Fire is
// called, so Boot drives it off a wall-clock ticker at the driver's
// configured frequency until ctx is cancelled.
func driveReferencePIT(ctx context.Context, pit *refpit.Timer) {
	period := time.Second / time.Duration(pit.Frequency())
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pit.Fire()
		}
	}
}

// buildConsole wires a Console from options' explicit reader/writer, or,
// failing that, from the device tree's "console" node's inputdev/outputdev
// properties, falling back to stdin/stderr per §4.J.
func buildConsole(tree *devicetree.Node, options *Options) *console.Console {
	if options.ConsoleIn != nil || options.ConsoleOut != nil {
		return console.New(options.ConsoleIn, options.ConsoleOut)
	}

	var consoleNode *devicetree.Node
	tree.Walk(func(n *devicetree.Node) bool {
		if n.Name() == "console" {
			consoleNode = n
			return false
		}
		return true
	})
	if consoleNode == nil {
		return console.New(nil, nil)
	}
	// The device tree carries device names as strings, not live io.Reader/
	// io.Writer values; a real console driver would resolve "inputdev"/
	// "outputdev" to an attached device. Absent a hardware backend, Boot
	// just falls back to stdin/stderr, same as when no console node exists
	// at all.
	return console.New(nil, nil)
}

// AttachResults returns the driver-manager's attach outcome for every
// device-tree node Boot walked, for callers that want to confirm which
// drivers actually bound.
func (k *Kernel) AttachResults() []driver.AttachResult {
	out := make([]driver.AttachResult, len(k.attached))
	copy(out, k.attached)
	return out
}

// Shutdown tears the core down in reverse of Boot: cancels the deferred-ISR
// worker's context, stops the scheduler's per-CPU loops, and marks metrics
// stopped. Mirrors the teacher's StopAndDelete.
func Shutdown(ctx context.Context, k *Kernel) error {
	if k == nil {
		return NewError("Shutdown", errcode.NullPointer, "nil kernel")
	}
	if k.cancel != nil {
		k.cancel()
	}
	k.Scheduler.Shutdown()
	k.Metrics.Stop()
	return nil
}
