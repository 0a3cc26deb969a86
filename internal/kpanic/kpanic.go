// Package kpanic implements the core's last-resort invariant-break path:
// freeze the system, dump the faulting context, optionally signal a test
// harness, then halt. It deliberately has no dependency on internal/sched
// or internal/interrupt — every other core package (primitives, interrupt,
// exception, sched) calls into this one, so for it to call back into any of
// them would close an import cycle. Trigger instead takes everything it
// needs to render as plain data in its Context argument.
package kpanic

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/roos-kernel/utk/internal/console"
	"github.com/roos-kernel/utk/internal/errcode"
	"github.com/roos-kernel/utk/internal/logging"
	"github.com/roos-kernel/utk/internal/vcpu"
)

// MaxFrames bounds the best-effort Go stack trace rendered in place of a
// native backtrace (a REDESIGN note: a real kernel panic walks saved frame
// pointers; this core has no such thing, so runtime.Callers stands in).
const MaxFrames = 32

// Context carries everything Trigger needs to render a panic report. The
// caller (internal/sched, internal/interrupt, internal/exception, ...)
// gathers these fields itself rather than kpanic reaching back into
// whichever package is panicking.
type Context struct {
	Op         string
	Code       errcode.Code
	Msg        string
	Inner      error
	Frame      *vcpu.Frame
	ThreadName string
	ThreadID   uint64
	CPU        int
	UptimeNs   uint64

	// Console, if set, receives the report in ModeReport. Logger is used
	// when Console is nil, and os.Stderr if both are nil.
	Console *console.Console
	Logger  *logging.Logger

	// TestMode, when true, causes Trigger to invoke TestExit after
	// rendering — standing in for the real port-0x604 QEMU shutdown
	// sequence — before halting.
	TestMode bool
	TestExit func()
}

var triggered int32

// Trigger renders ctx and halts. It never returns in the ordinary sense:
// after rendering (and, in TestMode, calling ctx.TestExit), it blocks
// forever. A re-entrant call — this core panicking while already halted —
// is detected via an atomic flag and logs-then-blocks instead of
// re-rendering.
func Trigger(ctx Context) {
	if !atomic.CompareAndSwapInt32(&triggered, 0, 1) {
		writeLine(ctx, "kpanic: re-entrant Trigger call, ignoring and halting")
		select {}
	}

	if ctx.Console != nil {
		ctx.Console.SwitchMode(console.ModeReport)
	}

	render(ctx)

	if ctx.TestMode && ctx.TestExit != nil {
		ctx.TestExit()
	}

	select {}
}

func render(ctx Context) {
	writeLine(ctx, "=== KERNEL PANIC ===")
	writeLine(ctx, fmt.Sprintf("op=%s code=%s msg=%s", ctx.Op, ctx.Code, ctx.Msg))
	if ctx.Inner != nil {
		writeLine(ctx, fmt.Sprintf("inner=%v", ctx.Inner))
	}
	writeLine(ctx, fmt.Sprintf("thread=%s(%d) cpu=%d uptime_ns=%d", ctx.ThreadName, ctx.ThreadID, ctx.CPU, ctx.UptimeNs))
	if ctx.Frame != nil {
		writeLine(ctx, fmt.Sprintf("ip=%#x flags=%#x error_code=%#x int=%d frame_cpu=%d",
			ctx.Frame.IP(), ctx.Frame.Flags(), ctx.Frame.ErrorCode(), ctx.Frame.IntNum(), ctx.Frame.CPU()))
	}
	for _, line := range backtrace() {
		writeLine(ctx, line)
	}
}

func backtrace() []string {
	pcs := make([]uintptr, MaxFrames)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var lines []string
	for {
		frame, more := frames.Next()
		lines = append(lines, fmt.Sprintf("  %s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return lines
}

func writeLine(ctx Context, line string) {
	switch {
	case ctx.Console != nil:
		ctx.Console.Print(line + "\n")
	case ctx.Logger != nil:
		ctx.Logger.Error(line)
	default:
		fmt.Fprintln(os.Stderr, line)
	}
}

// resetForTest clears the one-shot guard so _test.go files in this package
// can exercise Trigger more than once per test binary.
func resetForTest() {
	atomic.StoreInt32(&triggered, 0)
}
