package utk

import (
	"errors"
	"fmt"

	"github.com/roos-kernel/utk/internal/errcode"
)

// Error is the core's structured error type, wrapping an errcode.Code with
// the context needed to report it usefully: which operation, which thread,
// which CPU. Grounded on the teacher's Error/UblkErrorCode pair, with
// DevID/Queue/Errno swapped for ThreadID/CPU since this core has no device
// or queue numbers and no syscall errno to carry.
type Error struct {
	Op       string       // operation that failed, e.g. "sched.CreateKernelThread"
	ThreadID uint64       // 0 if not applicable
	CPU      int          // -1 if not applicable
	Code     errcode.Code // high-level error category
	Msg      string       // human-readable message
	Inner    error        // wrapped error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ThreadID != 0 {
		parts = append(parts, fmt.Sprintf("thread=%d", e.ThreadID))
	}
	if e.CPU >= 0 {
		parts = append(parts, fmt.Sprintf("cpu=%d", e.CPU))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("utk: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("utk: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison both against another *Error (by Code)
// and against a bare errcode.Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if code, ok := target.(errcode.Code); ok {
		return e.Code == code
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error with no thread/CPU context.
func NewError(op string, code errcode.Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, CPU: -1}
}

// NewThreadError creates a structured error attributed to a specific
// thread and CPU.
func NewThreadError(op string, threadID uint64, cpu int, code errcode.Code, msg string) *Error {
	return &Error{Op: op, ThreadID: threadID, CPU: cpu, Code: code, Msg: msg}
}

// WrapError wraps an existing error with operation context, preserving the
// inner error's Code if it is already a structured *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ue, ok := inner.(*Error); ok {
		return &Error{
			Op:       op,
			ThreadID: ue.ThreadID,
			CPU:      ue.CPU,
			Code:     ue.Code,
			Msg:      ue.Msg,
			Inner:    ue.Inner,
		}
	}
	code := errcode.NoErr
	if c, ok := inner.(errcode.Code); ok {
		code = c
	}
	return &Error{Op: op, CPU: -1, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code errcode.Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return errors.Is(err, code)
}
