// Package errcode defines the stable error taxonomy shared by every kernel
// subsystem, mirroring the flat enum a C core would use but collapsed into a
// single tagged kind per subsystem (see DESIGN.md for the OR_/OS_ note).
package errcode

// Code is a high-level error category, stable across subsystems. Code
// itself satisfies the error interface so a bare Code value can be returned
// or compared with errors.Is without requiring the caller to reach for the
// richer top-level Error wrapper.
type Code string

// Error implements the error interface.
func (c Code) Error() string {
	return string(c)
}

const (
	NoErr                      Code = "no error"
	NullPointer                Code = "null pointer"
	IncorrectValue             Code = "incorrect value"
	OutOfBound                 Code = "out of bound"
	NoMoreMemory               Code = "no more memory"
	AlreadyExist               Code = "already exists"
	NotRegistered              Code = "not registered"
	NoSuchID                   Code = "no such id"
	NoSuchIRQ                  Code = "no such irq"
	UnauthorizedInterruptLine  Code = "unauthorized interrupt line"
	UnauthorizedAction         Code = "unauthorized action"
	ForbiddenPriority          Code = "forbidden priority"
	InterruptAlreadyRegistered Code = "interrupt already registered"
	Destroyed                  Code = "destroyed"
	Blocked                    Code = "would block"
	NotSupported               Code = "not supported"
)
