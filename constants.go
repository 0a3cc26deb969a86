package utk

import (
	"github.com/roos-kernel/utk/internal/constants"
	"github.com/roos-kernel/utk/internal/sched"
)

// Re-export constants for public API
const (
	DefaultNumCPUs      = constants.DefaultNumCPUs
	DefaultQuantumTicks = constants.DefaultQuantumTicks
	DefaultPriority     = constants.DefaultPriority

	PageSize     = sched.PageSize
	MaxStackSize = sched.MaxStackSize
	PriorityIdle = sched.PriorityIdle
)
