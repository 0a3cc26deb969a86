package sched

import (
	"fmt"

	"github.com/roos-kernel/utk/internal/ksignal"
	"github.com/roos-kernel/utk/internal/primitives"
	"github.com/roos-kernel/utk/internal/vcpu"
)

// State is a thread's position in the scheduling FSM.
type State int

const (
	StateReady State = iota
	StateRunning
	StateSleeping
	StateWaiting
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateSleeping:
		return "SLEEPING"
	case StateWaiting:
		return "WAITING"
	case StateZombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// Cause labels why a thread reached ZOMBIE. It doubles as the string the
// ksignal default handlers pass through SchedHooks.ThreadExit, so this core
// collapses "cause" and "terminal state" into the one field the distilled
// spec's "cause, state" pair would have carried separately.
type Cause string

const (
	CauseCorrect   Cause = "correct"
	CauseKilled    Cause = "killed"
	CauseSegv      Cause = "segv"
	CauseFPE       Cause = "fpe"
	CauseIll       Cause = "illegal-instruction"
	CauseDestroyed Cause = "destroyed"
)

// CPUSet is a bitset of logical CPU ids, never empty for a live thread.
type CPUSet uint64

// NewCPUSet returns a CPUSet with exactly the given CPU ids set.
func NewCPUSet(cpus ...int) CPUSet {
	var s CPUSet
	for _, c := range cpus {
		s |= 1 << uint(c)
	}
	return s
}

// AllCPUs returns a CPUSet with the first n CPU ids set.
func AllCPUs(n int) CPUSet {
	var s CPUSet
	for i := 0; i < n; i++ {
		s |= 1 << uint(i)
	}
	return s
}

// Has reports whether cpu is a member of the set.
func (s CPUSet) Has(cpu int) bool { return s&(1<<uint(cpu)) != 0 }

// Resource is something a thread owns and that must be released when it
// exits — the FIFO drained by ThreadExit.
type Resource interface {
	Release() error
}

// TCB is a single kernel thread's control block: identity, scheduling
// policy, its simulated stack and trap-frame snapshot, FSM state, and the
// bookkeeping ThreadExit/Join need. Grounded on the teacher's per-tag state
// (internal/queue/runner.go's tagStates/tagMutexes) generalized from a fixed
// small array to one mutex-guarded struct per thread.
type TCB struct {
	id   uint64
	name string

	lock primitives.SpinLock

	basePriority int
	currentPrio  int
	affinity     CPUSet
	lastCPU      int

	stack []byte
	frame vcpu.Frame

	state        State
	waitResource string
	wakeDeadline uint64 // monotonic ns, valid only while SLEEPING

	cause     Cause
	retval    any
	exitedYet bool

	// parkCh is non-nil while the thread is blocked in Park, used by Wake to
	// resume it.
	parkCh chan primitives.WakeCause

	signals *ksignal.Table

	resources []Resource

	owner any

	joinSem *primitives.Semaphore
}

// ID returns the thread's identity.
func (t *TCB) ID() uint64 { return t.id }

// Name returns the thread's name.
func (t *TCB) Name() string { return t.name }

// State returns the thread's current FSM state.
func (t *TCB) State() State {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.state
}

// Priority returns the thread's current effective priority.
func (t *TCB) Priority() int {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.currentPrio
}

// Frame returns a snapshot of the thread's simulated trap frame.
func (t *TCB) Frame() vcpu.Frame {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.frame.Snapshot()
}

// Signals returns the thread's per-thread signal table.
func (t *TCB) Signals() *ksignal.Table { return t.signals }

// AddResource appends r to the thread's release-on-exit FIFO.
func (t *TCB) AddResource(r Resource) {
	t.lock.Acquire()
	defer t.lock.Release()
	t.resources = append(t.resources, r)
}

func (t *TCB) String() string {
	return fmt.Sprintf("TCB{id=%d name=%q prio=%d state=%s}", t.id, t.name, t.currentPrio, t.state)
}
