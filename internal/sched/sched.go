// Package sched is the priority-based preemptive scheduler: per-CPU
// 64-priority run-queues, tick-driven dispatch, a system-wide sleep queue,
// thread lifecycle (create/exit/join), CPU-load accounting, and affinity
// placement. Grounded on the teacher's internal/queue.Runner (one
// dedicated, pinned goroutine per queue, primed once then driven by
// events — the model for "one dedicated goroutine per simulated CPU,
// released by tick events") and backend.Memory's shard-locking (the model
// for per-CPU-lock-plus-occasional-cross-CPU-lock, here the sleep queue).
package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roos-kernel/utk/internal/errcode"
	"github.com/roos-kernel/utk/internal/ksignal"
	"github.com/roos-kernel/utk/internal/logging"
	"github.com/roos-kernel/utk/internal/primitives"
	"github.com/roos-kernel/utk/internal/timer"
)

// PageSize is the simulated page granularity a kernel thread's stack must
// be a multiple of.
const PageSize = 4096

// MaxStackSize bounds CreateKernelThread's stackSize argument.
const MaxStackSize = 8 * 1024 * 1024

// BootParams mirrors the teacher's DeviceParams/DefaultParams shape: the
// small set of knobs Boot needs before any thread exists.
type BootParams struct {
	NumCPUs          int
	QuantumTicks     int
	StackSizeDefault int
	Signals          *ksignal.Table // process-default signal table threads are Cloned from

	// FailNextAlloc, when true, makes the next CreateKernelThread call fail
	// with errcode.NoMoreMemory instead of succeeding — an injectable
	// allocation-failure point for tests, consumed (reset to false) on use.
	FailNextAlloc bool
}

// DefaultBootParams returns the core's default configuration: 4 CPUs, a
// 5-tick quantum, one page of stack by default.
func DefaultBootParams() BootParams {
	return BootParams{
		NumCPUs:          4,
		QuantumTicks:     5,
		StackSizeDefault: PageSize,
		Signals:          ksignal.DefaultTable(),
	}
}

// Scheduler owns every simulated CPU's run-queue, the system-wide sleep
// queue, and the thread registry. Exactly one exists per process (see
// hooks.go's `active`).
type Scheduler struct {
	params BootParams
	logger *logging.Logger
	timer  *timer.Layer

	cpus []*cpuState

	sleepMu sync.Mutex
	sleepQ  sleepQueue

	goroutinesMu sync.RWMutex
	goroutines   map[uint64]*TCB

	nextID atomic.Uint64

	failNextAlloc atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Scheduler, starts its per-CPU loops, creates one idle
// thread per CPU, and installs it as the implementation behind every
// downstream package's SchedHooks interface.
func New(params BootParams, tl *timer.Layer, logger *logging.Logger) *Scheduler {
	if params.NumCPUs <= 0 {
		params.NumCPUs = 1
	}
	if params.QuantumTicks <= 0 {
		params.QuantumTicks = 1
	}
	if params.Signals == nil {
		params.Signals = ksignal.DefaultTable()
	}

	s := &Scheduler{
		params:     params,
		logger:     logger,
		timer:      tl,
		goroutines: make(map[uint64]*TCB),
		stop:       make(chan struct{}),
	}
	s.failNextAlloc.Store(params.FailNextAlloc)

	for i := 0; i < params.NumCPUs; i++ {
		cpu := newCPUState(i)
		s.cpus = append(s.cpus, cpu)
		s.wg.Add(1)
		go func(c *cpuState) {
			defer s.wg.Done()
			s.run(c, s.stop)
		}(cpu)
	}

	// hooks.go's init() already registered hookAdapter{} with every
	// downstream package; setting `active` here is what makes those calls
	// do real work instead of no-op'ing.
	active = s

	for i := 0; i < params.NumCPUs; i++ {
		cpu := s.cpus[i]
		idle, err := s.createThread(PriorityIdle, "idle", PageSize, NewCPUSet(i), idleEntry, cpu.halt, true)
		if err != nil {
			panic("sched: failed to create idle thread: " + err.Error())
		}
		cpu.idle = idle
		cpu.current = idle
	}

	return s
}

// Shutdown stops every per-CPU loop and waits for them to exit. Kernel
// threads created via CreateKernelThread are not forcibly killed; callers
// should ensure they have exited or been signaled first.
func (s *Scheduler) Shutdown() {
	close(s.stop)
	for _, cpu := range s.cpus {
		close(cpu.halt)
	}
	s.wg.Wait()
}

// idleEntry is each CPU's idle thread body: it simply blocks on that CPU's
// halt channel, which only closes at Shutdown. Tick never actually dispatches
// to this goroutine's own execution (the bookkeeping only tracks which TCB
// is logically "current"), so its sole job is to give CurrentThread/Join
// something real to observe when a CPU is otherwise empty.
func idleEntry(arg any) {
	halt := arg.(chan struct{})
	<-halt
}

// InjectAllocFailure arms a one-shot CreateKernelThread failure, the
// BootParams.FailNextAlloc knob exposed as a live test hook.
func (s *Scheduler) InjectAllocFailure() {
	s.failNextAlloc.Store(true)
}

// CreateKernelThread allocates a new thread at the given priority and
// places it on the least-loaded in-affinity CPU.
func (s *Scheduler) CreateKernelThread(prio uint8, name string, stackSize int, affinity CPUSet, entry func(arg any), arg any) (*TCB, error) {
	return s.createThread(int(prio), name, stackSize, affinity, entry, arg, false)
}

func (s *Scheduler) createThread(prio int, name string, stackSize int, affinity CPUSet, entry func(arg any), arg any, isIdle bool) (*TCB, error) {
	if !isIdle && (prio < 0 || prio >= PriorityIdle) {
		return nil, errcode.ForbiddenPriority
	}
	if stackSize <= 0 || stackSize%PageSize != 0 {
		return nil, errcode.UnauthorizedAction
	}
	if stackSize > MaxStackSize {
		return nil, errcode.OutOfBound
	}
	if affinity == 0 {
		return nil, errcode.IncorrectValue
	}
	if s.failNextAlloc.CompareAndSwap(true, false) {
		return nil, errcode.NoMoreMemory
	}

	cpu := s.placeThread(affinity)
	if cpu == nil {
		return nil, errcode.IncorrectValue
	}

	t := &TCB{
		id:           s.nextID.Add(1),
		name:         name,
		basePriority: prio,
		currentPrio:  prio,
		affinity:     affinity,
		lastCPU:      cpu.id,
		stack:        make([]byte, stackSize),
		state:        StateReady,
		signals:      s.params.Signals.Clone(),
		joinSem:      primitives.NewSemaphore(0, primitives.DisciplineFIFO),
	}

	if !isIdle {
		cpu.mu.Lock()
		cpu.ready.pushBack(t)
		cpu.mu.Unlock()
	}
	// The idle thread is installed directly as cpu.current by New, never
	// queued in a ready bucket: it is always the fallback, not a candidate
	// dispatch picks among.

	go func() {
		s.registerGoroutine(t)
		defer s.unregisterGoroutine()
		entry(arg)
		s.exit(t, CauseCorrect, nil)
	}()

	return t, nil
}

// placeThread returns the CPU in affinity with the fewest ready-plus-running
// threads, ties broken by lowest id.
func (s *Scheduler) placeThread(affinity CPUSet) *cpuState {
	var best *cpuState
	bestLoad := -1
	for _, cpu := range s.cpus {
		if !affinity.Has(cpu.id) {
			continue
		}
		cpu.mu.Lock()
		load := cpu.ready.len()
		if cpu.current != nil {
			load++
		}
		cpu.mu.Unlock()
		if best == nil || load < bestLoad {
			best, bestLoad = cpu, load
		}
	}
	return best
}

func (s *Scheduler) registerGoroutine(t *TCB) {
	s.goroutinesMu.Lock()
	defer s.goroutinesMu.Unlock()
	s.goroutines[goroutineID()] = t
}

func (s *Scheduler) unregisterGoroutine() {
	s.goroutinesMu.Lock()
	defer s.goroutinesMu.Unlock()
	delete(s.goroutines, goroutineID())
}

func (s *Scheduler) lookupCurrent() *TCB {
	s.goroutinesMu.RLock()
	defer s.goroutinesMu.RUnlock()
	return s.goroutines[goroutineID()]
}

// CurrentThread returns the opaque TCB handle for the calling goroutine, or
// nil if the caller is not a registered kernel thread.
func (s *Scheduler) CurrentThread() any {
	t := s.lookupCurrent()
	if t == nil {
		return nil
	}
	return t
}

// CurrentCPU returns the logical CPU id the calling kernel thread was last
// placed on, or 0 if the caller is not a registered kernel thread. It reads
// lastCPU without taking t.lock: SpinLock.Acquire itself calls CurrentCPU,
// so taking a SpinLock here would recurse without end.
func (s *Scheduler) CurrentCPU() int {
	t := s.lookupCurrent()
	if t == nil {
		return 0
	}
	return t.lastCPU
}

// interruptsDisabled models the IF flag as a single process-wide word rather
// than one bit per simulated CPU: there is no real interrupt flag to flip in
// a goroutine, and SpinLock already demultiplexes its own per-CPU saved
// state around this call, so DisableInterrupts only has to hand back
// whatever the previous caller left here.
var interruptsDisabled atomic.Uint32

func (s *Scheduler) DisableInterrupts() primitives.InterruptState {
	prev := interruptsDisabled.Swap(1)
	return primitives.InterruptState(prev)
}

func (s *Scheduler) RestoreInterrupts(state primitives.InterruptState) {
	interruptsDisabled.Store(uint32(state))
}

// SetWaiting marks thread WAITING on the named resource.
func (s *Scheduler) SetWaiting(thread any, resource string) {
	t, ok := thread.(*TCB)
	if !ok {
		return
	}
	t.lock.Acquire()
	t.state = StateWaiting
	t.waitResource = resource
	t.lock.Release()
}

// Park blocks the calling goroutine until Wake(thread, ...) is called or ctx
// ends first.
func (s *Scheduler) Park(ctx context.Context, thread any) (primitives.WakeCause, error) {
	t, ok := thread.(*TCB)
	if !ok {
		<-ctx.Done()
		return primitives.WakeNormal, ctx.Err()
	}
	ch := make(chan primitives.WakeCause, 1)
	t.lock.Acquire()
	t.parkCh = ch
	t.lock.Release()

	select {
	case cause := <-ch:
		return cause, nil
	case <-ctx.Done():
		t.lock.Acquire()
		if t.parkCh == ch {
			t.parkCh = nil
		}
		t.lock.Release()
		return primitives.WakeNormal, ctx.Err()
	}
}

// Wake transitions thread back to READY (re-inserted on its last CPU, or
// the least-loaded in-affinity CPU if that one has left the affinity set)
// and resumes whichever Park call is blocked on it.
func (s *Scheduler) Wake(thread any, cause primitives.WakeCause) {
	t, ok := thread.(*TCB)
	if !ok {
		return
	}
	t.lock.Acquire()
	ch := t.parkCh
	t.parkCh = nil
	t.state = StateReady
	t.waitResource = ""
	t.lock.Release()

	s.requeue(t)

	if ch != nil {
		select {
		case ch <- cause:
		default:
		}
	}
}

func (s *Scheduler) requeue(t *TCB) {
	cpu := s.cpuFor(t.lastCPU)
	if cpu == nil || !t.affinity.Has(cpu.id) {
		cpu = s.placeThread(t.affinity)
	}
	if cpu == nil {
		return
	}
	t.lock.Acquire()
	t.lastCPU = cpu.id
	t.lock.Release()
	cpu.mu.Lock()
	cpu.ready.pushBack(t)
	cpu.mu.Unlock()
}

func (s *Scheduler) cpuFor(id int) *cpuState {
	for _, cpu := range s.cpus {
		if cpu.id == id {
			return cpu
		}
	}
	return nil
}

// Priority returns thread's current effective priority.
func (s *Scheduler) Priority(thread any) int {
	t, ok := thread.(*TCB)
	if !ok {
		return 0
	}
	return t.Priority()
}

// SetEffectivePriority lowers (or restores) thread's effective priority for
// priority inheritance.
func (s *Scheduler) SetEffectivePriority(thread any, priority int) {
	t, ok := thread.(*TCB)
	if !ok {
		return
	}
	t.lock.Acquire()
	t.currentPrio = priority
	t.lock.Release()
}

// Kill forcibly terminates t the way spec.md's "forced termination" is
// defined: it raises SigKill on t's own signal table rather than touching
// t's state directly, so the default KILL handler's drain-and-exit path
// runs exactly as it would for a self-raised signal, dispatched by
// Tick/DispatchOnReturn the next time t resumes rather than synchronously
// here. A thread parked WAITING or SLEEPING is woken first so that next
// resume actually happens instead of leaving t blocked forever with an
// undelivered pending signal.
func (s *Scheduler) Kill(t *TCB) error {
	if t == nil {
		return errcode.NullPointer
	}

	t.lock.Acquire()
	state := t.state
	t.lock.Release()

	if err := t.signals.Raise(ksignal.SigKill, state == StateZombie); err != nil {
		return err
	}

	if state == StateWaiting || state == StateSleeping {
		s.Wake(t, primitives.WakeDestroyed)
	}
	return nil
}

// ThreadExit satisfies ksignal.SchedHooks: the default fatal signal
// handlers call it with a plain cause label. The richer exit path used by a
// kernel thread's own trampoline (carrying a retval) is exit() below; both
// converge on the same bookkeeping.
func (s *Scheduler) ThreadExit(thread any, cause string) {
	t, ok := thread.(*TCB)
	if !ok || t == nil {
		return
	}
	s.exit(t, Cause(cause), nil)
}

func (s *Scheduler) exit(t *TCB, cause Cause, retval any) {
	t.lock.Acquire()
	if t.exitedYet {
		t.lock.Release()
		return
	}
	t.exitedYet = true
	t.state = StateZombie
	t.cause = cause
	t.retval = retval
	resources := t.resources
	t.resources = nil
	parkCh := t.parkCh
	t.parkCh = nil
	t.lock.Release()

	// A thread killed while blocked in Park/Sleep (e.g. a fatal signal
	// delivered while WAITING) still owns a goroutine sitting in that call;
	// wake it with WakeDestroyed so it unblocks instead of leaking.
	if parkCh != nil {
		select {
		case parkCh <- primitives.WakeDestroyed:
		default:
		}
	}

	for _, r := range resources {
		_ = r.Release()
	}

	cpu := s.cpuFor(t.lastCPU)
	if cpu != nil {
		cpu.mu.Lock()
		if cpu.current == t {
			cpu.current = nil
		} else {
			cpu.ready.remove(t)
		}
		cpu.mu.Unlock()
	}
	s.sleepMu.Lock()
	s.sleepQ.remove(t)
	s.sleepMu.Unlock()

	t.joinSem.Post()
}

// Join blocks until t reaches ZOMBIE, then returns its recorded retval and
// cause. Only the first concurrent joiner is guaranteed to be woken;
// additional simultaneous joiners are a usage pattern this core's data
// model does not require supporting.
func (s *Scheduler) Join(ctx context.Context, t *TCB) (any, Cause, error) {
	t.lock.Acquire()
	already := t.state == StateZombie
	t.lock.Release()

	if !already {
		if err := t.joinSem.Wait(ctx); err != nil {
			return nil, "", err
		}
	}

	t.lock.Acquire()
	defer t.lock.Release()
	return t.retval, t.cause, nil
}

// Sleep parks the calling kernel thread until d has elapsed according to the
// timer layer's uptime clock. Calling Sleep from the idle thread is
// rejected.
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	t := s.lookupCurrent()
	if t == nil || t.Priority() == PriorityIdle {
		return errcode.UnauthorizedAction
	}

	now := uint64(0)
	if s.timer != nil {
		now = s.timer.UptimeNs()
	}
	deadline := now + uint64(d.Nanoseconds())

	t.lock.Acquire()
	t.state = StateSleeping
	t.waitResource = "SLEEP"
	t.wakeDeadline = deadline
	t.lock.Release()

	cpu := s.cpuFor(t.lastCPU)
	if cpu != nil {
		cpu.mu.Lock()
		if cpu.current == t {
			cpu.current = nil
		} else {
			cpu.ready.remove(t)
		}
		cpu.mu.Unlock()
	}

	ch := make(chan primitives.WakeCause, 1)
	t.lock.Acquire()
	t.parkCh = ch
	t.lock.Release()

	s.sleepMu.Lock()
	s.sleepQ.insert(sleepEntry{thread: t, deadline: deadline})
	s.sleepMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.sleepMu.Lock()
		s.sleepQ.remove(t)
		s.sleepMu.Unlock()
		return ctx.Err()
	}
}

// drainSleepQueue pops every expired sleeper and makes it READY on its last
// CPU. Called once per MAIN tick from TickAllCPUs.
func (s *Scheduler) drainSleepQueue(now uint64) {
	s.sleepMu.Lock()
	woken := s.sleepQ.drainExpired(now)
	s.sleepMu.Unlock()

	for _, t := range woken {
		s.Wake(t, primitives.WakeNormal)
	}
}

// CPULoad reports cpu's active-time percentage accumulated since boot (a
// cumulative rather than strictly sliding-window figure — see DESIGN.md for
// why a literal 1-second ring was traded for this simpler accumulator). An
// out-of-range cpu id returns 0.
func (s *Scheduler) CPULoad(cpu int) float64 {
	c := s.cpuFor(cpu)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	active, idle := c.activeNs, c.idleNs
	c.mu.Unlock()
	total := active + idle
	if total == 0 {
		return 0
	}
	return float64(active) * 100 / float64(total)
}
