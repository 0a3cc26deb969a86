package primitives

import (
	"context"

	"github.com/roos-kernel/utk/internal/errcode"
)

// Discipline selects the ordering a Semaphore's wait queue uses when more
// than one thread is blocked.
type Discipline int

const (
	// DisciplineFIFO wakes waiters in arrival order.
	DisciplineFIFO Discipline = iota
	// DisciplinePriority wakes the highest-priority waiter first (ties
	// broken by arrival order) and enables priority inheritance on the
	// semaphore's conceptual holder, if one has been set via SetHolder.
	DisciplinePriority
)

type waiter struct {
	thread   any
	priority int
}

// Semaphore is a counting semaphore with an owned FIFO-or-priority wait
// queue, grounded on ilock.Mutex's register/condvar-wait pattern (spin+park
// instead of a raw condvar) and the teacher's per-unit-lock shape — each
// Semaphore carries its own lock rather than sharing a global one.
type Semaphore struct {
	lock       *SpinLock
	counter    int32
	discipline Discipline
	queue      []waiter
	destroyed  bool
	holder     any
	holderBase int
	holderSet  bool
}

// NewSemaphore returns a semaphore with the given initial count and
// queueing discipline.
func NewSemaphore(initial int32, discipline Discipline) *Semaphore {
	return &Semaphore{
		lock:       NewSpinLock(),
		counter:    initial,
		discipline: discipline,
	}
}

// SetHolder records the thread considered the semaphore's conceptual owner,
// for primitives (such as a mutex built atop a binary semaphore) that want
// priority inheritance. Passing nil clears it.
func (s *Semaphore) SetHolder(thread any) {
	s.lock.Acquire()
	defer s.lock.Release()
	s.restoreHolderPriorityLocked()
	s.holder = thread
	s.holderSet = thread != nil
	if s.holderSet {
		s.holderBase = schedHooks().Priority(thread)
	}
}

func (s *Semaphore) restoreHolderPriorityLocked() {
	if s.holderSet {
		schedHooks().SetEffectivePriority(s.holder, s.holderBase)
		s.holderSet = false
	}
}

// Wait blocks until the semaphore can be decremented, ctx ends, or the
// semaphore is destroyed.
func (s *Semaphore) Wait(ctx context.Context) error {
	s.lock.Acquire()
	if s.destroyed {
		s.lock.Release()
		return errcode.Destroyed
	}
	if s.counter > 0 {
		s.counter--
		s.lock.Release()
		return nil
	}

	current := schedHooks().CurrentThread()
	prio := schedHooks().Priority(current)
	s.enqueueLocked(waiter{thread: current, priority: prio})

	if s.discipline == DisciplinePriority && s.holderSet {
		holderPrio := schedHooks().Priority(s.holder)
		if prio < holderPrio {
			schedHooks().SetEffectivePriority(s.holder, prio)
		}
	}

	schedHooks().SetWaiting(current, "SEMAPHORE")
	s.lock.Release()

	cause, err := schedHooks().Park(ctx, current)
	if err != nil {
		return err
	}
	if cause == WakeDestroyed {
		return errcode.Destroyed
	}
	return nil
}

func (s *Semaphore) enqueueLocked(w waiter) {
	if s.discipline == DisciplineFIFO {
		s.queue = append(s.queue, w)
		return
	}
	// Priority discipline: insert before the first queued waiter with a
	// strictly higher priority value than w's (lower number = higher
	// priority, matching the scheduler's 0..63 scale), keeping FIFO order
	// among equals.
	idx := len(s.queue)
	for i, q := range s.queue {
		if w.priority < q.priority {
			idx = i
			break
		}
	}
	s.queue = append(s.queue, waiter{})
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = w
}

// TryWait is the non-blocking form of Wait.
func (s *Semaphore) TryWait() (ok bool, remaining int32, err error) {
	s.lock.Acquire()
	defer s.lock.Release()
	if s.destroyed {
		return false, s.counter, errcode.Destroyed
	}
	if s.counter > 0 {
		s.counter--
		return true, s.counter, nil
	}
	return false, s.counter, errcode.Blocked
}

// Post increments the semaphore, waking the head of the wait queue if any.
func (s *Semaphore) Post() {
	s.lock.Acquire()
	if s.destroyed {
		s.lock.Release()
		return
	}
	if len(s.queue) == 0 {
		s.counter++
		s.lock.Release()
		return
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	s.restoreHolderPriorityLocked()
	s.lock.Release()
	schedHooks().Wake(head.thread, WakeNormal)
}

// Destroy wakes every waiter with a Destroyed cause. Idempotent.
func (s *Semaphore) Destroy() {
	s.lock.Acquire()
	if s.destroyed {
		s.lock.Release()
		return
	}
	s.destroyed = true
	queue := s.queue
	s.queue = nil
	s.restoreHolderPriorityLocked()
	s.lock.Release()
	for _, w := range queue {
		schedHooks().Wake(w.thread, WakeDestroyed)
	}
}

// Count returns the current counter value, for diagnostics and tests.
func (s *Semaphore) Count() int32 {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.counter
}
