package sched

import (
	"context"
	"testing"
	"time"

	"github.com/roos-kernel/utk/internal/errcode"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, numCPUs int) *Scheduler {
	t.Helper()
	params := DefaultBootParams()
	params.NumCPUs = numCPUs
	params.QuantumTicks = 3
	s := New(params, nil, nil)
	t.Cleanup(s.Shutdown)
	return s
}

func blockForever(done <-chan struct{}) func(any) {
	return func(any) { <-done }
}

func TestCreateKernelThreadRejectsBadStackSize(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	_, err := s.CreateKernelThread(10, "bad", 100, AllCPUs(1), blockForever(done), nil)
	require.ErrorIs(t, err, errcode.UnauthorizedAction)

	_, err = s.CreateKernelThread(10, "too-big", MaxStackSize+PageSize, AllCPUs(1), blockForever(done), nil)
	require.ErrorIs(t, err, errcode.OutOfBound)

	_, err = s.CreateKernelThread(10, "no-affinity", PageSize, CPUSet(0), blockForever(done), nil)
	require.ErrorIs(t, err, errcode.IncorrectValue)

	_, err = s.CreateKernelThread(PriorityIdle, "bad-prio", PageSize, AllCPUs(1), blockForever(done), nil)
	require.ErrorIs(t, err, errcode.ForbiddenPriority)
}

func TestCreateKernelThreadInjectedAllocFailure(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	s.InjectAllocFailure()
	_, err := s.CreateKernelThread(10, "t1", PageSize, AllCPUs(1), blockForever(done), nil)
	require.ErrorIs(t, err, errcode.NoMoreMemory)

	// One-shot: the next call should succeed.
	tcb, err := s.CreateKernelThread(10, "t2", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)
	require.NotNil(t, tcb)
}

func TestCreateKernelThreadBalancesAcrossCPUs(t *testing.T) {
	s := newTestScheduler(t, 4)
	done := make(chan struct{})
	defer close(done)

	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		tcb, err := s.CreateKernelThread(10, "spread", PageSize, AllCPUs(4), blockForever(done), nil)
		require.NoError(t, err)
		seen[tcb.lastCPU] = true
	}
	require.Len(t, seen, 4, "one thread per CPU should have spread across all 4 CPUs")
}

func TestCreateKernelThreadHonorsAffinity(t *testing.T) {
	s := newTestScheduler(t, 4)
	done := make(chan struct{})
	defer close(done)

	tcb, err := s.CreateKernelThread(10, "pinned", PageSize, NewCPUSet(2), blockForever(done), nil)
	require.NoError(t, err)
	require.Equal(t, 2, tcb.lastCPU)
}

func TestTickPreemptsForHigherPriorityThread(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	low, err := s.CreateKernelThread(20, "low", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)
	s.Tick(0)
	require.Same(t, low, s.cpus[0].current)

	high, err := s.CreateKernelThread(5, "high", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)
	s.Tick(0)
	require.Same(t, high, s.cpus[0].current, "a strictly higher-priority ready thread must preempt immediately")
}

func TestTickRoundRobinsSamePriorityOnQuantumExpiry(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	a, err := s.CreateKernelThread(10, "a", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)
	b, err := s.CreateKernelThread(10, "b", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)

	s.Tick(0)
	first := s.cpus[0].current
	require.True(t, first == a || first == b)

	for i := 0; i < s.params.QuantumTicks; i++ {
		s.Tick(0)
	}
	require.NotSame(t, first, s.cpus[0].current, "quantum expiry with an equal-priority contender must round-robin")
}

func TestTickFallsBackToIdleWhenNothingReady(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Tick(0)
	require.Same(t, s.cpus[0].idle, s.cpus[0].current)
}

func TestJoinReturnsCauseOnNormalCompletion(t *testing.T) {
	s := newTestScheduler(t, 1)
	tcb, err := s.CreateKernelThread(10, "quick", PageSize, AllCPUs(1), func(any) {}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	retval, cause, err := s.Join(ctx, tcb)
	require.NoError(t, err)
	require.Equal(t, CauseCorrect, cause)
	require.Nil(t, retval)
}

func TestThreadExitHookMarksZombieAndWakesJoiner(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	tcb, err := s.CreateKernelThread(10, "victim", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)

	joinDone := make(chan Cause, 1)
	go func() {
		_, cause, err := s.Join(context.Background(), tcb)
		require.NoError(t, err)
		joinDone <- cause
	}()

	s.ThreadExit(tcb, string(CauseKilled))

	select {
	case cause := <-joinDone:
		require.Equal(t, CauseKilled, cause)
	case <-time.After(time.Second):
		t.Fatal("Join did not return after ThreadExit")
	}
	require.Equal(t, StateZombie, tcb.State())
}

func TestSleepWakesOnDeadlineExpiry(t *testing.T) {
	s := newTestScheduler(t, 1)

	woke := make(chan struct{})
	_, err := s.CreateKernelThread(10, "sleeper", PageSize, AllCPUs(1), func(any) {
		_ = s.Sleep(context.Background(), time.Hour)
		close(woke)
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s.sleepMu.Lock()
		defer s.sleepMu.Unlock()
		return len(s.sleepQ.entries) == 1
	}, time.Second, 5*time.Millisecond, "sleeper never registered on the sleep queue")

	s.drainSleepQueue(^uint64(0))

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return once its deadline was drained")
	}
}

func TestSleepRejectsIdleThread(t *testing.T) {
	s := newTestScheduler(t, 1)
	idle := s.cpus[0].idle
	require.Equal(t, PriorityIdle, idle.Priority())

	// Borrow the test goroutine's own id so lookupCurrent resolves to the
	// idle TCB, as if this goroutine were the idle loop calling Sleep.
	id := goroutineID()
	s.goroutinesMu.Lock()
	s.goroutines[id] = idle
	s.goroutinesMu.Unlock()
	t.Cleanup(func() {
		s.goroutinesMu.Lock()
		delete(s.goroutines, id)
		s.goroutinesMu.Unlock()
	})

	err := s.Sleep(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, errcode.UnauthorizedAction)
}

func TestPriorityAndSetEffectivePriority(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	tcb, err := s.CreateKernelThread(30, "inheritor", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)

	require.Equal(t, 30, s.Priority(tcb))
	s.SetEffectivePriority(tcb, 5)
	require.Equal(t, 5, s.Priority(tcb))
}

func TestCPULoadReportsBetweenZeroAndHundred(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	_, err := s.CreateKernelThread(10, "busy", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s.Tick(0)
		time.Sleep(time.Millisecond)
	}

	load := s.CPULoad(0)
	require.GreaterOrEqual(t, load, 0.0)
	require.LessOrEqual(t, load, 100.0)
}

func TestCPULoadOutOfRangeReturnsZero(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.Equal(t, 0.0, s.CPULoad(99))
}

func TestWakeRequeuesOnLastCPU(t *testing.T) {
	s := newTestScheduler(t, 2)
	done := make(chan struct{})
	defer close(done)

	tcb, err := s.CreateKernelThread(10, "parked", PageSize, AllCPUs(2), blockForever(done), nil)
	require.NoError(t, err)

	parkedOnCPU := tcb.lastCPU

	ctx := context.Background()
	parkDone := make(chan error, 1)
	go func() {
		_, err := s.Park(ctx, tcb)
		parkDone <- err
	}()

	require.Eventually(t, func() bool {
		tcb.lock.Acquire()
		defer tcb.lock.Release()
		return tcb.parkCh != nil
	}, time.Second, 5*time.Millisecond)

	s.Wake(tcb, 0)

	select {
	case err := <-parkDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Park did not return after Wake")
	}
	require.Equal(t, parkedOnCPU, tcb.lastCPU)
}

func TestKillDispatchesOnNextTick(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	tcb, err := s.CreateKernelThread(10, "victim", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)
	s.Tick(0)
	require.Same(t, tcb, s.cpus[0].current, "victim must be the lone running thread before Kill")

	require.NoError(t, s.Kill(tcb))
	require.NotEqual(t, StateZombie, tcb.State(), "Kill must not terminate synchronously")

	// A lone running thread with nothing else ready never gets preempted,
	// but Tick still dispatches pending signals against whoever is current.
	s.Tick(0)

	require.Eventually(t, func() bool {
		return tcb.State() == StateZombie
	}, time.Second, 5*time.Millisecond, "Kill's pending SigKill must be dispatched on the next resume")
	require.Equal(t, CauseKilled, tcb.cause)
}

func TestKillWakesAParkedThread(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	tcb, err := s.CreateKernelThread(10, "parked", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)

	parkDone := make(chan error, 1)
	go func() {
		_, err := s.Park(context.Background(), tcb)
		parkDone <- err
	}()
	require.Eventually(t, func() bool {
		tcb.lock.Acquire()
		defer tcb.lock.Release()
		return tcb.parkCh != nil
	}, time.Second, 5*time.Millisecond)

	s.SetWaiting(tcb, "test-resource")
	require.NoError(t, s.Kill(tcb))

	select {
	case <-parkDone:
	case <-time.After(time.Second):
		t.Fatal("Kill did not wake the parked thread")
	}
	require.Equal(t, StateReady, tcb.State(), "a woken thread must be requeued, not immediately zombified")

	s.Tick(0)
	require.Eventually(t, func() bool {
		return tcb.State() == StateZombie
	}, time.Second, 5*time.Millisecond, "the requeued thread's pending SigKill must dispatch once it becomes current")
}

func TestKillRejectsAlreadyZombieThread(t *testing.T) {
	s := newTestScheduler(t, 1)
	tcb, err := s.CreateKernelThread(10, "quick", PageSize, AllCPUs(1), func(any) {}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err = s.Join(ctx, tcb)
	require.NoError(t, err)

	require.ErrorIs(t, s.Kill(tcb), errcode.NoSuchID)
}

func TestTickSnapshotsFrameOnPreemption(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	defer close(done)

	low, err := s.CreateKernelThread(20, "low", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)
	s.Tick(0)
	require.Same(t, low, s.cpus[0].current)

	high, err := s.CreateKernelThread(5, "high", PageSize, AllCPUs(1), blockForever(done), nil)
	require.NoError(t, err)
	s.Tick(0)
	require.Same(t, high, s.cpus[0].current)

	require.Equal(t, 0, low.Frame().CPU(), "the preempted thread's frame must record the cpu it ran on")
	require.Equal(t, 0, high.Frame().CPU(), "the newly dispatched thread's frame must record the cpu it runs on")
}
