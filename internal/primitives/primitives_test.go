package primitives

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roos-kernel/utk/internal/errcode"
	"github.com/stretchr/testify/require"
)

// fakeSched is a minimal SchedHooks good enough to drive SpinLock and
// Semaphore in tests without a real internal/sched. Park signals
// parkedNotify the instant it registers a waiter so tests can synchronize
// on "the goroutine has actually blocked" instead of sleeping.
type fakeSched struct {
	mu           sync.Mutex
	enabled      bool
	cpu          int
	priorities   map[any]int
	parked       map[any]chan WakeCause
	parkedNotify chan any
}

func newFakeSched() *fakeSched {
	return &fakeSched{
		enabled:      true,
		priorities:   map[any]int{},
		parked:       map[any]chan WakeCause{},
		parkedNotify: make(chan any, 16),
	}
}

func (f *fakeSched) CurrentCPU() int { return f.cpu }

func (f *fakeSched) DisableInterrupts() InterruptState {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := InterruptState(0)
	if f.enabled {
		prev = 1
	}
	f.enabled = false
	return prev
}

func (f *fakeSched) RestoreInterrupts(s InterruptState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = s == 1
}

func (f *fakeSched) CurrentThread() any { return "caller" }

func (f *fakeSched) SetWaiting(thread any, resource string) {}

func (f *fakeSched) Park(ctx context.Context, thread any) (WakeCause, error) {
	f.mu.Lock()
	ch := make(chan WakeCause, 1)
	f.parked[thread] = ch
	f.mu.Unlock()
	f.parkedNotify <- thread

	select {
	case cause := <-ch:
		return cause, nil
	case <-ctx.Done():
		return WakeNormal, ctx.Err()
	}
}

func (f *fakeSched) Wake(thread any, cause WakeCause) {
	f.mu.Lock()
	ch, ok := f.parked[thread]
	if ok {
		delete(f.parked, thread)
	}
	f.mu.Unlock()
	if ok {
		ch <- cause
	}
}

func (f *fakeSched) Priority(thread any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priorities[thread]
}

func (f *fakeSched) SetEffectivePriority(thread any, p int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priorities[thread] = p
}

func setupFakeSched(t *testing.T) *fakeSched {
	t.Helper()
	f := newFakeSched()
	RegisterSchedHooks(f)
	t.Cleanup(func() { RegisterSchedHooks(nil) })
	return f
}

func (f *fakeSched) awaitParked(t *testing.T) any {
	t.Helper()
	select {
	case thread := <-f.parkedNotify:
		return thread
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a thread to park")
		return nil
	}
}

func TestSpinLockAcquireRelease(t *testing.T) {
	setupFakeSched(t)
	lock := NewSpinLock()
	lock.Acquire()
	lock.Release()
	require.EqualValues(t, 0, lock.ReentryCount())
}

func TestSpinLockTracksHolderPerCPU(t *testing.T) {
	setupFakeSched(t)
	lock := NewSpinLock()
	lock.Acquire()
	require.Equal(t, uint32(1), lock.held[0])
	lock.Release()
	require.Equal(t, uint32(0), lock.held[0])
}

func TestSpinLockDebugPanicsOnReentry(t *testing.T) {
	setupFakeSched(t)
	lock := NewSpinLock()
	lock.Debug = true
	lock.held[0] = 1 // simulate this CPU already holding it
	require.Panics(t, func() { lock.Acquire() })
}

func TestSemaphoreTryWait(t *testing.T) {
	setupFakeSched(t)
	sem := NewSemaphore(1, DisciplineFIFO)

	ok, remaining, err := sem.TryWait()
	require.True(t, ok)
	require.EqualValues(t, 0, remaining)
	require.NoError(t, err)

	ok, _, err = sem.TryWait()
	require.False(t, ok)
	require.ErrorIs(t, err, errcode.Blocked)
}

func TestSemaphorePostWakesWaiter(t *testing.T) {
	f := setupFakeSched(t)
	sem := NewSemaphore(0, DisciplineFIFO)

	done := make(chan error, 1)
	go func() {
		done <- sem.Wait(context.Background())
	}()
	f.awaitParked(t)

	sem.Post()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Post")
	}
}

func TestSemaphoreDestroyWakesAllWaiters(t *testing.T) {
	f := setupFakeSched(t)
	sem := NewSemaphore(0, DisciplineFIFO)

	errCh := make(chan error, 1)
	go func() { errCh <- sem.Wait(context.Background()) }()
	f.awaitParked(t)

	sem.Destroy()
	sem.Destroy() // idempotent, must not panic or double-wake

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, errcode.Destroyed)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Destroy")
	}
}

func TestSemaphoreWaitCanceledByContext(t *testing.T) {
	setupFakeSched(t)
	sem := NewSemaphore(0, DisciplineFIFO)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sem.Wait(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}
}
