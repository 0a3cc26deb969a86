package interrupt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roos-kernel/utk/internal/driver/refpic"
	"github.com/roos-kernel/utk/internal/errcode"
	"github.com/roos-kernel/utk/internal/primitives"
	"github.com/roos-kernel/utk/internal/vcpu"
	"github.com/stretchr/testify/require"
)

// fakeSched implements primitives.SchedHooks with real park/wake semantics
// (channel-per-waiter), the minimum needed for interrupt's deferred-ISR
// semaphore to actually block and be woken across goroutines in tests.
type fakeSched struct {
	mu     sync.Mutex
	parked map[any]chan primitives.WakeCause
}

func newFakeSched() *fakeSched {
	return &fakeSched{parked: map[any]chan primitives.WakeCause{}}
}

func (f *fakeSched) CurrentCPU() int                             { return 0 }
func (f *fakeSched) DisableInterrupts() primitives.InterruptState { return 1 }
func (f *fakeSched) RestoreInterrupts(primitives.InterruptState)  {}
func (f *fakeSched) CurrentThread() any                           { return "t" }
func (f *fakeSched) SetWaiting(any, string)                       {}

func (f *fakeSched) Park(ctx context.Context, thread any) (primitives.WakeCause, error) {
	f.mu.Lock()
	ch := make(chan primitives.WakeCause, 1)
	f.parked[thread] = ch
	f.mu.Unlock()

	select {
	case cause := <-ch:
		return cause, nil
	case <-ctx.Done():
		return primitives.WakeNormal, ctx.Err()
	}
}

func (f *fakeSched) Wake(thread any, cause primitives.WakeCause) {
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

func (f *fakeSched) Priority(any) int              { return 0 }
func (f *fakeSched) SetEffectivePriority(any, int) {}

type countingHooks struct {
	mu    sync.Mutex
	count int
}

func (c *countingHooks) ScheduleNoInt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func setup(t *testing.T) *countingHooks {
	t.Helper()
	primitives.RegisterSchedHooks(newFakeSched())
	h := &countingHooks{}
	RegisterSchedHooks(h)
	t.Cleanup(func() {
		primitives.RegisterSchedHooks(nil)
		RegisterSchedHooks(nil)
	})
	return h
}

func testConfig() Config {
	return Config{MinLine: 0, MaxLine: 31, MinException: 0, MaxException: 7}
}

func TestRegisterAndMainRunsHandler(t *testing.T) {
	setup(t)
	d := NewDispatcher(testConfig(), nil)

	called := false
	require.NoError(t, d.Register(5, func(frame *vcpu.Frame) { called = true }))

	var frame vcpu.Frame
	frame.SetIntNum(5)
	d.Main(&frame)

	require.True(t, called)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	setup(t)
	d := NewDispatcher(testConfig(), nil)
	require.NoError(t, d.Register(1, func(*vcpu.Frame) {}))
	err := d.Register(1, func(*vcpu.Frame) {})
	require.ErrorIs(t, err, errcode.AlreadyExist)
}

func TestRegisterOutOfRange(t *testing.T) {
	setup(t)
	d := NewDispatcher(testConfig(), nil)
	err := d.Register(100, func(*vcpu.Frame) {})
	require.ErrorIs(t, err, errcode.UnauthorizedInterruptLine)
}

func TestRemoveEmptyRejected(t *testing.T) {
	setup(t)
	d := NewDispatcher(testConfig(), nil)
	err := d.Remove(2)
	require.ErrorIs(t, err, errcode.NotRegistered)
}

func TestSetControllerTwiceTriggersPanic(t *testing.T) {
	setup(t)
	d := NewDispatcher(testConfig(), nil)
	ctrl := refpic.NewController()

	require.NoError(t, d.SetController(ctrl))

	// The duplicate call still reports errcode.AlreadyExist to its caller;
	// the accompanying kpanic.Trigger runs on its own goroutine (it halts
	// forever once it renders) so it can't be observed returning here.
	done := make(chan struct{})
	go func() {
		err := d.SetController(ctrl)
		require.ErrorIs(t, err, errcode.AlreadyExist)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second SetController call did not return")
	}
}

func TestMainSpuriousSkipsHandlerAndSchedules(t *testing.T) {
	hooks := setup(t)
	d := NewDispatcher(testConfig(), nil)
	ctrl := refpic.NewController()
	require.NoError(t, d.SetController(ctrl))
	ctrl.SetSpurious(9, true)

	called := false
	require.NoError(t, d.Register(9, func(*vcpu.Frame) { called = true }))

	var frame vcpu.Frame
	frame.SetIntNum(9)
	d.Main(&frame)

	require.False(t, called)
	require.Equal(t, 1, ctrl.EOICount(9))
	require.Equal(t, 1, hooks.count)
}

func TestMainRegularRunsHandlerAndSchedules(t *testing.T) {
	hooks := setup(t)
	d := NewDispatcher(testConfig(), nil)
	ctrl := refpic.NewController()
	require.NoError(t, d.SetController(ctrl))

	called := false
	require.NoError(t, d.Register(9, func(*vcpu.Frame) { called = true }))

	var frame vcpu.Frame
	frame.SetIntNum(9)
	d.Main(&frame)

	require.True(t, called)
	require.Equal(t, 1, hooks.count)
}

func TestDeferRunsOnWorker(t *testing.T) {
	setup(t)
	d := NewDispatcher(testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan int, 1)
	go d.RunDeferredWorker(ctx)

	d.Defer(func(arg any) { ran <- arg.(int) }, 42)

	select {
	case v := <-ran:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("deferred call never ran")
	}
}
