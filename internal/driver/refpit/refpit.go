// Package refpit is a software model of a MAIN-slot timer driver: a
// reference PIT (programmable interval timer) good enough to drive
// internal/timer and internal/sched in the core's own tests, standing in
// for real hardware which is out of this module's scope.
package refpit

import (
	"sync"
	"time"

	"github.com/roos-kernel/utk/internal/devicetree"
	"github.com/roos-kernel/utk/internal/driver"
	"github.com/roos-kernel/utk/internal/interfaces"
)

func init() {
	driver.Register(driver.Descriptor{
		Name:        "ref-pit",
		Description: "software model MAIN-slot PIT",
		Compatible:  "x86,x86-pit",
		Version:     "1.0.0",
		Attach:      attach,
	})
}

var (
	instMu   sync.Mutex
	instance *Timer
)

func attach(node *devicetree.Node) error {
	instMu.Lock()
	defer instMu.Unlock()
	instance = NewTimer(DefaultFrequency)
	return nil
}

// Instance returns the timer attached by the most recent Attach call, or
// nil if none has run yet.
func Instance() *Timer {
	instMu.Lock()
	defer instMu.Unlock()
	return instance
}

// DefaultFrequency is the reference timer's tick rate: 1000 Hz, i.e. a
// 1ms tick, a conventional choice for a software PIT model.
const DefaultFrequency = 1000

// Timer is an in-memory TimerDriver. Unlike real hardware it does not fire
// ticks on its own; a test or bring-up binary drives it by calling Fire.
type Timer struct {
	mu        sync.Mutex
	freq      uint64
	enabled   bool
	ns        uint64
	onTick    func()
	onSetTime func(ns uint64)
}

var _ interfaces.TimerDriver = (*Timer)(nil)

// NewTimer returns a disabled timer ticking at freqHz once enabled.
func NewTimer(freqHz uint64) *Timer {
	return &Timer{freq: freqHz}
}

func (t *Timer) Frequency() uint64 { return t.freq }

func (t *Timer) TimeNs() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ns, true
}

func (t *Timer) SetTimeNs(ns uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ns = ns
	return nil
}

func (t *Timer) Date() (time.Time, bool) {
	return time.Time{}, false
}

func (t *Timer) DayTime() (time.Duration, bool) {
	return 0, false
}

func (t *Timer) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
	return nil
}

func (t *Timer) Disable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	return nil
}

func (t *Timer) SetTickHandler(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = fn
	return nil
}

func (t *Timer) RemoveTickHandler() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = nil
	return nil
}

func (t *Timer) Control() any {
	return t
}

// Fire advances the timer by one tick period and, if enabled, invokes the
// installed tick handler. Test-only entry point standing in for a real
// hardware interrupt line.
func (t *Timer) Fire() {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}
	t.ns += 1_000_000_000 / t.freq
	handler := t.onTick
	t.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// Enabled reports whether the timer is currently armed, for tests.
func (t *Timer) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
