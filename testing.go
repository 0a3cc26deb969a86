package utk

import (
	"sync"
	"time"

	"github.com/roos-kernel/utk/internal/devicetree"
	"github.com/roos-kernel/utk/internal/interfaces"
)

// FakeTimerDriver provides an in-memory implementation of
// interfaces.TimerDriver for testing code that binds against the timer
// layer without needing internal/driver/refpit's registry machinery. It
// tracks call counts for verification, the same way the teacher's
// MockBackend tracked readCalls/writeCalls/flushCalls.
type FakeTimerDriver struct {
	mu sync.RWMutex

	freq    uint64
	ns      uint64
	enabled bool
	onTick  func()

	enableCalls  int
	disableCalls int
	fireCalls    int
}

// NewFakeTimerDriver returns a disabled fake timer ticking at freqHz.
func NewFakeTimerDriver(freqHz uint64) *FakeTimerDriver {
	return &FakeTimerDriver{freq: freqHz}
}

// Frequency implements interfaces.TimerDriver.
func (f *FakeTimerDriver) Frequency() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.freq
}

// TimeNs implements interfaces.TimerDriver.
func (f *FakeTimerDriver) TimeNs() (uint64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ns, true
}

// SetTimeNs implements interfaces.TimerDriver.
func (f *FakeTimerDriver) SetTimeNs(ns uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ns = ns
	return nil
}

// Date implements interfaces.TimerDriver; this fake has no wall-clock
// reading to offer.
func (f *FakeTimerDriver) Date() (time.Time, bool) {
	return time.Time{}, false
}

// DayTime implements interfaces.TimerDriver; unsupported, same as Date.
func (f *FakeTimerDriver) DayTime() (time.Duration, bool) {
	return 0, false
}

// Enable implements interfaces.TimerDriver.
func (f *FakeTimerDriver) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
	f.enableCalls++
	return nil
}

// Disable implements interfaces.TimerDriver.
func (f *FakeTimerDriver) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	f.disableCalls++
	return nil
}

// SetTickHandler implements interfaces.TimerDriver.
func (f *FakeTimerDriver) SetTickHandler(fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTick = fn
	return nil
}

// RemoveTickHandler implements interfaces.TimerDriver.
func (f *FakeTimerDriver) RemoveTickHandler() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTick = nil
	return nil
}

// Control implements interfaces.TimerDriver; this fake exposes itself so a
// test can reach Fire/IsEnabled directly through the returned handle.
func (f *FakeTimerDriver) Control() any {
	return f
}

// Fire manually advances the fake by one tick period and invokes the
// installed tick handler, standing in for a real interrupt firing. While
// disabled, neither the clock nor any handler moves; while enabled with no
// handler installed, only the clock advances. Every call counts toward
// fireCalls.
func (f *FakeTimerDriver) Fire() {
	f.mu.Lock()
	enabled, freq, handler := f.enabled, f.freq, f.onTick
	if enabled && freq > 0 {
		f.ns += uint64(time.Second) / freq
	}
	f.fireCalls++
	f.mu.Unlock()

	if enabled && handler != nil {
		handler()
	}
}

// IsEnabled reports whether Enable was called more recently than Disable.
func (f *FakeTimerDriver) IsEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled
}

// CallCounts returns how many times Enable/Disable/Fire have run, for
// assertions.
func (f *FakeTimerDriver) CallCounts() map[string]int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return map[string]int{
		"enable":  f.enableCalls,
		"disable": f.disableCalls,
		"fire":    f.fireCalls,
	}
}

var _ interfaces.TimerDriver = (*FakeTimerDriver)(nil)

// FakeIRQController provides an in-memory implementation of
// interfaces.IRQController for tests that want a controller without going
// through internal/driver/refpic's package-level registry and Instance()
// singleton.
type FakeIRQController struct {
	mu       sync.RWMutex
	masked   map[int]bool
	spurious map[int]bool
	eoiCalls map[int]int
	lineMap  map[int]int // irq -> line override; identity if absent
}

// NewFakeIRQController returns an unmasked, non-spurious controller whose
// IRQToLine defaults to the identity mapping.
func NewFakeIRQController() *FakeIRQController {
	return &FakeIRQController{
		masked:   map[int]bool{},
		spurious: map[int]bool{},
		eoiCalls: map[int]int{},
		lineMap:  map[int]int{},
	}
}

// Mask implements interfaces.IRQController.
func (f *FakeIRQController) Mask(irq int, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.masked[irq] = !enabled
	return nil
}

// EOI implements interfaces.IRQController.
func (f *FakeIRQController) EOI(irq int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eoiCalls[irq]++
	return nil
}

// Classify implements interfaces.IRQController.
func (f *FakeIRQController) Classify(intNum int) interfaces.IRQClass {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.spurious[intNum] {
		return interfaces.IRQSpurious
	}
	return interfaces.IRQRegular
}

// IRQToLine implements interfaces.IRQController.
func (f *FakeIRQController) IRQToLine(irq int) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if line, ok := f.lineMap[irq]; ok {
		return line
	}
	return irq
}

// SetLine overrides irq's mapped dispatcher line, for tests of controllers
// whose IRQ numbering differs from the line-number space.
func (f *FakeIRQController) SetLine(irq, line int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lineMap[irq] = line
}

// SetSpurious marks intNum spurious (or not) for the next Classify call.
func (f *FakeIRQController) SetSpurious(intNum int, spurious bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spurious[intNum] = spurious
}

// IsMasked reports whether irq is currently masked.
func (f *FakeIRQController) IsMasked(irq int) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.masked[irq]
}

// EOICount reports how many times EOI has been called for irq.
func (f *FakeIRQController) EOICount(irq int) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.eoiCalls[irq]
}

var _ interfaces.IRQController = (*FakeIRQController)(nil)

// BuildSampleDeviceTree returns a small synthetic device tree rooted at
// "root", with a PIC node, a PIT node, and a console node — enough to drive
// driver-manager attach tests and Boot's console wiring without a real
// boot-time device tree blob. Node shapes match the reference drivers'
// self-registered "compatible" strings.
func BuildSampleDeviceTree() *devicetree.Node {
	root := devicetree.NewNode("root")

	pic := devicetree.NewNode("interrupt-controller")
	pic.SetPropString("compatible", "x86,x86-pic")
	pic.SetProp("int-offset", []byte{0x20})
	pic.SetProp("is-chained", []byte{1})
	pic.SetProp("comm", []byte{0x20, 0x21, 0xA0, 0xA1})
	pic.SetProp("interrupt-controller", []byte{1})
	root.AddChild(pic)

	pit := devicetree.NewNode("timer")
	pit.SetPropString("compatible", "x86,x86-pit")
	root.AddChild(pit)

	con := devicetree.NewNode("console")
	con.SetPropString("inputdev", "stdin")
	con.SetPropString("outputdev", "stdout")
	root.AddChild(con)

	return root
}
