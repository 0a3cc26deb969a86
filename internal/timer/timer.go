// Package timer maintains the core's four named time sources (one main
// tick, one wall clock, one monotonic "lifetime" clock, and an auxiliary
// set) and converts between ticks and nanoseconds for the rest of the core.
package timer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/roos-kernel/utk/internal/errcode"
	"github.com/roos-kernel/utk/internal/interfaces"
)

// Slot names one of the layer's timer bindings.
type Slot int

const (
	SlotMain Slot = iota
	SlotRTC
	SlotLifetime
	SlotAux
)

type binding struct {
	driver interfaces.TimerDriver
	slot   Slot
}

// Layer owns the bound timer drivers and the tick/time conversions derived
// from them.
type Layer struct {
	mu        sync.Mutex
	main      *binding
	rtc       *binding
	lifetime  *binding
	aux       []*binding
	auxOn     []bool
	localTicks uint64 // MAIN-tick fallback counter, valid even before a scheduler registers hooks
}

// NewLayer returns an empty timer layer with no bound drivers.
func NewLayer() *Layer {
	return &Layer{}
}

// AddTimer validates and binds d into the named slot. The MAIN binding has
// the layer's own tick callback installed and is enabled immediately; RTC
// and LIFETIME bindings are enabled immediately with no tick callback
// installed; AUX bindings are stored disabled until EnableAux is called.
func (l *Layer) AddTimer(d interfaces.TimerDriver, slot Slot) error {
	if d == nil {
		return errcode.NullPointer
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := &binding{driver: d, slot: slot}
	switch slot {
	case SlotMain:
		l.main = b
		if err := d.SetTickHandler(l.onTick); err != nil {
			return err
		}
		return d.Enable()
	case SlotRTC:
		l.rtc = b
		return d.Enable()
	case SlotLifetime:
		l.lifetime = b
		return d.Enable()
	case SlotAux:
		l.aux = append(l.aux, b)
		l.auxOn = append(l.auxOn, false)
		return nil
	default:
		return errcode.IncorrectValue
	}
}

// EnableAux enables the i'th AUX timer registered so far.
func (l *Layer) EnableAux(i int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.aux) {
		return errcode.OutOfBound
	}
	if err := l.aux[i].driver.Enable(); err != nil {
		return err
	}
	l.auxOn[i] = true
	return nil
}

// onTick is installed as the MAIN driver's tick handler.
func (l *Layer) onTick() {
	atomic.AddUint64(&l.localTicks, 1)

	l.mu.Lock()
	main := l.main
	l.mu.Unlock()

	if main != nil {
		if tm, ok := main.driver.(interfaces.TickManager); ok {
			tm.OnTick()
		}
	}

	if hooks != nil {
		hooks.TickAllCPUs()
		hooks.ScheduleNoInt()
	}
}

// UptimeNs reports elapsed nanoseconds since boot, preferring the LIFETIME
// source, falling back to MAIN's own nanosecond reading, and finally to a
// tick-count-derived estimate.
func (l *Layer) UptimeNs() uint64 {
	l.mu.Lock()
	lifetime, main := l.lifetime, l.main
	l.mu.Unlock()

	if lifetime != nil {
		if ns, ok := lifetime.driver.TimeNs(); ok {
			return ns
		}
	}
	if main != nil {
		if ns, ok := main.driver.TimeNs(); ok {
			return ns
		}
	}
	if main == nil {
		return 0
	}
	freq := main.driver.Frequency()
	if freq == 0 {
		return 0
	}
	ticks := atomic.LoadUint64(&l.localTicks)
	if hooks != nil {
		if hookTicks := hooks.MaxTick(); hookTicks > ticks {
			ticks = hookTicks
		}
	}
	return ticks * 1_000_000_000 / freq
}

// DayTime reports time-of-day as an offset from midnight, using the RTC
// source if bound and able to answer; else zero.
func (l *Layer) DayTime() time.Duration {
	l.mu.Lock()
	rtc := l.rtc
	l.mu.Unlock()

	if rtc == nil {
		return 0
	}
	if d, ok := rtc.driver.DayTime(); ok {
		return d
	}
	return 0
}

// WaitNoSched busy-waits for approximately d, without involving the
// scheduler. Valid pre-boot (before any CPU loop exists) and from inside
// the panic handler.
func (l *Layer) WaitNoSched(d time.Duration) {
	l.mu.Lock()
	lifetime, main := l.lifetime, l.main
	l.mu.Unlock()

	if lifetime != nil {
		if start, ok := lifetime.driver.TimeNs(); ok {
			target := start + uint64(d.Nanoseconds())
			for {
				now, ok := lifetime.driver.TimeNs()
				if !ok || now >= target {
					return
				}
			}
		}
	}
	if main != nil {
		if start, ok := main.driver.TimeNs(); ok {
			target := start + uint64(d.Nanoseconds())
			for {
				now, ok := main.driver.TimeNs()
				if !ok || now >= target {
					return
				}
			}
		}
		freq := main.driver.Frequency()
		if freq > 0 {
			startTicks := atomic.LoadUint64(&l.localTicks)
			targetDelta := uint64(d.Nanoseconds()) * freq / 1_000_000_000
			for atomic.LoadUint64(&l.localTicks)-startTicks < targetDelta {
			}
			return
		}
	}
}

// Main returns the bound MAIN driver, or nil if none is bound.
func (l *Layer) Main() interfaces.TimerDriver {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.main == nil {
		return nil
	}
	return l.main.driver
}
