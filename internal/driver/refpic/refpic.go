// Package refpic is a software model of an "x86,x86-pic"-compatible
// interrupt controller: the reference IRQController used by the core's own
// tests (scenario 5 of the testable-properties suite) and by any bring-up
// binary that has no real hardware behind it.
package refpic

import (
	"sync"

	"github.com/roos-kernel/utk/internal/devicetree"
	"github.com/roos-kernel/utk/internal/driver"
	"github.com/roos-kernel/utk/internal/interfaces"
)

func init() {
	driver.Register(driver.Descriptor{
		Name:        "ref-pic",
		Description: "software model x86 PIC",
		Compatible:  "x86,x86-pic",
		Version:     "1.0.0",
		Attach:      attach,
	})
}

var (
	instMu   sync.Mutex
	instance *Controller
)

func attach(node *devicetree.Node) error {
	instMu.Lock()
	defer instMu.Unlock()
	instance = NewController()
	return nil
}

// Instance returns the controller attached by the most recent Attach call,
// or nil if none has run yet. Exists so Boot can retrieve what Attach built
// without threading a return value through the driver.Descriptor contract.
func Instance() *Controller {
	instMu.Lock()
	defer instMu.Unlock()
	return instance
}

// Controller is a minimal in-memory IRQController: every IRQ maps 1:1 to a
// dispatcher line, masking is tracked per line, and lines can be marked
// spurious for tests that exercise the dispatcher's spurious-interrupt path.
type Controller struct {
	mu       sync.Mutex
	masked   map[int]bool
	spurious map[int]bool
	eoiCount map[int]int
}

// NewController returns an unmasked, non-spurious controller.
func NewController() *Controller {
	return &Controller{
		masked:   map[int]bool{},
		spurious: map[int]bool{},
		eoiCount: map[int]int{},
	}
}

var _ interfaces.IRQController = (*Controller)(nil)

func (c *Controller) Mask(irq int, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masked[irq] = !enabled
	return nil
}

func (c *Controller) EOI(irq int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eoiCount[irq]++
	return nil
}

func (c *Controller) Classify(intNum int) interfaces.IRQClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spurious[intNum] {
		return interfaces.IRQSpurious
	}
	return interfaces.IRQRegular
}

func (c *Controller) IRQToLine(irq int) int {
	return irq
}

// IsMasked reports whether irq is currently masked, for tests.
func (c *Controller) IsMasked(irq int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.masked[irq]
}

// EOICount reports how many times EOI has been called for irq, for tests.
func (c *Controller) EOICount(irq int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eoiCount[irq]
}

// SetSpurious marks intNum as spurious (or not) for the next Classify call,
// letting tests drive the dispatcher's spurious-interrupt path.
func (c *Controller) SetSpurious(intNum int, spurious bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spurious[intNum] = spurious
}
