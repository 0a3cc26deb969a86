// Package driver is the driver manager: it matches device-tree nodes to
// compiled-in drivers by their "compatible" string and invokes each match's
// attach routine exactly once. Concrete drivers register themselves into
// the package-level registry from their own init(), the Go-native
// replacement for the linker-section trick a C kernel uses to collect its
// driver table.
package driver

import (
	"sync"

	"github.com/roos-kernel/utk/internal/devicetree"
	"github.com/roos-kernel/utk/internal/logging"
)

// Descriptor is a compiled-in driver's registration entry.
type Descriptor struct {
	Name        string
	Description string
	Compatible  string
	Version     string
	Attach      func(node *devicetree.Node) error
}

var (
	registryMu sync.Mutex
	registry   []Descriptor
)

// Register appends a descriptor to the package-level driver registry.
// Called from a concrete driver package's init().
func Register(d Descriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

// Registry returns a snapshot of the currently registered descriptors, in
// registration order.
func Registry() []Descriptor {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

// AttachResult records the outcome of trying to attach one device-tree
// node, whether or not a matching driver was found.
type AttachResult struct {
	NodeName   string
	Compatible string
	Matched    bool
	DriverName string
	Err        error
}

// Manager walks a device tree and attaches the first registered driver
// whose Compatible string matches each enabled node.
type Manager struct {
	logger *logging.Logger
}

// NewManager returns a Manager that logs attach failures via logger (nil is
// accepted and means silent).
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{logger: logger}
}

// Walk visits root and every descendant pre-order, attempting to attach a
// driver to each node whose status is absent or "okay". A failed attach is
// logged and recorded but never aborts the walk; nodes with no compatible
// driver are recorded as unmatched, not an error.
func (m *Manager) Walk(root *devicetree.Node) []AttachResult {
	var results []AttachResult
	descriptors := Registry()

	root.Walk(func(n *devicetree.Node) bool {
		if n.Status() != "okay" {
			return true
		}
		compat := n.Compatible()
		if compat == "" {
			return true
		}
		result := AttachResult{NodeName: n.Name(), Compatible: compat}
		found := false
		for _, d := range descriptors {
			if d.Compatible != compat {
				continue
			}
			found = true
			result.Matched = true
			result.DriverName = d.Name
			if err := d.Attach(n); err != nil {
				result.Err = err
				if m.logger != nil {
					m.logger.Errorf("driver %s: attach %s: %v", d.Name, n.Name(), err)
				}
			}
			break
		}
		if !found && m.logger != nil {
			m.logger.Debugf("driver: no match for node %s (compatible=%q)", n.Name(), compat)
		}
		results = append(results, result)
		return true
	})

	return results
}

// resetRegistryForTest clears the registry; exported only to _test.go files
// in this package via the lowercase name, so concrete driver packages never
// see it.
func resetRegistryForTest() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = nil
}
