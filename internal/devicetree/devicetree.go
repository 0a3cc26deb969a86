// Package devicetree models the read-only node/property tree the driver
// manager walks at boot. A real core would parse this out of a flattened
// device-tree blob handed over by the bootloader; that parser is an
// external collaborator out of this module's scope, so this package instead
// exposes a builder good enough to assemble a tree in memory (for Boot's
// caller, and for the core's own tests).
package devicetree

// Node is a single device-tree node. Built once via NewNode/AddChild/SetProp
// and never mutated afterward — the driver manager only ever reads it.
type Node struct {
	name     string
	props    map[string][]byte
	children []*Node
	phandle  *uint32
}

// NewNode returns a new, childless node with no properties.
func NewNode(name string) *Node {
	return &Node{name: name, props: map[string][]byte{}}
}

// Name returns the node's name.
func (n *Node) Name() string { return n.name }

// SetProp sets a property value. Returns the node so calls can be chained
// while building a tree.
func (n *Node) SetProp(key string, value []byte) *Node {
	n.props[key] = value
	return n
}

// SetPropString is a convenience for setting a property whose value is
// naturally text (e.g. "compatible", "status").
func (n *Node) SetPropString(key, value string) *Node {
	return n.SetProp(key, []byte(value))
}

// Prop returns a property's raw value and whether it was set.
func (n *Node) Prop(key string) ([]byte, bool) {
	v, ok := n.props[key]
	return v, ok
}

// PropString returns a property's value as a string and whether it was set.
func (n *Node) PropString(key string) (string, bool) {
	v, ok := n.props[key]
	if !ok {
		return "", false
	}
	return string(v), true
}

// SetPhandle assigns the node's phandle.
func (n *Node) SetPhandle(p uint32) *Node {
	n.phandle = &p
	return n
}

// Phandle returns the node's phandle, or nil if unset.
func (n *Node) Phandle() *uint32 { return n.phandle }

// AddChild appends a child node and returns it, for chained building.
func (n *Node) AddChild(child *Node) *Node {
	n.children = append(n.children, child)
	return child
}

// Children returns the node's children in registration order. The returned
// slice must not be mutated by callers.
func (n *Node) Children() []*Node {
	return n.children
}

// Compatible returns the node's "compatible" property as a string, or ""
// if unset.
func (n *Node) Compatible() string {
	s, _ := n.PropString("compatible")
	return s
}

// Status returns the node's "status" property, defaulting to "okay" when
// the property is absent — matching devicetree convention.
func (n *Node) Status() string {
	if s, ok := n.PropString("status"); ok {
		return s
	}
	return "okay"
}

// Walk invokes fn for the node and every descendant, pre-order (node before
// children, children before following siblings). fn returning false stops
// the walk below that node but does not abort sibling traversal.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}
