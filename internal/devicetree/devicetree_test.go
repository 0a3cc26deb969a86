package devicetree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSampleTree() *Node {
	root := NewNode("root")
	root.AddChild(NewNode("cpus"))
	pic := NewNode("interrupt-controller")
	pic.SetPropString("compatible", "x86,x86-pic")
	root.AddChild(pic)
	disabled := NewNode("legacy-uart")
	disabled.SetPropString("compatible", "ns16550")
	disabled.SetPropString("status", "disabled")
	root.AddChild(disabled)
	return root
}

func TestNodePropsAndStatus(t *testing.T) {
	root := buildSampleTree()

	var names []string
	root.Walk(func(n *Node) bool {
		names = append(names, n.Name())
		return true
	})
	require.Equal(t, []string{"root", "cpus", "interrupt-controller", "legacy-uart"}, names)

	var pic *Node
	for _, c := range root.Children() {
		if c.Name() == "interrupt-controller" {
			pic = c
		}
	}
	require.NotNil(t, pic)
	require.Equal(t, "x86,x86-pic", pic.Compatible())
	require.Equal(t, "okay", pic.Status())

	var uart *Node
	for _, c := range root.Children() {
		if c.Name() == "legacy-uart" {
			uart = c
		}
	}
	require.NotNil(t, uart)
	require.Equal(t, "disabled", uart.Status())
}

func TestNodePhandle(t *testing.T) {
	n := NewNode("clk")
	require.Nil(t, n.Phandle())
	n.SetPhandle(7)
	require.NotNil(t, n.Phandle())
	require.EqualValues(t, 7, *n.Phandle())
}

func TestInitrdHeaderRoundTrip(t *testing.T) {
	h := NewInitrdHeader(4096)
	buf := h.Marshal()
	require.Equal(t, "UTKINIRD", string(h.Magic[:]))

	decoded, err := Unmarshal(buf)
	require.NoError(t, err)
	require.EqualValues(t, 4096, decoded.Size)
	require.Equal(t, h.Magic, decoded.Magic)
	for _, b := range decoded.Reserved {
		require.EqualValues(t, initrdReservedByte, b)
	}
}

func TestInitrdHeaderRejectsBadMagic(t *testing.T) {
	h := NewInitrdHeader(1)
	buf := h.Marshal()
	buf[0] = 'X'
	_, err := Unmarshal(buf)
	require.Error(t, err)
}

func TestInitrdHeaderRejectsTruncated(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	require.Error(t, err)
}
