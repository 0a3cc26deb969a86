package refpic

import (
	"testing"

	"github.com/roos-kernel/utk/internal/interfaces"
	"github.com/stretchr/testify/require"
)

func TestControllerMaskAndEOI(t *testing.T) {
	c := NewController()
	require.False(t, c.IsMasked(3))

	require.NoError(t, c.Mask(3, false))
	require.True(t, c.IsMasked(3))

	require.NoError(t, c.Mask(3, true))
	require.False(t, c.IsMasked(3))

	require.NoError(t, c.EOI(3))
	require.NoError(t, c.EOI(3))
	require.Equal(t, 2, c.EOICount(3))
}

func TestControllerClassifySpurious(t *testing.T) {
	c := NewController()
	require.Equal(t, interfaces.IRQRegular, c.Classify(5))

	c.SetSpurious(5, true)
	require.Equal(t, interfaces.IRQSpurious, c.Classify(5))

	c.SetSpurious(5, false)
	require.Equal(t, interfaces.IRQRegular, c.Classify(5))
}

func TestControllerIRQToLineIdentity(t *testing.T) {
	c := NewController()
	require.Equal(t, 9, c.IRQToLine(9))
}

func TestAttachRegistersInstance(t *testing.T) {
	require.NoError(t, attach(nil))
	require.NotNil(t, Instance())
}
