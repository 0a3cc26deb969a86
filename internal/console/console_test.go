package console

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrintAndPrintf(t *testing.T) {
	var buf bytes.Buffer
	c := New(nil, &buf)

	c.Print("hello ")
	c.Printf("world %d", 42)

	require.Equal(t, "hello world 42", buf.String())
}

func TestSwitchMode(t *testing.T) {
	c := New(nil, &bytes.Buffer{})
	require.Equal(t, ModeNormal, c.Mode())
	c.SwitchMode(ModeReport)
	require.Equal(t, ModeReport, c.Mode())
}

func TestPrintIsAtomicAcrossGoroutines(t *testing.T) {
	var buf bytes.Buffer
	c := New(nil, &buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Print("XXXXXXXXXX\n")
		}()
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		require.Equal(t, "XXXXXXXXXX", line)
	}
}

func TestSetOutput(t *testing.T) {
	var first, second bytes.Buffer
	c := New(nil, &first)
	c.Print("a")
	c.SetOutput(&second)
	c.Print("b")

	require.Equal(t, "a", first.String())
	require.Equal(t, "b", second.String())
}
