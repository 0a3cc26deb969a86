package sched

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the calling goroutine's runtime id by parsing the
// "goroutine N [...]:" header of a single-goroutine stack dump. There is no
// supported Go API for this; the core needs it anyway to let CurrentThread/
// CurrentCPU work from inside whichever goroutine happens to be executing a
// kernel thread's entry function, the same way the reference pack's
// goroutineid-style helpers do (see DESIGN.md for why a narrower hand-rolled
// version is used here instead of an imported goroutine-id package).
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
