package console

import (
	"fmt"
	"io"
)

func writePrintf(out io.Writer, format string, args ...any) {
	fmt.Fprintf(out, format, args...)
}
