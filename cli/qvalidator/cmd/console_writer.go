package cmd

import (
	"fmt"
	"io"
	"os"
)

// consoleWriter is used to print command output, tests replace it to capture the output.
var consoleWriter consoleWrapper = &writerWrapper{w: os.Stdout}

type (
	consoleWrapper interface {
		Println(a ...any)
		Printf(format string, a ...any)
	}

	writerWrapper struct {
		w io.Writer
	}
)

func (ww *writerWrapper) Println(a ...any) {
	fmt.Fprintln(ww.w, a...)
}

func (ww *writerWrapper) Printf(format string, a ...any) {
	fmt.Fprintf(ww.w, format, a...)
}
