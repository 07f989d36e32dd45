package cmd

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

func newLogger(out io.Writer, verbosity int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(out, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(out, args)
	}, funcr.Options{Verbosity: verbosity})
}
