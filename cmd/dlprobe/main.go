// Command dlprobe opens shared libraries and inspects their symbols.
//
//	dlprobe filename m
//	dlprobe locate --search-dir ./lib sqlite3
//	dlprobe find libm.so.6 cos sin
//	dlprobe call ./libfoo.so foo_inc 41
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
)

// errReported marks a failure already reported to the user.
var errReported = errors.New("failed")

func main() {
	os.Exit(Main())
}

// Main runs dlprobe with os.Args and returns the exit status.
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "dlprobe:", err)
		}
		return 1
	}
	return 0
}
