// Command litemq runs the LiteMQ broker and talks to a running one.
//
// Usage:
//
//	litemq [data-dir]                 run the broker (same as "litemq serve")
//	litemq serve [data-dir] [flags]
//	litemq enqueue <queue> [data]     data defaults to stdin
//	litemq dequeue <queue> [--timeout 5s]
//	litemq length <queue>
//	litemq purge <queue>
//	litemq flush
//	litemq health
//	litemq queues
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "litemq: %v\n", err)
		}
		os.Exit(1)
	}
}
