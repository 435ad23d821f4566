// Command pewpew is the CLI front end for the load-testing engine: `run`
// drives a full test to completion, `try` fires a single dependency-ordered
// debug pass (spec.md §6 "External Interfaces").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pewpew",
	Short: "A programmable HTTP load-testing engine",
	Long:  "pewpew runs YAML-configured HTTP load tests: rate-shaped endpoints feeding each other through providers, with streaming and final stats.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// interruptContext derives a context that cancels on the first Ctrl-C and
// then restores default signal handling, so a second Ctrl-C kills a stuck
// shutdown.
func interruptContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		fmt.Fprintln(os.Stderr, "\npewpew: received interrupt, shutting down...")
		cancel()
		signal.Stop(c)
	}()
	return ctx, cancel
}
