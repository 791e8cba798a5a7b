package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/batchguard/internal/cmd"
	"github.com/felixgeelhaar/batchguard/internal/exitcode"
	"github.com/felixgeelhaar/batchguard/internal/ux"
)

func main() {
	// Create a context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		exitcode.Exit(exitcode.Success)
	}

	// A cancelled run still reports how it ended; only bare cancellations
	// map to the interrupt code.
	if ctx.Err() == context.Canceled && exitcode.DetermineExitCode(err) == exitcode.GeneralError {
		fmt.Fprintln(os.Stderr, "\nOperation cancelled by user")
		exitcode.Exit(exitcode.Interrupted)
	}

	ux.PrintError(os.Stderr, err)
	exitcode.ExitWithError(err)
}
