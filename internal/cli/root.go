// Package cli is the gmbatch command tree: run, the hidden worker entry
// point used by parallel runs, and serve.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is stamped into reports; set with -ldflags at build time.
var Version = "dev"

// buildRootCmd constructs the command tree writing to stdout/stderr.
func buildRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "gmbatch",
		Short:         "Batch ground-motion processing over many earthquakes",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newRunCmd(), newWorkerCmd(), newServeCmd())
	return root
}

// MainWithArgs runs the CLI and returns the process exit code.
func MainWithArgs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := buildRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// Main returns an exit code for use by cmd/gmbatch. SIGINT and SIGTERM
// cancel the run, which stops any worker processes.
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return MainWithArgs(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
