// workerd runs one rendered worker script, speaking the envelope protocol
// on stdin and stdout. It is started by workerctl in process mode.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/webworker/internal/logging"
	"github.com/danmuck/webworker/internal/observability"
	"github.com/danmuck/webworker/internal/spawn"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	// stdout carries protocol frames; logs go to stderr
	logging.ConfigureRuntime()
	observability.TagApp("workerd")
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "workerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var child spawn.Child
	cmd := &cobra.Command{
		Use:           "workerd --script <path>",
		Short:         "Run one worker script over stdio",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := log.Logger.With().Str("process", "workerd").Logger()
			return spawn.Serve(ctx, child, os.Stdin, os.Stdout, logger)
		},
	}
	child.BindFlags(cmd.Flags())
	return cmd
}
