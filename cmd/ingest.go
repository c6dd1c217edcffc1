// Package cmd defines and implements the CLI commands for the elastic-logger executable.
package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newIngestCmd creates the command that streams records into the sink until
// interrupted.
func newIngestCmd() *cobra.Command {
	var maxEvents int64
	cmd := &cobra.Command{
		Use:     "kafka",
		Aliases: []string{"ingest"},
		Short:   "Stream trip records from the source into the sink",
		Long: `Reads trip records from the configured source, converts each one into a
document and persists it through the task engine. Runs until interrupted
(SIGINT/SIGTERM) or until --max-events records have been consumed. In-flight
writes are always drained before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if maxEvents < 0 {
				return fmt.Errorf("--max-events must be >= 0")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			src, err := appInstance.NewSource(ctx)
			if err != nil {
				return err
			}
			backend, err := appInstance.NewSink(ctx)
			if err != nil {
				return errors.Join(err, src.Close())
			}

			result, err := appInstance.Ingest(ctx, src, backend, cmd.OutOrStdout(), maxEvents)
			fmt.Fprintf(cmd.OutOrStdout(), "%d events transferred\n", result.Ingest.Persisted)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&maxEvents, "max-events", 0, "stop after consuming this many records (0 runs until interrupted)")
	return cmd
}
