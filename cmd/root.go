package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/elastic-logger/internal/app"
	"github.com/JakeFAU/elastic-logger/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap in
// an App with a private metrics registry.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "elastic-logger",
		Short: "Streams bike-share trip events from Kafka into a document store.",
		Long: `elastic-logger consumes trip records from a message stream, normalizes
them into documents and indexes them with bounded concurrency. It also
carries a handful of admin commands for the target index.

Configuration comes from --config, ELASTIC_LOGGER_* environment variables,
and the legacy KAFKA_HOST, KAFKA_CHANNEL, KAFKA_GROUP and ELASTIC_INDEX names.`,
		SilenceUsage: true,

		// Build the application after flags are parsed but before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, err := resolveApp(cmd.Context()); err == nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newIngestCmd(),
		newInitCmd(),
		newQueryCmd(),
		newDeleteCmd(),
		newShowCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// runAdmin opens the configured sink, runs op against it and prints done on
// success.
func runAdmin(cmd *cobra.Command, op app.AdminOp, done string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	backend, err := appInstance.NewSink(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.RunAdmin(cmd.Context(), backend, op); err != nil {
		return err
	}
	if done != "" {
		fmt.Fprintln(cmd.OutOrStdout(), done)
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	if err := execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}
