// Package cmd defines the CLI commands for the edgarfetch executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfilings/edgarfetch/internal/app"
)

var cfgFile string

// appKeyType keys the App in the command context.
type appKeyType struct{}

var appKey appKeyType

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	return app.New(ctx, cfgPath)
}

// newRootCmd creates and configures the root command. The service graph
// is built in PersistentPreRunE and injected into the command context so
// subcommands share one App.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edgarfetch",
		Short: "Retrieves and decomposes regulatory filings",
		Long: `edgarfetch retrieves regulatory filings from the public disclosure
archive. It routes each request to the freshest feed that covers the
requested window, caches filing references locally, downloads complete
submissions under the archive's rate limits, and splits them into their
embedded documents.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close(cmd.Context())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and EDGAR_ environment apply when omitted)")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTickersCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
