package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/service"
)

// newTickersCmd creates the 'tickers' subcommand group.
func newTickersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickers",
		Short: "Manages the ticker-to-CIK reference map",
	}
	cmd.AddCommand(newTickersRefreshCmd())
	cmd.AddCommand(newTickersShowCmd())
	return cmd
}

func newTickersRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Downloads the latest ticker map from the archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			count, err := service.DownloadTickerMap(cmd.Context(), a.Fetcher,
				edgar.TickerMapURL, a.Config.Storage.TickerMapPath)
			if err != nil {
				return fmt.Errorf("refresh ticker map: %w", err)
			}
			cmd.Printf("wrote %s (%d tickers)\n", a.Config.Storage.TickerMapPath, count)
			return nil
		},
	}
}

func newTickersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ticker>",
		Short: "Resolves one ticker symbol to its CIK",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.Tickers == nil {
				return a.TickersErr
			}
			cik, ok := a.Tickers.CIK(args[0])
			if !ok {
				return fmt.Errorf("unknown ticker %q", args[0])
			}
			name, _ := a.Tickers.CompanyName(args[0])
			cmd.Printf("%s\tCIK %d\t%s\n", args[0], cik, name)
			return nil
		},
	}
}
