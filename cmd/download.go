package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/service"
)

// newDownloadCmd creates the 'download' subcommand. It reuses search to
// resolve the filings, then drives the batch pool.
func newDownloadCmd() *cobra.Command {
	var (
		forms     []string
		start     string
		end       string
		limit     int
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "download <ticker-or-cik>",
		Short: "Downloads complete submissions for matching filings",
		Long: `Searches for filings and downloads each complete submission into the
payload store. Downloads run through a bounded worker pool; failures are
reported per filing and never stop the rest of the batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if needsTickerMap(args[0]) && a.Tickers == nil && a.TickersErr != nil {
				return a.TickersErr
			}

			refs, err := a.Service.Search(cmd.Context(), service.SearchRequest{
				TickerOrCIK: args[0],
				FormTypes:   forms,
				Start:       start,
				End:         end,
				Limit:       limit,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(refs) == 0 {
				cmd.Println("no filings found")
				return nil
			}

			results, err := a.Service.DownloadBatch(cmd.Context(), refs,
				service.DownloadOptions{Overwrite: overwrite})
			var failed int
			for _, res := range results {
				if res.Err != nil {
					failed++
					a.Logger.Warn("download failed",
						zap.String("accession", res.Ref.AccessionNumber),
						zap.Error(res.Err))
					continue
				}
				cmd.Printf("%s -> %s (%d bytes)\n", res.Ref.AccessionNumber, res.Path, res.Size)
			}
			cmd.Printf("%d downloaded, %d failed\n", len(results)-failed, failed)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d downloads failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&forms, "forms", nil, "form types to match, e.g. 10-K,10-Q")
	cmd.Flags().StringVar(&start, "start", "", "window start (YYYY, YYYY-MM, or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "window end (YYYY, YYYY-MM, or YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 40, "maximum number of filings")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "refetch submissions already on disk")
	return cmd
}
