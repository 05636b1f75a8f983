package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfilings/edgarfetch/internal/service"
)

// newSearchCmd creates the 'search' subcommand.
func newSearchCmd() *cobra.Command {
	var (
		forms []string
		start string
		end   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search <ticker-or-cik>",
		Short: "Searches the archive for filing references",
		Long: `Searches for filings by ticker symbol or CIK. The request window is
routed to the freshest feed that covers it; results are merged with the
local cache and printed newest first.`,
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

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tFORM\tCIK\tCOMPANY\tACCESSION")
			for _, r := range refs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					r.FilingDate.Format("2006-01-02"), r.FormType, r.CIK, r.CompanyName, r.AccessionNumber)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&forms, "forms", nil, "form types to match, e.g. 10-K,10-Q")
	cmd.Flags().StringVar(&start, "start", "", "window start (YYYY, YYYY-MM, or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "window end (YYYY, YYYY-MM, or YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 40, "maximum number of results")
	return cmd
}

// needsTickerMap reports whether the query is a ticker symbol rather
// than a numeric CIK.
func needsTickerMap(query string) bool {
	query = strings.TrimSpace(query)
	for _, r := range query {
		if r < '0' || r > '9' {
			return true
		}
	}
	return query == ""
}
