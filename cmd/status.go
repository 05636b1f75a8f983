package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the 'status' subcommand.
func newStatusCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Shows per-feed health and coverage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if refresh {
				if err := a.Service.RefreshFeeds(cmd.Context()); err != nil {
					cmd.PrintErrln("refresh incomplete:", err)
				}
			}

			statuses, err := a.Service.FeedStatuses(cmd.Context())
			if err != nil {
				return fmt.Errorf("feed status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FEED\tHEALTHY\tLAST UPDATED\tFILES\tBYTES\tNOTE")
			for _, st := range statuses {
				updated := "never"
				if !st.LastUpdated.IsZero() {
					updated = st.LastUpdated.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%d\t%s\n",
					st.Kind, st.Healthy, updated, st.FileCount, st.DataSize, st.Message)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "run every feed's update cycle first")
	return cmd
}
