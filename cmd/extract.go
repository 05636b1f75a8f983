package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// newExtractCmd creates the 'extract' subcommand.
func newExtractCmd() *cobra.Command {
	var (
		form string
		date string
	)
	cmd := &cobra.Command{
		Use:   "extract <cik> <accession-number>",
		Short: "Downloads a submission and lists its embedded documents",
		Long: `Downloads the complete submission if needed, splits it into its
embedded documents, and prints them with the primary report flagged.
Repeated extracts of the same accession answer from the local cache.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cik, err := edgar.ParseCIK(args[0])
			if err != nil || cik <= 0 {
				return fmt.Errorf("invalid cik %q", args[0])
			}
			filed, err := time.Parse("2006-01-02", date)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			ref := edgar.FilingReference{
				CIK:             cik,
				FormType:        form,
				FilingDate:      filed,
				AccessionNumber: args[1],
				SubmissionURL:   edgar.SubmissionURL(cik, args[1]),
			}
			if !ref.Valid() {
				return fmt.Errorf("invalid accession number %q", args[1])
			}

			res, err := a.Service.Extract(cmd.Context(), ref)
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTYPE\tFILENAME\tBYTES\tPRIMARY")
			for _, doc := range res.Documents {
				marker := ""
				if doc.IsPrimary {
					marker = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
					doc.SequenceNumber, doc.Type, doc.Filename, doc.ByteSize, marker)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(res.Warnings) > 0 {
				cmd.Println("warnings:")
				for _, warning := range res.Warnings {
					cmd.Println("  " + warning)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&form, "form", "", "form type of the filing, used for primary-document selection")
	cmd.Flags().StringVar(&date, "date", "", "filing date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("form")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
