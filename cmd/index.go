package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newIndexCmd creates the 'index' subcommand group.
func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspects and exports the merged filing index",
	}
	cmd.AddCommand(newIndexExportCmd())
	return cmd
}

func newIndexExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <dest.parquet>",
		Short: "Exports the merged filing index to a Parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Index.ExportParquet(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("export filing index: %w", err)
			}
			n, err := a.Index.Count(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("wrote %s (%d filings)\n", args[0], n)
			return nil
		},
	}
}
