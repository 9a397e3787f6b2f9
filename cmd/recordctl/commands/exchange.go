package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/recordkeeper/internal/exchange"
)

// export <path>: write an archive of the store, or of one document.
func exportCmd(c *cli) *cobra.Command {
	var (
		entities   []string
		documentID string
		exportedBy string
	)
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export records to a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				res exchange.ExportResult
				err error
			)
			if documentID != "" {
				res, err = c.app.Exchange.ExportDocument(cmd.Context(), args[0], documentID)
			} else {
				res, err = c.app.Exchange.Export(cmd.Context(), args[0], exchange.Scope{Entities: entities, ExportedBy: exportedBy})
			}
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printExport(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringSliceVar(&entities, "entities", nil, "entities to export (default all)")
	cmd.Flags().StringVar(&documentID, "document", "", "export a single document with its marks and stages")
	cmd.Flags().StringVar(&exportedBy, "exported-by", "", "actor ID recorded in the manifest")
	cmd.MarkFlagsMutuallyExclusive("entities", "document")
	return cmd
}

// import <path>: merge or append an archive into the store.
func importCmd(c *cli) *cobra.Command {
	var (
		mode   string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import a zip archive produced by export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := c.app.DefaultMode()
			if mode != "" {
				parsed, err := exchange.ParseMode(mode)
				if err != nil {
					return err
				}
				m = parsed
			}

			summary, err := c.app.Exchange.Import(cmd.Context(), args[0], m)
			if err != nil {
				return err
			}
			if c.jsonOut {
				err = printJSON(cmd.OutOrStdout(), summary)
			} else {
				err = printSummary(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				return err
			}
			if strict && len(summary.Errors) > 0 {
				return fmt.Errorf("%d rows failed", len(summary.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "merge or append (default from EXCHANGE_DEFAULT_MODE)")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any row fails")
	return cmd
}

// verify <path>: check an archive against its manifest without importing.
func verifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Verify archive integrity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.app.Exchange.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), m)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, okStyle.Render("OK"), args[0])
			fmt.Fprintf(out, "schema %s, exported %s, %d files\n",
				m.SchemaVersion, m.ExportedAt.Format("2006-01-02 15:04:05Z07:00"), len(m.Files))
			return nil
		},
	}
}
