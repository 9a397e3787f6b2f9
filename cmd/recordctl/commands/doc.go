package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/recordkeeper/internal/audit"
	"github.com/JonMunkholm/recordkeeper/internal/document"
)

func docCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Inspect and sign documents",
	}
	cmd.AddCommand(docShowCmd(c), docSignCmd(c))
	return cmd
}

type docView struct {
	*document.Document
	Audit []audit.Event `json:"audit,omitempty"`
}

func docShowCmd(c *cli) *cobra.Command {
	var auditLimit int
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := c.app.Documents.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view := docView{Document: doc}
			if auditLimit > 0 {
				view.Audit, err = c.app.Store.ListByEntity(cmd.Context(), document.EntityType, doc.ID, auditLimit)
				if err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().IntVar(&auditLimit, "audit", 0, "include the newest N audit events")
	return cmd
}

func docSignCmd(c *cli) *cobra.Command {
	var (
		version int
		actorID string
	)
	cmd := &cobra.Command{
		Use:   "sign <id>",
		Short: "Sign a draft document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := c.app.Actors.Resolve(cmd.Context(), actorID)
			if err != nil {
				return err
			}
			doc, err := c.app.Documents.Sign(cmd.Context(), args[0], version, who)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), doc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s signed by %s, version %d\n",
				okStyle.Render(doc.ID), who.ID, doc.Version)
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "expected document version")
	cmd.Flags().StringVar(&actorID, "actor", "", "signing actor ID")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
