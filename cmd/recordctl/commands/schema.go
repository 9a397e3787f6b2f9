package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/recordkeeper/internal/storage/postgres"
)

// schema prints the Postgres DDL applied at startup.
func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "schema",
		Short:       "Print the Postgres schema",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noStore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), postgres.Schema())
			return err
		},
	}
}
