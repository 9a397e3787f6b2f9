// Package commands implements the recordctl command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/recordkeeper/internal/application"
	"github.com/JonMunkholm/recordkeeper/internal/config"
	"github.com/JonMunkholm/recordkeeper/internal/errmsg"
	"github.com/JonMunkholm/recordkeeper/internal/logging"
)

// noStore marks commands that run without opening the store.
const noStore = "no-store"

// cli carries flag values and the wired application between commands.
type cli struct {
	envFile string
	store   string
	jsonOut bool

	app *application.App
}

// Execute runs the root command and prints a user-facing message on failure.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", errmsg.Format(err))
		fmt.Fprintln(root.ErrOrStderr(), "Detail:", err)
	}
	return err
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "recordctl",
		Short:         "Export, import and inspect records and documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[noStore] == "true" {
				return nil
			}
			return c.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.app != nil {
				c.app.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file to load when present")
	root.PersistentFlags().StringVar(&c.store, "store", "", "store driver override: postgres or memory")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		exportCmd(c),
		importCmd(c),
		verifyCmd(c),
		docCmd(c),
		schemaCmd(),
	)
	return root
}

// open loads configuration and wires the application. Logs go to stderr so
// stdout stays parseable.
func (c *cli) open(ctx context.Context) error {
	if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", c.envFile, err)
	}
	if c.store != "" {
		if err := os.Setenv("STORE_DRIVER", c.store); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	if ctx == nil {
		ctx = context.Background()
	}
	c.app, err = application.New(ctx, cfg, logger)
	return err
}
