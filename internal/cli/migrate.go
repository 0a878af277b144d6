// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// migrateOptions are the migrate flags.
type migrateOptions struct {
	status bool
	down   int
}

func newMigrateCommand(a *app) *cobra.Command {
	var opts migrateOptions
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL schema migrations",
		Long: `Apply pending schema migrations to the configured SQL database and exit.

The server also migrates on startup; this command is for deployments that
run migrations as a separate step. Redis storage has no schema.`,
		Example: `  chatrelay migrate
  chatrelay migrate --status
  chatrelay migrate --down 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.down < 0 {
				return &usageError{err: fmt.Errorf("--down must be positive, got %d", opts.down)}
			}
			return a.runMigrate(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.status, "status", false, "list pending migrations without applying them")
	cmd.Flags().IntVar(&opts.down, "down", 0, "roll back the latest N migrations")
	return cmd
}

func (a *app) runMigrate(ctx context.Context, opts migrateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.cfg.Storage.Driver == config.DriverRedis {
		fmt.Fprintln(a.out, "Storage driver redis has no schema; nothing to migrate.")
		return nil
	}

	store, err := storage.OpenSQLStore(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	switch {
	case opts.status:
		pending, err := store.Pending()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintf(a.out, "%s schema is up to date.\n", store.Driver())
			return nil
		}
		fmt.Fprintf(a.out, "%d pending migration(s):\n", len(pending))
		for _, id := range pending {
			fmt.Fprintf(a.out, "  %s\n", id)
		}
		return nil

	case opts.down > 0:
		n, err := store.Rollback(opts.down)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Rolled back %d migration(s) on %s.\n", n, store.Driver())
		return nil

	default:
		n, err := store.Migrate()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Applied %d migration(s) on %s.\n", n, store.Driver())
		return nil
	}
}
