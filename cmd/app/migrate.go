package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BuzzLyutic/kanban-board-api/internal/config"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
	"github.com/BuzzLyutic/kanban-board-api/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx, config.Load())
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := repo.Migrate(ctx, pool, migrations.FS)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	}
}
