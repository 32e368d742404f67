package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/example/assistant-calendar/internal/config"
	"github.com/example/assistant-calendar/internal/persistence/sqlite"
	"github.com/example/assistant-calendar/internal/persistence/sqlite/migration"
)

func newMigrateCommand(rt *cli) *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQLite schema migrations",
		Long: `Apply the embedded schema migrations to the configured SQLite database.

Examples:
  # Apply pending migrations
  assistant migrate

  # Show applied and pending versions without changing anything
  assistant migrate --status
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.Storage != config.StorageSQLite {
				return fmt.Errorf("migrate requires sqlite storage, configured storage is %q", rt.cfg.Storage)
			}
			ctx := cmd.Context()
			pool, err := sqlite.NewConnectionPool(ctx, migration.DefaultSQLiteConfig(rt.cfg.SQLiteDSN))
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			if statusOnly {
				status, err := migration.NewManager(pool.DB(), nil, rt.logger).Status(ctx)
				if err != nil {
					return err
				}
				printStatus(out, status)
				return nil
			}

			applied, err := pool.Migrate(ctx, rt.logger)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintf(out, "applied migration %s\n", version)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "Report migration status without applying anything")
	return cmd
}

func printStatus(w io.Writer, status migration.Status) {
	current := status.CurrentVersion
	if current == "" {
		current = "none"
	}
	fmt.Fprintf(w, "current version: %s\n", current)
	for _, m := range status.Applied {
		fmt.Fprintf(w, "applied  %s  %s\n", m.Version, m.AppliedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Description)
	}
}
