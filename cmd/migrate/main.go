package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"EqaLedger/internal/config"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, dsn, dir string

	open := func(ctx context.Context) (*sql.DB, *persistence.Migrator, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		if dsn == "" {
			dsn = cfg.Postgres.DSN
		}
		if dir == "" {
			dir = cfg.Postgres.MigrationsDir
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping db: %w", err)
		}
		return db, persistence.NewMigrator(db, dir, observability.NewLogger("migrate")), nil
	}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back EqaLedger schema migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("EQA_CONFIG"), "path to TOML config file")
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (default from config / EQA_POSTGRES_DSN)")
	root.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default from config / EQA_MIGRATIONS_DIR)")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			rolledBack, err := m.Down(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			if !rolledBack {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "last migration rolled back")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, m, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tFILE\tAPPLIED\tAT")
			for _, s := range statuses {
				at := "-"
				if s.Applied && !s.AppliedAt.IsZero() {
					at = s.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.Version, s.Filename, s.Applied, at)
			}
			return w.Flush()
		},
	})

	return root
}
