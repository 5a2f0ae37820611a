package main

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/iota-uz/inventory-core/pkg/configuration"
)

func newMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the inventory schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := configuration.Use()
			db, err := sql.Open("pgx", conf.Database.Opts)
			if err != nil {
				return fmt.Errorf("db open failed: %w", err)
			}
			defer func() { _ = db.Close() }()

			if err := goose.SetDialect("postgres"); err != nil {
				return err
			}

			dir := filepath.Join(conf.MigrationsDir, "inventory")
			if down {
				return goose.Down(db, dir)
			}
			return goose.Up(db, dir)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back the most recent migration instead of applying")
	return cmd
}
