package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tally/internal/backend"
	"tally/internal/store/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQLite schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if backend.BackendType(cfg.DataBackend) != backend.SQLiteBackend {
		return fmt.Errorf("migrate only applies to the sqlite backend, DATA_BACKEND is %q", cfg.DataBackend)
	}
	if err := sqlite.RunMigrations(cfg.SQLiteDBPath); err != nil {
		return err
	}
	logger.Info("Migrations applied", "db_path", cfg.SQLiteDBPath)
	return nil
}
