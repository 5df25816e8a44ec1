package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbonduro/buildtrack/internal/config"
	"github.com/vbonduro/buildtrack/internal/db"
	"github.com/vbonduro/buildtrack/internal/pgstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations for the configured backend",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Backend == config.BackendRemote {
		if err := pgstore.Migrate(cfg.PGDSN); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		logger.Info("migrations applied", "backend", cfg.Backend)
		return nil
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	version, dirty, err := db.Version(database)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "backend", cfg.Backend, "version", version, "dirty", dirty)
	return nil
}
