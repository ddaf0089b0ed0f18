package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgreer/stagesync/internal/config"
	"github.com/mgreer/stagesync/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

var migrateDB string

func init() {
	adminCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrateDB, "db", "", "Database path override (defaults to config)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if migrateDB != "" {
		cfg.DBPath = migrateDB
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	applied, pending, err := database.MigrationStatus()
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if len(pending) == 0 {
		fmt.Printf("database up to date (%d migrations applied)\n", len(applied))
		return nil
	}

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Printf("applied %d migration(s)\n", len(pending))
	return nil
}
