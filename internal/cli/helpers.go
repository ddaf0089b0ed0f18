package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mgreer/stagesync/internal/config"
	"github.com/mgreer/stagesync/internal/db"
	"github.com/mgreer/stagesync/internal/store"
	"github.com/mgreer/stagesync/internal/transport"
)

// loadConfig loads configuration and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if remote, _ := cmd.Flags().GetString("remote"); remote != "" {
		cfg.RemoteURL = remote
	}
	return cfg, nil
}

// openStore opens the database and refuses to run against a schema with
// pending migrations.
func openStore(cfg *config.Config) (*db.DB, *store.Store, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, pending, err := database.MigrationStatus()
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to check migration status: %w", err)
	}
	if len(pending) > 0 {
		database.Close()
		return nil, nil, fmt.Errorf("database requires migration: %d pending migration(s). Run 'stagesyncd migrate' to update", len(pending))
	}

	return database, store.New(database), nil
}

// remoteClient builds a transport client from config, requiring both the
// remote URL and the shared secret.
func remoteClient(cfg *config.Config) (*transport.Client, error) {
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("no remote configured: set STAGESYNC_REMOTE_URL or --remote")
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("no shared secret configured: set STAGESYNC_SECRET")
	}
	return transport.NewClient(cfg.RemoteURL, cfg.SharedSecret), nil
}

func parsePostIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid post id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
