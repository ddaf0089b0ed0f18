// Package cli implements the stagesync and stagesyncd command surfaces.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stagesync",
	Short: "Push content batches from stage to production",
	Long: `stagesync assembles selected posts with everything they reference
(parents, authors, terms, attachments) into one batch and pushes it to a
production stagesyncd, then follows the import until it finishes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the stagesync root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to database file (overrides STAGESYNC_DB_PATH)")
	rootCmd.PersistentFlags().String("remote", "", "Target daemon URL (overrides STAGESYNC_REMOTE_URL)")
}
