package cli

import (
	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "stagesyncd",
	Short: "Production-side daemon receiving content batches",
	Long: `stagesyncd listens for batches pushed from a stage environment,
validates them, and imports them in detached background workers.
Run with no subcommand to serve.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var (
	serveAddr     string
	serveUnix     string
	serveSecret   string
	serveDB       string
	serveMediaDir string
)

// ExecuteAdmin runs the stagesyncd command tree.
func ExecuteAdmin() error {
	return adminCmd.Execute()
}

func init() {
	adminCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default 127.0.0.1:7373)")
	adminCmd.Flags().StringVar(&serveUnix, "unix", "", "Listen on unix socket path")
	adminCmd.Flags().StringVar(&serveSecret, "secret", "", "Shared secret (overrides STAGESYNC_SECRET)")
	adminCmd.Flags().StringVar(&serveDB, "db", "", "Database path override (defaults to config)")
	adminCmd.Flags().StringVar(&serveMediaDir, "media-dir", "", "Media root override (defaults to config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	return ServeDaemon(DaemonOptions{
		Addr:     serveAddr,
		Unix:     serveUnix,
		Secret:   serveSecret,
		DBPath:   serveDB,
		MediaDir: serveMediaDir,
	})
}
