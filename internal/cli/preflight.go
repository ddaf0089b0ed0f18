package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mgreer/stagesync/internal/batch"
	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/hooks"
	"github.com/mgreer/stagesync/internal/render"
	"github.com/mgreer/stagesync/internal/transport"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight <post-id>...",
	Short: "Validate a batch against the remote without importing",
	Long: `Assembles the selected posts into a batch and asks the remote daemon
to validate it: missing parents, unreachable attachment files, and
content drift on posts the import would overwrite. Nothing is written.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPreflight,
}

func init() {
	rootCmd.AddCommand(preflightCmd)
}

func runPreflight(cmd *cobra.Command, args []string) error {
	ids, err := parsePostIDs(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := remoteClient(cfg)
	if err != nil {
		return err
	}

	database, src, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	pts := &hooks.Points{RelationshipKeys: func() []string { return cfg.RelationshipKeys }}
	b, err := batch.Assemble(ctx, src, pts, ids)
	if err != nil {
		return fmt.Errorf("failed to assemble batch: %w", err)
	}

	payload, err := transport.EncodeBatch(b)
	if err != nil {
		return err
	}

	resp, err := client.Preflight(ctx, payload)
	if err != nil {
		return err
	}
	render.Report(os.Stdout, resp.Messages)

	for _, m := range resp.Messages {
		if m.Level == domain.LevelError {
			return fmt.Errorf("preflight found problems")
		}
	}
	return nil
}
