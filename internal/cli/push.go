package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mgreer/stagesync/internal/batch"
	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/hooks"
	"github.com/mgreer/stagesync/internal/render"
	"github.com/mgreer/stagesync/internal/transport"
)

var pushCmd = &cobra.Command{
	Use:   "push <post-id>...",
	Short: "Assemble a batch and import it on the remote",
	Long: `Assembles the selected posts and everything they reference into one
batch, sends it to the remote daemon, and polls the import job until it
reaches a terminal state, printing progress messages as they arrive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPush,
}

var pushNoWait bool

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().BoolVar(&pushNoWait, "no-wait", false, "Return after the job is created instead of polling")
}

func runPush(cmd *cobra.Command, args []string) error {
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
	fmt.Printf("batch %s: %d posts, %d attachments, %d users, %d terms\n",
		b.BatchID, len(b.Posts), len(b.Attachments), len(b.Users), len(b.Terms))

	resp, err := client.Send(ctx, payload)
	if err != nil {
		return err
	}
	if resp.JobID == 0 {
		render.Report(os.Stdout, resp.Messages)
		return fmt.Errorf("remote did not create an import job")
	}
	fmt.Printf("import job %d created\n", resp.JobID)

	if pushNoWait {
		return nil
	}
	return pollUntilTerminal(ctx, client, resp.JobID, cfg.PollInterval(), len(payload))
}

// pollUntilTerminal polls the job at a fixed interval, printing only the
// messages that arrived since the previous poll.
func pollUntilTerminal(ctx context.Context, client *transport.Client, jobID int64, interval time.Duration, payloadSize int) error {
	var afterID int64
	for {
		status, err := client.JobStatus(ctx, jobID, afterID)
		if err != nil {
			return err
		}
		for _, m := range status.Messages {
			fmt.Println(render.Line(m.Level, m.Message))
			if m.ID > afterID {
				afterID = m.ID
			}
		}
		if status.Status.Terminal() {
			render.PushSummary(os.Stdout, jobID, status.Status, payloadSize)
			if status.Status == domain.StatusFailed {
				return fmt.Errorf("import job %d failed", jobID)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
