package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgreer/stagesync/internal/render"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of an import job on the remote",
	RunE:  runStatus,
}

var (
	statusJob   int64
	statusWatch bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Int64Var(&statusJob, "job", 0, "Import job id")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Poll until the job is terminal")
	statusCmd.MarkFlagRequired("job")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := remoteClient(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if statusWatch {
		return pollUntilTerminal(ctx, client, statusJob, cfg.PollInterval(), 0)
	}

	status, err := client.JobStatus(ctx, statusJob, 0)
	if err != nil {
		return err
	}
	fmt.Printf("job %d: %s\n", statusJob, status.Status)
	for _, m := range status.Messages {
		fmt.Println(render.Line(m.Level, m.Message))
	}
	return nil
}
