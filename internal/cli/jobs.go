package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mgreer/stagesync/internal/job"
	"github.com/mgreer/stagesync/internal/render"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List import jobs in the local database",
	Long: `Lists the import jobs recorded in the local database. Useful on the
target side to inspect what has been received and imported.`,
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	list, err := job.NewStore(database).List()
	if err != nil {
		return err
	}
	for _, j := range list {
		render.JobSummary(os.Stdout, j)
	}
	return nil
}
