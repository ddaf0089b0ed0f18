package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/mgreer/stagesync/internal/config"
	"github.com/mgreer/stagesync/internal/db"
	"github.com/mgreer/stagesync/internal/hooks"
	"github.com/mgreer/stagesync/internal/importer"
	"github.com/mgreer/stagesync/internal/job"
	"github.com/mgreer/stagesync/internal/media"
	"github.com/mgreer/stagesync/internal/store"
	"github.com/mgreer/stagesync/internal/webhooks"
)

var workerCmd = &cobra.Command{
	Use:    "import-worker",
	Short:  "Run one import job to completion",
	Hidden: true,
	RunE:   runWorker,
}

var workerJob int64

func init() {
	adminCmd.AddCommand(workerCmd)
	workerCmd.Flags().Int64Var(&workerJob, "job", 0, "Import job id")
	workerCmd.MarkFlagRequired("job")
}

// runWorker is the detached process the daemon launches per job. It
// deliberately loads everything fresh; nothing is inherited from the
// request that triggered it.
func runWorker(cmd *cobra.Command, args []string) error {
	if workerJob <= 0 {
		return fmt.Errorf("invalid job id %d", workerJob)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	jobs := job.NewStore(database)
	eng := importer.New(
		store.New(database),
		jobs,
		media.NewFetcher(cfg.MediaDir),
		&hooks.Points{},
		cfg.RelationshipKeys,
	)

	runErr := eng.Run(context.Background(), workerJob)
	if runErr != nil {
		log.Printf("import job %d: %v", workerJob, runErr)
	}

	if len(cfg.NotifyURLs) > 0 {
		webhooks.DispatchJob(jobs, workerJob, cfg.NotifyURLs)
	}
	return runErr
}
