package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gmbatch/internal/coordinator"
	"gmbatch/internal/logging"
)

func newWorkerCmd() *cobra.Command {
	var jobPath string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one chunk of events (started by run)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, jobPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "", "job file written by the parent process")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

// runWorker logs to the private OUTDIR/<pid>.log the parent merges later and
// writes the WorkerResult as a single JSON line on stdout.
func runWorker(cmd *cobra.Command, jobPath string, stdout io.Writer) error {
	job, err := coordinator.ReadJob(jobPath)
	if err != nil {
		return err
	}
	pid := os.Getpid()
	logPath := coordinator.WorkerLogPath(job.Options.OutDir, pid)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open worker log: %w", err)
	}
	defer f.Close()

	log := logging.New(f, logging.Options{Level: job.LogLevel, Console: true}).
		With().Int("pid", pid).Int("worker", job.Chunk).Logger()
	log.Info().Strs("events", job.EventIDs()).Msg("worker starting")

	res, err := coordinator.RunJob(cmd.Context(), job, log)
	if err != nil {
		log.Error().Err(err).Msg("worker failed")
		return err
	}
	log.Info().Int("events", len(res.Results)).Msg("worker done")
	return json.NewEncoder(stdout).Encode(res)
}
