package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	validateCampaignID string
	validateJobID      string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate campaign records against the customer API",
}

var validateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a validation run and wait for it to finish",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		orch, err := newOrchestrator(st)
		if err != nil {
			return eris.Wrap(err, "init orchestrator")
		}

		job, err := orch.Submit(ctx, validateCampaignID)
		if err != nil {
			return eris.Wrap(err, "submit validation")
		}
		zap.L().Info("validation started",
			zap.String("job", job.ID),
			zap.Int("total", job.Total),
		)

		// Poll the job document until the run reaches a terminal state.
		lastProgress := -1
		for {
			select {
			case <-ctx.Done():
				orch.Cancel(job.ID)
				return ctx.Err()
			case <-time.After(time.Second):
			}

			current, err := orch.Status(ctx, job.ID)
			if err != nil {
				return eris.Wrap(err, "poll job")
			}
			if current.Progress != lastProgress {
				lastProgress = current.Progress
				zap.L().Info("validation progress",
					zap.Int("percent", current.Progress),
					zap.Int("processed", current.Processed),
					zap.Int("validated", current.Validated),
					zap.Int("failed", current.Failed),
				)
			}
			if current.Status.Terminal() {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(current)
			}
		}
	},
}

var validateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a validation job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		job, err := st.GetJob(ctx, validateJobID)
		if err != nil {
			return eris.Wrap(err, "get job")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func init() {
	validateRunCmd.Flags().StringVar(&validateCampaignID, "campaign", "", "campaign ID (required)")
	_ = validateRunCmd.MarkFlagRequired("campaign")

	validateStatusCmd.Flags().StringVar(&validateJobID, "job", "", "validation job ID (required)")
	_ = validateStatusCmd.MarkFlagRequired("job")

	validateCmd.AddCommand(validateRunCmd)
	validateCmd.AddCommand(validateStatusCmd)
	rootCmd.AddCommand(validateCmd)
}
