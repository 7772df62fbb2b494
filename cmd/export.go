package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/export"
)

var (
	exportCampaignID string
	exportClear      bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Push validated records to the outbound dialer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		dc, err := newDialerClient()
		if err != nil {
			return err
		}

		result, err := export.New(st, dc, cfg.Store.MaxBatchSize).Export(ctx, export.Params{
			CampaignID:    exportCampaignID,
			ClearExisting: exportClear,
		})
		if err != nil {
			return eris.Wrap(err, "export")
		}

		zap.L().Info("export complete",
			zap.String("campaign", exportCampaignID),
			zap.Int("uploaded", result.Uploaded),
			zap.Int("failed", result.Failed),
			zap.String("job", result.JobID),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCampaignID, "campaign", "", "campaign ID (required)")
	exportCmd.Flags().BoolVar(&exportClear, "clear", false, "delete the campaign's existing dialer contacts first")
	_ = exportCmd.MarkFlagRequired("campaign")
	rootCmd.AddCommand(exportCmd)
}
