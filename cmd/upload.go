package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/ingest"
)

var (
	uploadCampaignID string
	uploadFilePath   string
	uploadedBy       string
	uploadDNC        bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Ingest a campaign spreadsheet",
	Long:  "Parses an xlsx file, normalizes and deduplicates its rows, archives the file, and replaces the campaign's record set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		bs, err := openBlob(ctx)
		if err != nil {
			return eris.Wrap(err, "open blob storage")
		}

		result, err := ingest.New(st, bs).IngestSpreadsheet(ctx, ingest.Params{
			CampaignID:       uploadCampaignID,
			FilePath:         uploadFilePath,
			OriginalFileName: uploadFilePath,
			UploadedBy:       uploadedBy,
			DNC:              uploadDNC,
		})
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("upload complete",
			zap.String("campaign", uploadCampaignID),
			zap.Int("uploaded", result.Uploaded),
			zap.Int("failed", result.Failed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadCampaignID, "campaign", "", "campaign ID (required)")
	uploadCmd.Flags().StringVar(&uploadFilePath, "file", "", "path to xlsx file (required)")
	uploadCmd.Flags().StringVar(&uploadedBy, "uploaded-by", "", "name recorded as the uploader")
	uploadCmd.Flags().BoolVar(&uploadDNC, "dnc", false, "mark all records do-not-call")
	_ = uploadCmd.MarkFlagRequired("campaign")
	_ = uploadCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(uploadCmd)
}
