package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/store"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Manage the dialer campaign catalog",
}

var campaignsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch campaign definitions from the dialer and cache them",
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

		campaigns, err := dc.ListCampaigns(ctx)
		if err != nil {
			return eris.Wrap(err, "list dialer campaigns")
		}

		now := time.Now().UTC()
		cached := make([]store.DialerCampaign, 0, len(campaigns))
		for _, c := range campaigns {
			cached = append(cached, toDialerCampaign(c, now))
		}
		if err := st.UpsertDialerCampaigns(ctx, cached); err != nil {
			return eris.Wrap(err, "cache campaigns")
		}

		zap.L().Info("campaign sync complete", zap.Int("count", len(cached)))
		return nil
	},
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached dialer campaigns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		campaigns, err := st.ListDialerCampaigns(ctx)
		if err != nil {
			return eris.Wrap(err, "list campaigns")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(campaigns)
	},
}

func init() {
	campaignsCmd.AddCommand(campaignsSyncCmd)
	campaignsCmd.AddCommand(campaignsListCmd)
	rootCmd.AddCommand(campaignsCmd)
}
