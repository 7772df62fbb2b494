package main

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/campaign-cli/internal/model"
)

var (
	ledgersCampaignID string
	ledgersCompleted  bool
)

var ledgersCmd = &cobra.Command{
	Use:   "ledgers",
	Short: "Show campaign ledgers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if ledgersCampaignID != "" {
			ledger, err := st.GetLedger(ctx, ledgersCampaignID)
			if err != nil {
				return eris.Wrap(err, "get ledger")
			}
			if ledger == nil {
				return eris.Errorf("no ledger for campaign %s", ledgersCampaignID)
			}
			return enc.Encode(ledger)
		}

		ledgers, err := st.ListLedgers(ctx)
		if err != nil {
			return eris.Wrap(err, "list ledgers")
		}
		if ledgersCompleted {
			ledgers = completedLedgers(ledgers)
		} else {
			sortLedgersByUpload(ledgers)
		}
		return enc.Encode(ledgers)
	},
}

// completedLedgers keeps only campaigns that finished a dialer export,
// most recently exported first.
func completedLedgers(ledgers []model.CampaignLedger) []model.CampaignLedger {
	out := ledgers[:0]
	for _, l := range ledgers {
		if l.HasCompletedCycle() {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].DialerCompletedAt, out[j].DialerCompletedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out
}

// sortLedgersByUpload orders most recently uploaded first. Ledgers with no
// upload yet sink to the end.
func sortLedgersByUpload(ledgers []model.CampaignLedger) {
	sort.SliceStable(ledgers, func(i, j int) bool {
		a, b := ledgers[i].LastUploadAt, ledgers[j].LastUploadAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

func init() {
	ledgersCmd.Flags().StringVar(&ledgersCampaignID, "campaign", "", "show a single campaign's ledger")
	ledgersCmd.Flags().BoolVar(&ledgersCompleted, "completed", false, "only campaigns with a finished dialer export, newest first")
	rootCmd.AddCommand(ledgersCmd)
}
