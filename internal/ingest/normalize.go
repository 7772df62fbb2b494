package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/campaign-cli/internal/model"
)

// Header synonyms accepted for each canonical field. Matching is
// case-insensitive after trimming.
var headerSynonyms = map[string]string{
	"customerid":    "customerId",
	"customer id":   "customerId",
	"customer_id":   "customerId",
	"campaignid":    "campaignId",
	"campaign id":   "campaignId",
	"campaign_id":   "campaignId",
	"campaignname":  "campaignName",
	"campaign name": "campaignName",
	"campaign_name": "campaignName",
}

func canonicalField(header string) (string, bool) {
	field, ok := headerSynonyms[strings.ToLower(strings.TrimSpace(header))]
	return field, ok
}

// NormalizeOptions carries the upload-level inputs applied to every row.
type NormalizeOptions struct {
	CampaignRef string
	DNC         bool
	UploadedBy  string
	Now         time.Time
}

// NormalizedRecord pairs the persisted record with the raw row it came from
// so later failures can echo the original cells.
type NormalizedRecord struct {
	Record model.UploadRecord
	Raw    map[string]string
}

// Normalize maps parsed rows onto upload records. Rows without a customer id
// become failure records; unrecognized columns are ignored.
func Normalize(rows []ParsedRow, opts NormalizeOptions) ([]NormalizedRecord, []model.FailureRecord) {
	var records []NormalizedRecord
	var failed []model.FailureRecord

	for _, row := range rows {
		fields := map[string]string{}
		for header, value := range row.Cells {
			if field, ok := canonicalField(header); ok && strings.TrimSpace(value) != "" {
				fields[field] = strings.TrimSpace(value)
			}
		}

		customerID := fields["customerId"]
		if customerID == "" {
			failed = append(failed, model.FailureRecord{
				Row:    row.Number,
				Reason: model.ReasonMissingCustomerIDField,
				Data:   model.FailureData{RawRow: row.Cells},
			})
			continue
		}

		rec := model.UploadRecord{
			ID:          uuid.New().String(),
			CampaignRef: opts.CampaignRef,
			CustomerID:  customerID,
			UploadedAt:  opts.Now,
			IsActive:    true,
			ExcelRow:    row.Number,
		}
		if v := fields["campaignId"]; v != "" {
			rec.CampaignID = &v
		}
		if v := fields["campaignName"]; v != "" {
			rec.CampaignName = &v
		}
		if opts.DNC {
			dnc := true
			rec.DoNotCall = &dnc
		}
		if opts.UploadedBy != "" {
			by := opts.UploadedBy
			rec.UploadedBy = &by
		}

		records = append(records, NormalizedRecord{Record: rec, Raw: row.Cells})
	}

	return records, failed
}
