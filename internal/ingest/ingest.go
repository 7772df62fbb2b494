// Package ingest turns an uploaded spreadsheet into a campaign's active
// record set: parse, normalize headers, archive the file, deduplicate and
// replace the previous upload in one synchronous pass.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/blob"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Store is the slice of the persistence layer ingest needs.
type Store interface {
	ReplaceCampaignRecords(ctx context.Context, campaignID string, records []model.UploadRecord) (int, error)
	UpsertLedger(ctx context.Context, campaignID string, patch model.LedgerPatch) (*model.CampaignLedger, error)
}

var _ Store = (store.Store)(nil)

// Params identifies one spreadsheet upload.
type Params struct {
	CampaignID       string
	FilePath         string
	OriginalFileName string
	UploadedBy       string
	DNC              bool
}

// Result summarizes an ingest run for the caller.
type Result struct {
	Uploaded             int                   `json:"uploaded"`
	Total                int                   `json:"total"`
	Failed               int                   `json:"failed"`
	FailedRows           []int                 `json:"failedRows"`
	FailedRecords        []model.FailureRecord `json:"failedRecords"`
	FileURL              string                `json:"fileUrl"`
	DuplicateCount       int                   `json:"duplicateCount"`
	DNCApplied           bool                  `json:"dncApplied"`
	CampaignID           string                `json:"campaignId"`
	DataReplaced         bool                  `json:"dataReplaced"`
	ReplacedRecordsCount int                   `json:"replacedRecordsCount"`
}

// Ingestor runs the spreadsheet pipeline.
type Ingestor struct {
	store Store
	blob  blob.Storage
	now   func() time.Time
}

func New(st Store, bs blob.Storage) *Ingestor {
	return &Ingestor{store: st, blob: bs, now: time.Now}
}

// IngestSpreadsheet processes one upload end to end. The file is archived
// before deduplication so the archive always holds exactly what the operator
// sent.
func (i *Ingestor) IngestSpreadsheet(ctx context.Context, p Params) (*Result, error) {
	if strings.TrimSpace(p.CampaignID) == "" {
		return nil, eris.New("ingest: campaign id is required")
	}

	rows, err := ParseSheet(p.FilePath)
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	normalized, failed := Normalize(rows, NormalizeOptions{
		CampaignRef: p.CampaignID,
		DNC:         p.DNC,
		UploadedBy:  p.UploadedBy,
		Now:         now,
	})
	totalUploaded := len(normalized)

	fileURL, objectName, err := i.archive(ctx, p, now)
	if err != nil {
		return nil, err
	}

	unique, duplicates := Dedupe(normalized)
	failed = append(failed, duplicates...)
	totalValidated := len(unique)
	duplicateCount := len(duplicates)

	zap.L().Info("spreadsheet parsed",
		zap.String("campaign_id", p.CampaignID),
		zap.Int("rows", len(rows)),
		zap.Int("unique", totalValidated),
		zap.Int("failed", len(failed)),
	)

	uploadedBy := p.UploadedBy
	if uploadedBy == "" {
		uploadedBy = "Unknown"
	}
	originalName := p.OriginalFileName
	if originalName == "" {
		originalName = filepath.Base(p.FilePath)
	}

	patch := model.LedgerPatch{
		DNCEnabled: &p.DNC,
		Stage: &model.Counts{
			TotalUploaded:      &totalUploaded,
			TotalValidatedData: &totalValidated,
			DuplicatesCount:    &duplicateCount,
			DuplicatesData:     duplicates,
		},
		FileURL:          &fileURL,
		FileName:         &objectName,
		OriginalFileName: &originalName,
		UploadedBy:       &uploadedBy,
		LastUploadAt:     &now,
		ExcelUploadedAt:  &now,
	}
	if _, err := i.store.UpsertLedger(ctx, p.CampaignID, patch); err != nil {
		return nil, err
	}

	replaced, err := i.store.ReplaceCampaignRecords(ctx, p.CampaignID, unique)
	if err != nil {
		return nil, err
	}
	if replaced > 0 {
		zap.L().Info("previous upload replaced",
			zap.String("campaign_id", p.CampaignID),
			zap.Int("replaced", replaced),
		)
	}

	failedRows := make([]int, 0, len(failed))
	for _, f := range failed {
		failedRows = append(failedRows, f.Row)
	}

	return &Result{
		Uploaded:             totalValidated,
		Total:                len(rows),
		Failed:               len(failed),
		FailedRows:           failedRows,
		FailedRecords:        failed,
		FileURL:              fileURL,
		DuplicateCount:       duplicateCount,
		DNCApplied:           p.DNC,
		CampaignID:           p.CampaignID,
		DataReplaced:         replaced > 0,
		ReplacedRecordsCount: replaced,
	}, nil
}

// archive stores the original file under a timestamped object name.
func (i *Ingestor) archive(ctx context.Context, p Params, now time.Time) (url, objectName string, err error) {
	f, err := os.Open(p.FilePath)
	if err != nil {
		return "", "", eris.Wrapf(err, "ingest: open upload %s", p.FilePath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", "", eris.Wrap(err, "ingest: stat upload")
	}

	originalName := p.OriginalFileName
	if originalName == "" {
		originalName = filepath.Base(p.FilePath)
	}
	ext := filepath.Ext(originalName)
	base := strings.TrimSuffix(filepath.Base(originalName), ext)
	objectName = base + "_" + now.Format("20060102_150405") + ext

	url, err = i.blob.Put(ctx, objectName, f, info.Size(), xlsxContentType)
	if err != nil {
		return "", "", err
	}
	return url, objectName, nil
}
