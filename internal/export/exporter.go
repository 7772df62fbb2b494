// Package export pushes a campaign's validated records to the outbound
// dialer: phone numbers are normalized, duplicates suppressed, contacts
// bulk-imported and the campaign ledger's pending counts promoted.
package export

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/pkg/dialer"
)

// ErrNoValidatedData is returned when the campaign has no API-validated
// records to export.
var ErrNoValidatedData = eris.New("no validated data found for campaign")

// ErrNoContacts is returned when filtering leaves nothing to upload.
var ErrNoContacts = eris.New("no valid unique contacts to upload after filtering")

// clearConcurrency caps parallel contact deletions during a clear.
const clearConcurrency = 4

// Store is the slice of the persistence layer export needs.
type Store interface {
	ListValidatedRecords(ctx context.Context, campaignID string) ([]model.UploadRecord, error)
	ApplyRecordOps(ctx context.Context, ops []store.RecordOp) error
	UpsertLedger(ctx context.Context, campaignID string, patch model.LedgerPatch) (*model.CampaignLedger, error)
}

// DialerClient is the slice of the dialer API export needs.
type DialerClient interface {
	ListContacts(ctx context.Context, campaignID string) ([]dialer.Contact, error)
	DeleteContact(ctx context.Context, campaignID string, contactID int64) error
	BulkImport(ctx context.Context, campaignID string, contacts []dialer.ContactPayload) (*dialer.ImportResult, error)
}

// Params identifies one export run.
type Params struct {
	CampaignID string
	// ClearExisting removes the campaign's current dialer contacts first.
	ClearExisting bool
}

// Result summarizes an export run.
type Result struct {
	Total             int                   `json:"total"`
	Uploaded          int                   `json:"uploaded"`
	Failed            int                   `json:"failed"`
	FailedRecords     []model.FailureRecord `json:"failedRecords"`
	SkippedInvalid    int                   `json:"skippedInvalid"`
	SkippedDuplicates int                   `json:"skippedDuplicates"`
	JobID             string                `json:"jobId,omitempty"`
}

// Exporter runs dialer exports.
type Exporter struct {
	store    Store
	dialer   DialerClient
	maxBatch int
	now      func() time.Time
}

func New(st Store, dc DialerClient, maxBatchSize int) *Exporter {
	return &Exporter{store: st, dialer: dc, maxBatch: maxBatchSize, now: time.Now}
}

// Export pushes a campaign's validated records to the dialer. Completing the
// bulk import is what finishes the campaign's cycle: the ledger's pending
// counts are promoted in the same patch that records the export results.
func (e *Exporter) Export(ctx context.Context, p Params) (*Result, error) {
	if strings.TrimSpace(p.CampaignID) == "" {
		return nil, eris.New("export: campaign id is required")
	}

	records, err := e.store.ListValidatedRecords(ctx, p.CampaignID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, eris.Wrapf(ErrNoValidatedData, "campaign %s", p.CampaignID)
	}

	if p.ClearExisting {
		e.clearContacts(ctx, p.CampaignID)
	}

	contacts, uploaded, failures := buildContacts(records)
	duplicates := duplicateFailures(failures)
	skipped := len(failures) - len(duplicates)

	if len(contacts) == 0 {
		return nil, eris.Wrapf(ErrNoContacts, "campaign %s", p.CampaignID)
	}

	zap.L().Info("uploading contacts to dialer",
		zap.String("campaign_id", p.CampaignID),
		zap.Int("contacts", len(contacts)),
		zap.Int("skipped", skipped),
		zap.Int("duplicates", len(duplicates)),
	)

	importRes, err := e.dialer.BulkImport(ctx, p.CampaignID, contacts)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	if err := e.markUploaded(ctx, uploaded, importRes.JobID, now); err != nil {
		return nil, err
	}

	uploadedCount := len(contacts)
	failedCount := len(failures)
	dupCount := len(duplicates)
	failedTotal := skipped + dupCount
	patch := model.LedgerPatch{
		Promote:               true,
		UploadedToDialer:      &uploadedCount,
		UploadToDialerFailed:  &failedTotal,
		DialerDuplicatesCount: &dupCount,
		DialerDuplicatesData:  duplicates,
		DialerCompletedAt:     &now,
	}
	if importRes.JobID != "" {
		patch.DialerJobID = &importRes.JobID
	}
	if _, err := e.store.UpsertLedger(ctx, p.CampaignID, patch); err != nil {
		return nil, err
	}

	return &Result{
		Total:             len(records),
		Uploaded:          uploadedCount,
		Failed:            failedCount,
		FailedRecords:     failures,
		SkippedInvalid:    skipped,
		SkippedDuplicates: dupCount,
		JobID:             importRes.JobID,
	}, nil
}

// clearContacts deletes the campaign's existing dialer contacts. Failures
// are logged and skipped: the upload proceeds regardless.
func (e *Exporter) clearContacts(ctx context.Context, campaignID string) {
	contacts, err := e.dialer.ListContacts(ctx, campaignID)
	if err != nil {
		zap.L().Warn("failed to list existing contacts", zap.String("campaign_id", campaignID), zap.Error(err))
		return
	}
	if len(contacts) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clearConcurrency)
	for _, contact := range contacts {
		g.Go(func() error {
			if err := e.dialer.DeleteContact(gctx, campaignID, contact.ID); err != nil {
				zap.L().Warn("failed to delete contact",
					zap.String("campaign_id", campaignID),
					zap.Int64("contact_id", contact.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("cleared existing contacts",
		zap.String("campaign_id", campaignID),
		zap.Int("contacts", len(contacts)),
	)
}

// buildContacts filters and formats records for the dialer. First record to
// claim a phone number wins; later holders are reported as duplicates.
func buildContacts(records []model.UploadRecord) ([]dialer.ContactPayload, []model.UploadRecord, []model.FailureRecord) {
	var contacts []dialer.ContactPayload
	var uploaded []model.UploadRecord
	var failures []model.FailureRecord
	phoneOwner := map[string]string{}

	for _, rec := range records {
		if rec.PhoneNumber == nil || *rec.PhoneNumber == "" {
			failures = append(failures, model.FailureRecord{
				Row:    rec.ExcelRow,
				Reason: model.ReasonPhoneNotAvailable,
				Data:   model.FailureData{CustomerID: rec.CustomerID},
			})
			continue
		}

		phone, ok := NormalizePhone(*rec.PhoneNumber)
		if !ok {
			failures = append(failures, model.FailureRecord{
				Row:    rec.ExcelRow,
				Reason: model.ReasonInvalidPhoneFormat,
				Data:   model.FailureData{CustomerID: rec.CustomerID, PhoneNumber: *rec.PhoneNumber},
			})
			continue
		}

		if owner, taken := phoneOwner[phone]; taken {
			failures = append(failures, model.FailureRecord{
				Row:    rec.ExcelRow,
				Reason: model.ReasonDuplicatePhone(owner),
				Data:   model.FailureData{CustomerID: rec.CustomerID, PhoneNumber: phone},
			})
			continue
		}
		phoneOwner[phone] = rec.CustomerID

		name := "Customer " + rec.CustomerID
		if rec.CampaignName != nil && *rec.CampaignName != "" {
			name = *rec.CampaignName
		}
		customerID := rec.CustomerID
		contacts = append(contacts, dialer.ContactPayload{
			Name:             name,
			PhoneNumber:      phone,
			ExternalUniqueID: &customerID,
		})
		uploaded = append(uploaded, rec)
	}

	return contacts, uploaded, failures
}

func duplicateFailures(failures []model.FailureRecord) []model.FailureRecord {
	var dups []model.FailureRecord
	for _, f := range failures {
		if strings.HasPrefix(f.Reason, "Duplicate phone") {
			dups = append(dups, f)
		}
	}
	return dups
}

// markUploaded flags exported records through batched commits.
func (e *Exporter) markUploaded(ctx context.Context, records []model.UploadRecord, jobID string, at time.Time) error {
	w := store.NewBatchWriter(e.store, e.maxBatch)
	flag := true
	for _, rec := range records {
		update := &store.RecordUpdate{
			UploadedToDialer:   &flag,
			UploadedToDialerAt: &at,
		}
		if jobID != "" {
			update.DialerJobID = &jobID
		}
		if err := w.Add(ctx, store.RecordOp{Kind: store.OpUpdate, RecordID: rec.ID, Update: update}); err != nil {
			return err
		}
	}
	return w.Flush(ctx)
}
