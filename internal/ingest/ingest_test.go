package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/campaign-cli/internal/blob"
	"github.com/sells-group/campaign-cli/internal/model"
)

// writeSheet builds an xlsx fixture. Each row is a slice of cell values; the
// first row is the header.
func writeSheet(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().Value = v
		}
	}
	path := filepath.Join(t.TempDir(), "upload.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

type fakeStore struct {
	records map[string][]model.UploadRecord
	ledger  model.CampaignLedger
	patches []model.LedgerPatch
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string][]model.UploadRecord{}}
}

func (f *fakeStore) ReplaceCampaignRecords(_ context.Context, campaignID string, records []model.UploadRecord) (int, error) {
	prior := len(f.records[campaignID])
	f.records[campaignID] = records
	return prior, nil
}

func (f *fakeStore) UpsertLedger(_ context.Context, campaignID string, patch model.LedgerPatch) (*model.CampaignLedger, error) {
	f.patches = append(f.patches, patch)
	f.ledger.CampaignID = campaignID
	f.ledger = model.ApplyPatch(f.ledger, patch)
	out := f.ledger
	return &out, nil
}

func newTestIngestor(t *testing.T) (*Ingestor, *fakeStore) {
	t.Helper()
	bs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)
	st := newFakeStore()
	ing := New(st, bs)
	ing.now = func() time.Time { return time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC) }
	return ing, st
}

func TestIngestSpreadsheet(t *testing.T) {
	t.Parallel()
	path := writeSheet(t, [][]string{
		{"Customer ID", "Campaign Name"},
		{"C001", "Spring"},
		{"C002", "Spring"},
		{"", "Spring"},
		{"C001", "Spring"},
		{"C003", "Spring"},
	})

	ing, st := newTestIngestor(t)
	res, err := ing.IngestSpreadsheet(context.Background(), Params{
		CampaignID:       "camp-1",
		FilePath:         path,
		OriginalFileName: "customers.xlsx",
		UploadedBy:       "ops@example.com",
		DNC:              true,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.DuplicateCount)
	assert.True(t, res.DNCApplied)
	assert.False(t, res.DataReplaced)
	assert.NotEmpty(t, res.FileURL)

	// Row 4 has no customer id, row 5 repeats C001.
	assert.ElementsMatch(t, []int{4, 5}, res.FailedRows)

	saved := st.records["camp-1"]
	require.Len(t, saved, 3)
	assert.Equal(t, "C001", saved[0].CustomerID)
	assert.Equal(t, 2, saved[0].ExcelRow)
	require.NotNil(t, saved[0].DoNotCall)
	assert.True(t, *saved[0].DoNotCall)

	require.Len(t, st.patches, 1)
	require.NotNil(t, st.patches[0].Stage)
	assert.Equal(t, 4, *st.patches[0].Stage.TotalUploaded)
	assert.Equal(t, 3, *st.patches[0].Stage.TotalValidatedData)
	assert.Equal(t, 1, *st.patches[0].Stage.DuplicatesCount)
	require.NotNil(t, st.patches[0].FileName)
	assert.Equal(t, "customers_20250102_150405.xlsx", *st.patches[0].FileName)
	require.NotNil(t, st.patches[0].UploadedBy)
	assert.Equal(t, "ops@example.com", *st.patches[0].UploadedBy)
}

func TestIngestReplacesPreviousUpload(t *testing.T) {
	t.Parallel()
	path := writeSheet(t, [][]string{
		{"customerId"},
		{"C010"},
	})

	ing, st := newTestIngestor(t)
	st.records["camp-1"] = []model.UploadRecord{{ID: "old-1"}, {ID: "old-2"}}

	res, err := ing.IngestSpreadsheet(context.Background(), Params{
		CampaignID: "camp-1",
		FilePath:   path,
	})
	require.NoError(t, err)
	assert.True(t, res.DataReplaced)
	assert.Equal(t, 2, res.ReplacedRecordsCount)
	assert.Len(t, st.records["camp-1"], 1)
}

func TestIngestRequiresCampaignID(t *testing.T) {
	t.Parallel()
	ing, _ := newTestIngestor(t)
	_, err := ing.IngestSpreadsheet(context.Background(), Params{FilePath: "x.xlsx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "campaign id is required")
}

func TestIngestStagesIntoPendingAfterCompletedCycle(t *testing.T) {
	t.Parallel()
	path := writeSheet(t, [][]string{
		{"customerId"},
		{"C001"},
		{"C002"},
	})

	ing, st := newTestIngestor(t)
	done := time.Now().UTC()
	st.ledger = model.CampaignLedger{
		CampaignID:        "camp-1",
		UploadedToDialer:  10,
		DialerCompletedAt: &done,
		Primary:           model.Counts{TotalUploaded: intp(50)},
	}

	_, err := ing.IngestSpreadsheet(context.Background(), Params{
		CampaignID: "camp-1",
		FilePath:   path,
	})
	require.NoError(t, err)

	// Primary keeps the completed cycle's numbers; the new upload shadows.
	assert.Equal(t, 50, *st.ledger.Primary.TotalUploaded)
	require.NotNil(t, st.ledger.Pending)
	assert.Equal(t, 2, *st.ledger.Pending.TotalUploaded)
}

func intp(v int) *int { return &v }
