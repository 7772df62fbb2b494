package validate

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/pkg/enrich"
)

type memStore struct {
	mu       sync.Mutex
	records  map[string][]model.UploadRecord
	ops      []store.RecordOp
	jobs     map[string]model.ValidationJob
	progress []int
	ledger   model.CampaignLedger
	patches  []model.LedgerPatch
}

func newMemStore() *memStore {
	return &memStore{
		records: map[string][]model.UploadRecord{},
		jobs:    map[string]model.ValidationJob{},
	}
}

func (m *memStore) CountRecords(_ context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[campaignID]), nil
}

func (m *memStore) ListRecords(_ context.Context, campaignID string) ([]model.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[campaignID], nil
}

func (m *memStore) ApplyRecordOps(_ context.Context, ops []store.RecordOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, ops...)
	return nil
}

func (m *memStore) CreateJob(_ context.Context, job *model.ValidationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStore) GetJob(_ context.Context, jobID string) (*model.ValidationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	out := job
	return &out, nil
}

func (m *memStore) UpdateJob(_ context.Context, jobID string, patch store.JobPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}
	if patch.Status != nil && job.Status.Terminal() && *patch.Status != job.Status {
		return store.ErrJobTerminal
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Total != nil {
		job.Total = *patch.Total
	}
	if patch.Processed != nil {
		job.Processed = *patch.Processed
	}
	if patch.Validated != nil {
		job.Validated = *patch.Validated
	}
	if patch.Failed != nil {
		job.Failed = *patch.Failed
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
		m.progress = append(m.progress, *patch.Progress)
	}
	if patch.SetFailed {
		job.FailedRecords = patch.FailedRecords
	}
	if patch.Error != nil {
		job.Error = patch.Error
	}
	if patch.StartedAt != nil {
		job.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		job.CompletedAt = patch.CompletedAt
	}
	if patch.HeartbeatAt != nil {
		job.HeartbeatAt = patch.HeartbeatAt
	}
	m.jobs[jobID] = job
	return nil
}

func (m *memStore) UpsertLedger(_ context.Context, campaignID string, patch model.LedgerPatch) (*model.CampaignLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, patch)
	m.ledger.CampaignID = campaignID
	m.ledger = model.ApplyPatch(m.ledger, patch)
	out := m.ledger
	return &out, nil
}

type fakeLookuper struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]*enrich.LookupResult
	errs    map[string]error
	block   chan struct{}
}

func newFakeLookuper() *fakeLookuper {
	return &fakeLookuper{
		calls:   map[string]int{},
		results: map[string]*enrich.LookupResult{},
		errs:    map[string]error{},
	}
}

func (f *fakeLookuper) Lookup(ctx context.Context, customerID string) (*enrich.LookupResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[customerID]++
	if err, ok := f.errs[customerID]; ok {
		return nil, err
	}
	if res, ok := f.results[customerID]; ok {
		return res, nil
	}
	return &enrich.LookupResult{CustomerID: customerID}, nil
}

func (f *fakeLookuper) callCount(customerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[customerID]
}

func fastRetry() resilience.RetryConfig {
	cfg := resilience.RateLimitRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func testOrchestrator(st *memStore, client Lookuper) (*Orchestrator, chan string) {
	done := make(chan string, 1)
	o := NewOrchestrator(st, client, NewRegistry(), Config{
		RequestsPerSecond: 10000,
		Retry:             fastRetry(),
	})
	o.onDone = func(jobID string) { done <- jobID }
	return o, done
}

func seedRecords(st *memStore, campaignID string, customerIDs ...string) {
	for i, id := range customerIDs {
		st.records[campaignID] = append(st.records[campaignID], model.UploadRecord{
			ID:          "rec-" + id,
			CampaignRef: campaignID,
			CustomerID:  id,
			ExcelRow:    i + 2,
		})
	}
}

func phone(v string) *string { return &v }

func waitDone(t *testing.T, done chan string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("validation run did not finish")
	}
}

func TestValidationRunCompletes(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	seedRecords(st, "camp-1", "C001", "C002", "C003")

	client := newFakeLookuper()
	client.results["C001"] = &enrich.LookupResult{CustomerID: "C001", Phone: phone("+447911123456")}
	client.results["C002"] = &enrich.LookupResult{CustomerID: "C002"} // exists, no phone
	client.errs["C003"] = &enrich.APIError{StatusCode: http.StatusNotFound}

	o, done := testOrchestrator(st, client)
	job, err := o.Submit(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.Total)

	waitDone(t, done)

	got, err := o.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Validated)
	assert.Equal(t, 2, got.Failed)
	require.Len(t, got.FailedRecords, 2)
	assert.Equal(t, model.ReasonPhoneNotAvailable, got.FailedRecords[0].Reason)
	assert.Equal(t, "Customer ID does not exist", got.FailedRecords[1].Reason)

	// The validated record got its enrichment update.
	require.Len(t, st.ops, 1)
	assert.Equal(t, store.OpUpdate, st.ops[0].Kind)
	assert.Equal(t, "rec-C001", st.ops[0].RecordID)
	require.NotNil(t, st.ops[0].Update.PhoneNumber)
	assert.Equal(t, "+447911123456", *st.ops[0].Update.PhoneNumber)

	// Validation counts staged into the ledger.
	require.Len(t, st.patches, 1)
	require.NotNil(t, st.patches[0].Stage)
	assert.Equal(t, 1, *st.patches[0].Stage.CustomersValidated)
	assert.Equal(t, 2, *st.patches[0].Stage.CustomersFailed)
	require.NotNil(t, st.patches[0].Stage.ValidationCompletedAt)
}

func TestValidationProgressMonotonic(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = string(rune('A'+i%26)) + "x"
	}
	// Unique ids so dedup semantics don't matter here.
	for i := range ids {
		ids[i] = ids[i] + string(rune('0'+i/10)) + string(rune('0'+i%10))
	}
	seedRecords(st, "camp-1", ids...)

	client := newFakeLookuper()
	for _, id := range ids {
		client.results[id] = &enrich.LookupResult{CustomerID: id, Phone: phone("+1555" + id)}
	}

	o, done := testOrchestrator(st, client)
	_, err := o.Submit(context.Background(), "camp-1")
	require.NoError(t, err)
	waitDone(t, done)

	require.NotEmpty(t, st.progress)
	for i := 1; i < len(st.progress); i++ {
		assert.GreaterOrEqual(t, st.progress[i], st.progress[i-1])
	}
	assert.Equal(t, 100, st.progress[len(st.progress)-1])
}

func TestValidationRetriesRateLimitThreeTimes(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	seedRecords(st, "camp-1", "C001")

	client := newFakeLookuper()
	client.errs["C001"] = resilience.NewTransientError(eris.New("throttled"), http.StatusTooManyRequests)

	o, done := testOrchestrator(st, client)
	job, err := o.Submit(context.Background(), "camp-1")
	require.NoError(t, err)
	waitDone(t, done)

	assert.Equal(t, 3, client.callCount("C001"))

	got, err := o.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Failed)
	require.Len(t, got.FailedRecords, 1)
	assert.Equal(t, "Too many requests - rate limit exceeded", got.FailedRecords[0].Reason)
}

func TestSubmitRejectsEmptyCampaign(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	o, _ := testOrchestrator(st, newFakeLookuper())

	_, err := o.Submit(context.Background(), "camp-1")
	require.ErrorIs(t, err, ErrNoRecords)
}

func TestSubmitRejectsConcurrentRun(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	seedRecords(st, "camp-1", "C001")

	client := newFakeLookuper()
	client.block = make(chan struct{})

	o, done := testOrchestrator(st, client)
	_, err := o.Submit(context.Background(), "camp-1")
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), "camp-1")
	require.ErrorIs(t, err, ErrJobRunning)

	close(client.block)
	waitDone(t, done)

	// After the run finishes the campaign is free again.
	seedRecords(st, "camp-1") // no-op, records still present
	_, err = o.Submit(context.Background(), "camp-1")
	require.NoError(t, err)
	waitDone(t, done)
}

func TestCancelFailsJob(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	seedRecords(st, "camp-1", "C001", "C002")

	client := newFakeLookuper()
	client.block = make(chan struct{})

	o, done := testOrchestrator(st, client)
	job, err := o.Submit(context.Background(), "camp-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := o.Status(context.Background(), job.ID)
		return err == nil && got.Status == model.JobStatusProcessing
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, o.Cancel(job.ID))
	waitDone(t, done)

	got, err := o.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "Validation cancelled", *got.Error)
}

func TestPreflightFailureFailsJob(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	seedRecords(st, "camp-1", "C001")

	done := make(chan string, 1)
	o := NewOrchestrator(st, newFakeLookuper(), NewRegistry(), Config{
		RequestsPerSecond: 10000,
		Retry:             fastRetry(),
		Preflight: func(context.Context) error {
			return eris.New("tenant id is missing")
		},
	})
	o.onDone = func(jobID string) { done <- jobID }

	job, err := o.Submit(context.Background(), "camp-1")
	require.NoError(t, err)
	waitDone(t, done)

	got, err := o.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "Failed to get authentication token")
}
