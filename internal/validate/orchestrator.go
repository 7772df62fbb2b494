// Package validate runs the asynchronous customer validation job: every
// record of a campaign is looked up in the customer API under a request
// rate cap, enriched with its phone number and counted into the campaign
// ledger.
package validate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/pkg/enrich"
)

// ErrNoRecords is returned by Submit when the campaign has nothing to
// validate.
var ErrNoRecords = eris.New("no records found for campaign")

// Store is the slice of the persistence layer validation needs.
type Store interface {
	CountRecords(ctx context.Context, campaignID string) (int, error)
	ListRecords(ctx context.Context, campaignID string) ([]model.UploadRecord, error)
	ApplyRecordOps(ctx context.Context, ops []store.RecordOp) error
	CreateJob(ctx context.Context, job *model.ValidationJob) error
	GetJob(ctx context.Context, jobID string) (*model.ValidationJob, error)
	UpdateJob(ctx context.Context, jobID string, patch store.JobPatch) error
	UpsertLedger(ctx context.Context, campaignID string, patch model.LedgerPatch) (*model.CampaignLedger, error)
}

// Lookuper fetches one customer from the enrichment API.
type Lookuper interface {
	Lookup(ctx context.Context, customerID string) (*enrich.LookupResult, error)
}

// Config tunes the orchestrator.
type Config struct {
	// RequestsPerSecond caps lookup calls. Default 5.
	RequestsPerSecond float64
	// ProgressEvery writes job progress after this many records. Default 10.
	ProgressEvery int
	// MaxBatchSize caps record updates per transaction.
	MaxBatchSize int
	// Retry is the per-lookup retry policy. Defaults to the rate-limit
	// policy (3 attempts, 1s/2s backoff on 429).
	Retry resilience.RetryConfig
	// Preflight runs before the first lookup; failure fails the job
	// immediately. Used to verify the token configuration.
	Preflight func(ctx context.Context) error
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 10
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = resilience.RateLimitRetryConfig()
	}
	return c
}

// Orchestrator owns validation job submission and execution.
type Orchestrator struct {
	store    Store
	client   Lookuper
	registry *Registry
	cfg      Config
	limiter  *rate.Limiter
	now      func() time.Time

	// done is closed per run; tests use it to wait for completion.
	onDone func(jobID string)
}

func NewOrchestrator(st Store, client Lookuper, registry *Registry, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		store:    st,
		client:   client,
		registry: registry,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		now:      time.Now,
	}
}

// Submit creates a validation job and starts it in the background. The
// returned job is in the pending state; poll Status for progress.
func (o *Orchestrator) Submit(ctx context.Context, campaignID string) (*model.ValidationJob, error) {
	if campaignID == "" {
		return nil, eris.New("validate: campaign id is required")
	}

	total, err := o.store.CountRecords(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, eris.Wrapf(ErrNoRecords, "campaign %s", campaignID)
	}

	job := &model.ValidationJob{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Status:     model.JobStatusPending,
		Total:      total,
		CreatedAt:  o.now().UTC(),
	}

	runCtx, err := o.registry.Acquire(campaignID, job.ID)
	if err != nil {
		return nil, err
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		o.registry.Release(job.ID)
		return nil, err
	}

	zap.L().Info("validation job submitted",
		zap.String("job_id", job.ID),
		zap.String("campaign_id", campaignID),
		zap.Int("total", total),
	)

	go func() {
		defer o.registry.Release(job.ID)
		o.process(runCtx, job.ID, campaignID)
		if o.onDone != nil {
			o.onDone(job.ID)
		}
	}()

	return job, nil
}

// Status returns the job's current state.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*model.ValidationJob, error) {
	return o.store.GetJob(ctx, jobID)
}

// Cancel stops an in-flight run. It reports whether the job was running in
// this process.
func (o *Orchestrator) Cancel(jobID string) bool {
	return o.registry.Cancel(jobID)
}

func (o *Orchestrator) process(ctx context.Context, jobID, campaignID string) {
	log := zap.L().With(zap.String("job_id", jobID), zap.String("campaign_id", campaignID))

	now := o.now().UTC()
	if err := o.store.UpdateJob(ctx, jobID, store.JobPatch{
		Status:      ptrTo(model.JobStatusProcessing),
		StartedAt:   &now,
		HeartbeatAt: &now,
	}); err != nil {
		log.Error("failed to mark job processing", zap.Error(err))
		return
	}

	if o.cfg.Preflight != nil {
		if err := o.cfg.Preflight(ctx); err != nil {
			o.fail(jobID, "Failed to get authentication token: "+err.Error())
			return
		}
	}

	records, err := o.store.ListRecords(ctx, campaignID)
	if err != nil {
		o.fail(jobID, err.Error())
		return
	}
	if len(records) == 0 {
		o.fail(jobID, "No validated data found for this campaign")
		return
	}

	total := len(records)
	batch := store.NewBatchWriter(o.store, o.cfg.MaxBatchSize)
	var failures []model.FailureRecord
	validated, failed := 0, 0

	for i, rec := range records {
		if ctx.Err() != nil {
			o.fail(jobID, "Validation cancelled")
			return
		}
		if err := o.limiter.Wait(ctx); err != nil {
			o.fail(jobID, "Validation cancelled")
			return
		}

		processed := i + 1

		if rec.CustomerID == "" {
			failed++
			failures = append(failures, model.FailureRecord{
				Row:    rec.ExcelRow,
				Reason: model.ReasonMissingCustomerID,
				Data:   model.RecordFailureData(rec),
			})
		} else if reason, ok := o.validateRecord(ctx, batch, rec); !ok {
			failed++
			failures = append(failures, model.FailureRecord{
				Row:    rec.ExcelRow,
				Reason: reason,
				Data:   model.RecordFailureData(rec),
			})
		} else {
			validated++
		}

		// A cancel mid-lookup surfaces as a lookup failure; catch it here so
		// a cancelled run never reports completed.
		if ctx.Err() != nil {
			o.fail(jobID, "Validation cancelled")
			return
		}

		if processed%o.cfg.ProgressEvery == 0 || processed == total {
			beat := o.now().UTC()
			if err := o.store.UpdateJob(ctx, jobID, store.JobPatch{
				Processed:   &processed,
				Validated:   &validated,
				Failed:      &failed,
				Progress:    ptrTo(model.ProgressPercent(processed, total)),
				HeartbeatAt: &beat,
			}); err != nil {
				log.Warn("progress write failed", zap.Error(err))
			}
		}
	}

	if err := batch.Flush(ctx); err != nil {
		o.fail(jobID, err.Error())
		return
	}

	completedAt := o.now().UTC()
	if _, err := o.store.UpsertLedger(ctx, campaignID, model.LedgerPatch{
		Stage: &model.Counts{
			CustomersValidated:    &validated,
			CustomersFailed:       &failed,
			InvalidCustomersCount: &failed,
			InvalidCustomersData:  failures,
			ValidationCompletedAt: &completedAt,
		},
	}); err != nil {
		o.fail(jobID, err.Error())
		return
	}

	if err := o.store.UpdateJob(ctx, jobID, store.JobPatch{
		Status:        ptrTo(model.JobStatusCompleted),
		Total:         &total,
		Validated:     &validated,
		Failed:        &failed,
		FailedRecords: failures,
		SetFailed:     true,
		CompletedAt:   &completedAt,
	}); err != nil {
		log.Error("failed to mark job completed", zap.Error(err))
		return
	}

	log.Info("validation complete",
		zap.Int("validated", validated),
		zap.Int("failed", failed),
	)
}

// validateRecord looks one customer up and buffers the enrichment update.
// It returns the failure reason when the record cannot be validated.
func (o *Orchestrator) validateRecord(ctx context.Context, batch *store.BatchWriter, rec model.UploadRecord) (string, bool) {
	res, err := resilience.DoVal(ctx, o.cfg.Retry, func(ctx context.Context) (*enrich.LookupResult, error) {
		return o.client.Lookup(ctx, rec.CustomerID)
	})
	if err != nil {
		return enrich.FailureMessage(err), false
	}
	if res.Phone == nil || *res.Phone == "" {
		return model.ReasonPhoneNotAvailable, false
	}

	now := o.now().UTC()
	err = batch.Add(ctx, store.RecordOp{
		Kind:     store.OpUpdate,
		RecordID: rec.ID,
		Update: &store.RecordUpdate{
			PhoneNumber:    res.Phone,
			APIValidated:   ptrTo(true),
			APIValidatedAt: &now,
			CustomerData:   res.Data,
		},
	})
	if err != nil {
		return err.Error(), false
	}
	return "", true
}

// fail transitions the job to failed, best effort: the job may already be
// terminal when the sweeper got there first.
func (o *Orchestrator) fail(jobID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := o.now().UTC()
	err := o.store.UpdateJob(ctx, jobID, store.JobPatch{
		Status:      ptrTo(model.JobStatusFailed),
		Error:       &message,
		CompletedAt: &now,
	})
	if err != nil && !eris.Is(err, store.ErrJobTerminal) {
		zap.L().Error("failed to mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func ptrTo[T any](v T) *T { return &v }
