package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/model"
)

// Pool is the slice of pgxpool.Pool the store uses, kept narrow so tests can
// substitute a pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store on pgxpool with JSONB documents.
type PostgresStore struct {
	pool     Pool
	maxBatch int
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, maxBatchSize int) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	return NewPostgresWithPool(pool, maxBatchSize), nil
}

// NewPostgresWithPool wraps an existing pool (used by tests).
func NewPostgresWithPool(pool Pool, maxBatchSize int) *PostgresStore {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &PostgresStore{pool: pool, maxBatch: maxBatchSize}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS campaign_records (
	id            TEXT PRIMARY KEY,
	campaign_ref  TEXT NOT NULL,
	customer_id   TEXT NOT NULL,
	excel_row     INTEGER NOT NULL DEFAULT 0,
	api_validated BOOLEAN NOT NULL DEFAULT FALSE,
	doc           JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_ledgers (
	campaign_id TEXT PRIMARY KEY,
	doc         JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validation_jobs (
	id           TEXT PRIMARY KEY,
	campaign_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	heartbeat_at TIMESTAMPTZ,
	doc          JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dialer_campaigns (
	id              TEXT PRIMARY KEY,
	doc             JSONB NOT NULL,
	last_fetched_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_campaign ON campaign_records(campaign_ref);
CREATE INDEX IF NOT EXISTS idx_records_campaign_validated ON campaign_records(campaign_ref, api_validated);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON validation_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_campaign ON validation_jobs(campaign_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ReplaceCampaignRecords(ctx context.Context, campaignID string, records []model.UploadRecord) (int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM campaign_records WHERE campaign_ref = $1 ORDER BY excel_row`, campaignID)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: list record ids")
	}
	var existing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "postgres: scan record id")
		}
		existing = append(existing, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "postgres: iterate record ids")
	}

	w := NewBatchWriter(s, s.maxBatch)
	for _, id := range existing {
		if err := w.Add(ctx, RecordOp{Kind: OpDelete, RecordID: id}); err != nil {
			return 0, err
		}
	}
	for i := range records {
		if err := w.Add(ctx, RecordOp{Kind: OpCreate, Record: &records[i]}); err != nil {
			return 0, err
		}
	}
	if err := w.Flush(ctx); err != nil {
		return 0, err
	}
	return len(existing), nil
}

func (s *PostgresStore) CountRecords(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM campaign_records WHERE campaign_ref = $1`, campaignID).Scan(&n)
	return n, eris.Wrap(err, "postgres: count records")
}

func (s *PostgresStore) ListRecords(ctx context.Context, campaignID string) ([]model.UploadRecord, error) {
	return s.listRecords(ctx,
		`SELECT doc FROM campaign_records WHERE campaign_ref = $1 ORDER BY excel_row`, campaignID)
}

func (s *PostgresStore) ListValidatedRecords(ctx context.Context, campaignID string) ([]model.UploadRecord, error) {
	return s.listRecords(ctx,
		`SELECT doc FROM campaign_records WHERE campaign_ref = $1 AND api_validated ORDER BY excel_row`, campaignID)
}

func (s *PostgresStore) listRecords(ctx context.Context, query string, args ...any) ([]model.UploadRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []model.UploadRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		var rec model.UploadRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) ApplyRecordOps(ctx context.Context, ops []RecordOp) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			doc, err := json.Marshal(op.Record)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal record")
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO campaign_records (id, campaign_ref, customer_id, excel_row, api_validated, doc)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				op.Record.ID, op.Record.CampaignRef, op.Record.CustomerID,
				op.Record.ExcelRow, op.Record.APIValidated, doc)
			if err != nil {
				return eris.Wrapf(err, "postgres: insert record %s", op.Record.ID)
			}

		case OpUpdate:
			var doc []byte
			err := tx.QueryRow(ctx,
				`SELECT doc FROM campaign_records WHERE id = $1 FOR UPDATE`, op.RecordID).Scan(&doc)
			if errors.Is(err, pgx.ErrNoRows) {
				return eris.Errorf("postgres: record not found: %s", op.RecordID)
			}
			if err != nil {
				return eris.Wrapf(err, "postgres: load record %s", op.RecordID)
			}
			var rec model.UploadRecord
			if err := json.Unmarshal(doc, &rec); err != nil {
				return eris.Wrap(err, "postgres: unmarshal record")
			}
			applyRecordUpdate(&rec, op.Update)
			updated, err := json.Marshal(rec)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal record")
			}
			_, err = tx.Exec(ctx,
				`UPDATE campaign_records SET doc = $1, api_validated = $2 WHERE id = $3`,
				updated, rec.APIValidated, op.RecordID)
			if err != nil {
				return eris.Wrapf(err, "postgres: update record %s", op.RecordID)
			}

		case OpDelete:
			if _, err := tx.Exec(ctx,
				`DELETE FROM campaign_records WHERE id = $1`, op.RecordID); err != nil {
				return eris.Wrapf(err, "postgres: delete record %s", op.RecordID)
			}
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit record ops")
}

func (s *PostgresStore) GetLedger(ctx context.Context, campaignID string) (*model.CampaignLedger, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM campaign_ledgers WHERE campaign_id = $1`, campaignID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get ledger")
	}
	var ledger model.CampaignLedger
	if err := json.Unmarshal(doc, &ledger); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal ledger")
	}
	return &ledger, nil
}

func (s *PostgresStore) UpsertLedger(ctx context.Context, campaignID string, patch model.LedgerPatch) (*model.CampaignLedger, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ledger := model.CampaignLedger{CampaignID: campaignID}
	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT doc FROM campaign_ledgers WHERE campaign_id = $1 FOR UPDATE`, campaignID).Scan(&doc)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: load ledger")
	}
	if err == nil {
		if err := json.Unmarshal(doc, &ledger); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal ledger")
		}
	}

	ledger = model.ApplyPatch(ledger, patch)

	updated, err := json.Marshal(ledger)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal ledger")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO campaign_ledgers (campaign_id, doc, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (campaign_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		campaignID, updated, time.Now().UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert ledger %s", campaignID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit ledger")
	}
	return &ledger, nil
}

func (s *PostgresStore) ListLedgers(ctx context.Context) ([]model.CampaignLedger, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM campaign_ledgers`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ledgers")
	}
	defer rows.Close()

	var ledgers []model.CampaignLedger
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger")
		}
		var ledger model.CampaignLedger
		if err := json.Unmarshal(doc, &ledger); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal ledger")
		}
		ledgers = append(ledgers, ledger)
	}
	return ledgers, eris.Wrap(rows.Err(), "postgres: iterate ledgers")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ValidationJob) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_jobs (id, campaign_id, status, heartbeat_at, doc, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.CampaignID, string(job.Status), job.HeartbeatAt, doc, job.CreatedAt)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ValidationJob, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM validation_jobs WHERE id = $1`, jobID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrJobNotFound, "postgres: job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get job")
	}
	var job model.ValidationJob
	if err := json.Unmarshal(doc, &job); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal job")
	}
	return &job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, jobID string, patch JobPatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT doc FROM validation_jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrJobNotFound, "postgres: job %s", jobID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: load job")
	}
	var job model.ValidationJob
	if err := json.Unmarshal(doc, &job); err != nil {
		return eris.Wrap(err, "postgres: unmarshal job")
	}

	job, err = applyJobPatch(job, patch)
	if err != nil {
		return err
	}

	updated, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job")
	}
	_, err = tx.Exec(ctx,
		`UPDATE validation_jobs SET doc = $1, status = $2, heartbeat_at = $3 WHERE id = $4`,
		updated, string(job.Status), job.HeartbeatAt, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", jobID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit job update")
}

func (s *PostgresStore) ListStaleProcessingJobs(ctx context.Context, heartbeatBefore time.Time) ([]model.ValidationJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM validation_jobs
		 WHERE status = $1 AND (heartbeat_at IS NULL OR heartbeat_at <= $2)`,
		string(model.JobStatusProcessing), heartbeatBefore)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale jobs")
	}
	defer rows.Close()

	var jobs []model.ValidationJob
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		var job model.ValidationJob
		if err := json.Unmarshal(doc, &job); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job")
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate stale jobs")
}

func (s *PostgresStore) UpsertDialerCampaigns(ctx context.Context, campaigns []DialerCampaign) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range campaigns {
		doc, err := json.Marshal(c)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal dialer campaign")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO dialer_campaigns (id, doc, last_fetched_at) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, last_fetched_at = EXCLUDED.last_fetched_at`,
			c.ID, doc, c.LastFetchedAt)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert dialer campaign %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit dialer campaigns")
}

func (s *PostgresStore) ListDialerCampaigns(ctx context.Context) ([]DialerCampaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM dialer_campaigns ORDER BY last_fetched_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dialer campaigns")
	}
	defer rows.Close()

	var campaigns []DialerCampaign
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dialer campaign")
		}
		var c DialerCampaign
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dialer campaign")
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, eris.Wrap(rows.Err(), "postgres: iterate dialer campaigns")
}
