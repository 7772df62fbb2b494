package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/campaign-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Record, ledger and
// job documents are stored as JSON with the columns the queries filter on
// lifted out alongside.
type SQLiteStore struct {
	db       *sql.DB
	maxBatch int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, maxBatchSize int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &SQLiteStore{db: db, maxBatch: maxBatchSize}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaign_records (
	id            TEXT PRIMARY KEY,
	campaign_ref  TEXT NOT NULL,
	customer_id   TEXT NOT NULL,
	excel_row     INTEGER NOT NULL DEFAULT 0,
	api_validated INTEGER NOT NULL DEFAULT 0,
	doc           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_ledgers (
	campaign_id TEXT PRIMARY KEY,
	doc         TEXT NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS validation_jobs (
	id           TEXT PRIMARY KEY,
	campaign_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	heartbeat_at DATETIME,
	doc          TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dialer_campaigns (
	id              TEXT PRIMARY KEY,
	doc             TEXT NOT NULL,
	last_fetched_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_campaign ON campaign_records(campaign_ref);
CREATE INDEX IF NOT EXISTS idx_records_campaign_validated ON campaign_records(campaign_ref, api_validated);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON validation_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_campaign ON validation_jobs(campaign_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReplaceCampaignRecords(ctx context.Context, campaignID string, records []model.UploadRecord) (int, error) {
	existing, err := s.listRecordIDs(ctx, campaignID)
	if err != nil {
		return 0, err
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

func (s *SQLiteStore) listRecordIDs(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM campaign_records WHERE campaign_ref = ? ORDER BY excel_row`, campaignID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list record ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate record ids")
}

func (s *SQLiteStore) CountRecords(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_records WHERE campaign_ref = ?`, campaignID).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count records")
}

func (s *SQLiteStore) ListRecords(ctx context.Context, campaignID string) ([]model.UploadRecord, error) {
	return s.listRecords(ctx,
		`SELECT doc FROM campaign_records WHERE campaign_ref = ? ORDER BY excel_row`, campaignID)
}

func (s *SQLiteStore) ListValidatedRecords(ctx context.Context, campaignID string) ([]model.UploadRecord, error) {
	return s.listRecords(ctx,
		`SELECT doc FROM campaign_records WHERE campaign_ref = ? AND api_validated = 1 ORDER BY excel_row`, campaignID)
}

func (s *SQLiteStore) listRecords(ctx context.Context, query string, args ...any) ([]model.UploadRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var records []model.UploadRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		var rec model.UploadRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) ApplyRecordOps(ctx context.Context, ops []RecordOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			doc, err := json.Marshal(op.Record)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal record")
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO campaign_records (id, campaign_ref, customer_id, excel_row, api_validated, doc)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				op.Record.ID, op.Record.CampaignRef, op.Record.CustomerID,
				op.Record.ExcelRow, boolToInt(op.Record.APIValidated), string(doc))
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert record %s", op.Record.ID)
			}

		case OpUpdate:
			var doc string
			err := tx.QueryRowContext(ctx,
				`SELECT doc FROM campaign_records WHERE id = ?`, op.RecordID).Scan(&doc)
			if err == sql.ErrNoRows {
				return eris.Errorf("sqlite: record not found: %s", op.RecordID)
			}
			if err != nil {
				return eris.Wrapf(err, "sqlite: load record %s", op.RecordID)
			}
			var rec model.UploadRecord
			if err := json.Unmarshal([]byte(doc), &rec); err != nil {
				return eris.Wrap(err, "sqlite: unmarshal record")
			}
			applyRecordUpdate(&rec, op.Update)
			updated, err := json.Marshal(rec)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal record")
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE campaign_records SET doc = ?, api_validated = ? WHERE id = ?`,
				string(updated), boolToInt(rec.APIValidated), op.RecordID)
			if err != nil {
				return eris.Wrapf(err, "sqlite: update record %s", op.RecordID)
			}

		case OpDelete:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM campaign_records WHERE id = ?`, op.RecordID); err != nil {
				return eris.Wrapf(err, "sqlite: delete record %s", op.RecordID)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit record ops")
}

func (s *SQLiteStore) GetLedger(ctx context.Context, campaignID string) (*model.CampaignLedger, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM campaign_ledgers WHERE campaign_id = ?`, campaignID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get ledger")
	}
	var ledger model.CampaignLedger
	if err := json.Unmarshal([]byte(doc), &ledger); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal ledger")
	}
	return &ledger, nil
}

func (s *SQLiteStore) UpsertLedger(ctx context.Context, campaignID string, patch model.LedgerPatch) (*model.CampaignLedger, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	ledger := model.CampaignLedger{CampaignID: campaignID}
	var doc string
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM campaign_ledgers WHERE campaign_id = ?`, campaignID).Scan(&doc)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: load ledger")
	}
	if err == nil {
		if err := json.Unmarshal([]byte(doc), &ledger); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal ledger")
		}
	}

	ledger = model.ApplyPatch(ledger, patch)

	updated, err := json.Marshal(ledger)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal ledger")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO campaign_ledgers (campaign_id, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(campaign_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		campaignID, string(updated), time.Now().UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert ledger %s", campaignID)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit ledger")
	}
	return &ledger, nil
}

func (s *SQLiteStore) ListLedgers(ctx context.Context) ([]model.CampaignLedger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM campaign_ledgers`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ledgers")
	}
	defer rows.Close()

	var ledgers []model.CampaignLedger
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger")
		}
		var ledger model.CampaignLedger
		if err := json.Unmarshal([]byte(doc), &ledger); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal ledger")
		}
		ledgers = append(ledgers, ledger)
	}
	return ledgers, eris.Wrap(rows.Err(), "sqlite: iterate ledgers")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.ValidationJob) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_jobs (id, campaign_id, status, heartbeat_at, doc, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.CampaignID, string(job.Status), job.HeartbeatAt, string(doc), job.CreatedAt)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ValidationJob, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM validation_jobs WHERE id = ?`, jobID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrJobNotFound, "sqlite: job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get job")
	}
	var job model.ValidationJob
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal job")
	}
	return &job, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, jobID string, patch JobPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var doc string
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM validation_jobs WHERE id = ?`, jobID).Scan(&doc)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrJobNotFound, "sqlite: job %s", jobID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: load job")
	}
	var job model.ValidationJob
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal job")
	}

	job, err = applyJobPatch(job, patch)
	if err != nil {
		return err
	}

	updated, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE validation_jobs SET doc = ?, status = ?, heartbeat_at = ? WHERE id = ?`,
		string(updated), string(job.Status), job.HeartbeatAt, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", jobID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit job update")
}

func (s *SQLiteStore) ListStaleProcessingJobs(ctx context.Context, heartbeatBefore time.Time) ([]model.ValidationJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM validation_jobs
		 WHERE status = ? AND (heartbeat_at IS NULL OR heartbeat_at <= ?)`,
		string(model.JobStatusProcessing), heartbeatBefore)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale jobs")
	}
	defer rows.Close()

	var jobs []model.ValidationJob
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		var job model.ValidationJob
		if err := json.Unmarshal([]byte(doc), &job); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job")
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate stale jobs")
}

func (s *SQLiteStore) UpsertDialerCampaigns(ctx context.Context, campaigns []DialerCampaign) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range campaigns {
		doc, err := json.Marshal(c)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal dialer campaign")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO dialer_campaigns (id, doc, last_fetched_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, last_fetched_at = excluded.last_fetched_at`,
			c.ID, string(doc), c.LastFetchedAt)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert dialer campaign %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit dialer campaigns")
}

func (s *SQLiteStore) ListDialerCampaigns(ctx context.Context) ([]DialerCampaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM dialer_campaigns ORDER BY last_fetched_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dialer campaigns")
	}
	defer rows.Close()

	var campaigns []DialerCampaign
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dialer campaign")
		}
		var c DialerCampaign
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dialer campaign")
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, eris.Wrap(rows.Err(), "sqlite: iterate dialer campaigns")
}

// helpers

func applyRecordUpdate(rec *model.UploadRecord, u *RecordUpdate) {
	if u == nil {
		return
	}
	if u.PhoneNumber != nil {
		rec.PhoneNumber = u.PhoneNumber
	}
	if u.APIValidated != nil {
		rec.APIValidated = *u.APIValidated
	}
	if u.APIValidatedAt != nil {
		rec.APIValidatedAt = u.APIValidatedAt
	}
	if u.CustomerData != nil {
		rec.CustomerData = u.CustomerData
	}
	if u.UploadedToDialer != nil {
		rec.UploadedToDialer = *u.UploadedToDialer
	}
	if u.UploadedToDialerAt != nil {
		rec.UploadedToDialerAt = u.UploadedToDialerAt
	}
	if u.DialerJobID != nil {
		rec.DialerJobID = u.DialerJobID
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
