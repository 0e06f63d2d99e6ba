// Package sqlitequeue implements domain.JobQueue as a durable `async_jobs`
// table over embedded SQLite. The claim transaction follows spec.md
// §4.4/§5's literal contract (`BEGIN IMMEDIATE; SELECT ...; UPDATE ...
// WHERE status='queued'; COMMIT`, rollback if the UPDATE affects zero
// rows), which is SQLite's single-writer translation of the `FOR UPDATE
// SKIP LOCKED` claim pattern in codeready-toolchain-tarsy's
// pkg/queue/worker.go claimNextSession.
package sqlitequeue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/jobs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS async_jobs (
	job_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	available_at TEXT NOT NULL,
	claimed_at TEXT,
	claimed_by TEXT NOT NULL DEFAULT '',
	finished_at TEXT,
	payload TEXT NOT NULL,
	result TEXT,
	error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_async_jobs_status_created ON async_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_async_jobs_tenant_status ON async_jobs(tenant_id, status);
`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("jobs/sqlitequeue: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobs/sqlitequeue: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

var _ domain.JobQueue = (*Store)(nil)

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *Store) Enqueue(ctx context.Context, tenantID string, kind domain.JobKind, payload map[string]any, maxAttempts int, now time.Time) (*domain.JobRecord, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs/sqlitequeue: encode payload: %w", err)
	}
	jobID := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO async_jobs (job_id, kind, tenant_id, status, created_at, available_at, payload, attempts, max_attempts, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?, ?, 0, ?, ?)`,
		jobID, string(kind), tenantID, fmtTime(now), fmtTime(now), string(payloadJSON), maxAttempts, fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/sqlitequeue: enqueue: %w", err)
	}
	return s.Get(ctx, jobID)
}

// Claim implements the literal claim transaction from spec.md §4.4/§5:
// BEGIN IMMEDIATE to take the write lock up front, SELECT one eligible row,
// conditionally UPDATE it to running, and roll back (returning nil, nil) if
// the UPDATE did not affect exactly one row — meaning another worker raced
// it between the SELECT and UPDATE. With SetMaxOpenConns(1) the three
// statements share the single physical SQLite connection across these
// sequential *sql.DB calls, so the transaction state holds between them.
func (s *Store) Claim(ctx context.Context, workerID string, now time.Time) (*domain.JobRecord, error) {
	if _, err := s.db.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("jobs/sqlitequeue: begin immediate: %w", err)
	}
	rollback := func() { _, _ = s.db.ExecContext(ctx, "ROLLBACK") }

	var jobID string
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id FROM async_jobs
		WHERE status = 'queued' AND available_at <= ?
		ORDER BY created_at ASC
		LIMIT 1`, fmtTime(now))
	if err := row.Scan(&jobID); err != nil {
		rollback()
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs/sqlitequeue: select candidate: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE async_jobs
		SET status = 'running', claimed_at = ?, claimed_by = ?, attempts = attempts + 1, updated_at = ?
		WHERE job_id = ? AND status = 'queued'`,
		fmtTime(now), workerID, fmtTime(now), jobID,
	)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("jobs/sqlitequeue: claim update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		rollback()
		return nil, err
	}
	if affected != 1 {
		// Another worker raced this row between the SELECT and UPDATE.
		rollback()
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("jobs/sqlitequeue: commit claim: %w", err)
	}

	return s.Get(ctx, jobID)
}

func (s *Store) Complete(ctx context.Context, jobID string, result map[string]any, now time.Time) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("jobs/sqlitequeue: encode result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE async_jobs SET status = 'succeeded', result = ?, finished_at = ?, updated_at = ? WHERE job_id = ?`,
		string(resultJSON), fmtTime(now), fmtTime(now), jobID,
	)
	if err != nil {
		return fmt.Errorf("jobs/sqlitequeue: complete: %w", err)
	}
	return checkAffected(res)
}

func (s *Store) Fail(ctx context.Context, jobID string, errMsg string, availableAt time.Time, now time.Time) error {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.Attempts >= rec.MaxAttempts {
		res, err := s.db.ExecContext(ctx, `
			UPDATE async_jobs SET status = 'dead_letter', error = ?, finished_at = ?, updated_at = ? WHERE job_id = ?`,
			errMsg, fmtTime(now), fmtTime(now), jobID,
		)
		if err != nil {
			return fmt.Errorf("jobs/sqlitequeue: dead-letter: %w", err)
		}
		return checkAffected(res)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE async_jobs SET status = 'queued', error = ?, available_at = ?, finished_at = NULL, updated_at = ? WHERE job_id = ?`,
		errMsg, fmtTime(availableAt), fmtTime(now), jobID,
	)
	if err != nil {
		return fmt.Errorf("jobs/sqlitequeue: requeue: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

const jobColumns = `job_id, kind, tenant_id, status, created_at, available_at, claimed_at, claimed_by, finished_at, payload, result, error, attempts, max_attempts, updated_at`

func (s *Store) Get(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM async_jobs WHERE job_id = ?`, jobID)
	return scanJob(row)
}

func (s *Store) ListDeadLetter(ctx context.Context, tenantID string, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM async_jobs
		WHERE tenant_id = ? AND status = 'dead_letter'
		ORDER BY created_at DESC
		LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs/sqlitequeue: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.JobRecord
	for rows.Next() {
		rec, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*domain.JobRecord, error) {
	rec, err := scanCommon(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, jobs.ErrNotFound
		}
		return nil, fmt.Errorf("jobs/sqlitequeue: scan job: %w", err)
	}
	return rec, nil
}

func scanJobRows(rows *sql.Rows) (*domain.JobRecord, error) {
	return scanCommon(rows)
}

func scanCommon(s scanner) (*domain.JobRecord, error) {
	var (
		jobID, kind, tenantID, status, createdAt, availableAt, claimedBy, payloadJSON, errMsg, updatedAt string
		claimedAt, finishedAt, resultJSON                                                                sql.NullString
		attempts, maxAttempts                                                                            int
	)
	if err := s.Scan(&jobID, &kind, &tenantID, &status, &createdAt, &availableAt, &claimedAt, &claimedBy, &finishedAt, &payloadJSON, &resultJSON, &errMsg, &attempts, &maxAttempts, &updatedAt); err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("jobs/sqlitequeue: decode payload: %w", err)
	}
	rec := &domain.JobRecord{
		JobID:       jobID,
		TenantID:    tenantID,
		Kind:        domain.JobKind(kind),
		Payload:     payload,
		Status:      domain.JobStatus(status),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		ClaimedBy:   claimedBy,
		LastError:   errMsg,
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result map[string]any
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("jobs/sqlitequeue: decode result: %w", err)
		}
		rec.Result = result
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, err
		}
		rec.FinishedAt = &t
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = created
	available, err := time.Parse(time.RFC3339Nano, availableAt)
	if err != nil {
		return nil, err
	}
	rec.AvailableAt = available
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = updated
	if claimedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, claimedAt.String)
		if err != nil {
			return nil, err
		}
		rec.ClaimedAt = &t
	}
	return rec, nil
}
