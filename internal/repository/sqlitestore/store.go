// Package sqlitestore implements domain.MemoryStore over an embedded,
// single-file SQLite database via the pure-Go modernc.org/sqlite driver (no
// cgo). Migrations are out of scope for this repo, so the schema is created
// inline at Open time rather than via a migrations directory.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_items (
	memory_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	type TEXT NOT NULL,
	scope TEXT NOT NULL,
	text TEXT NOT NULL,
	trust_level TEXT NOT NULL,
	confidence REAL NOT NULL,
	salience REAL NOT NULL,
	source_ref TEXT,
	created_at TEXT NOT NULL,
	expires_at TEXT,
	tombstoned INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memory_items_tenant_created ON memory_items(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_memory_items_tenant_scope ON memory_items(tenant_id, scope);

CREATE TABLE IF NOT EXISTS idempotency_records (
	tenant_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	response_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, idempotency_key)
);
`

type Store struct {
	db *sql.DB
}

// Open creates/opens a SQLite file at path ("file::memory:?cache=shared" for
// an in-process ephemeral instance) and ensures the schema exists.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "_busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = dsn + sep + "_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ domain.MemoryStore = (*Store)(nil)

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) Insert(ctx context.Context, m *domain.MemoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_items
			(memory_id, tenant_id, agent_id, type, scope, text, trust_level, confidence, salience, source_ref, created_at, expires_at, tombstoned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MemoryID, m.TenantID, m.AgentID, string(m.Type), string(m.Scope), m.Text, string(m.TrustLevel),
		m.Confidence, m.Salience, m.SourceRef, m.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTime(m.ExpiresAt), boolToInt(m.Tombstoned),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanRecord(row interface {
	Scan(dest ...any) error
}) (*domain.MemoryRecord, error) {
	var rec domain.MemoryRecord
	var typ, scope, trust, createdAt string
	var expiresAt sql.NullString
	var tombstoned int
	err := row.Scan(&rec.MemoryID, &rec.TenantID, &rec.AgentID, &typ, &scope, &rec.Text, &trust,
		&rec.Confidence, &rec.Salience, &rec.SourceRef, &createdAt, &expiresAt, &tombstoned)
	if err != nil {
		return nil, err
	}
	rec.Type = domain.MemoryType(typ)
	rec.Scope = domain.Scope(scope)
	rec.TrustLevel = domain.TrustLevel(trust)
	rec.Tombstoned = tombstoned != 0
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	rec.ExpiresAt, err = parseNullableTime(expiresAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

const selectColumns = `memory_id, tenant_id, agent_id, type, scope, text, trust_level, confidence, salience, source_ref, created_at, expires_at, tombstoned`

func (s *Store) GetByID(ctx context.Context, tenantID, memoryID string) (*domain.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM memory_items WHERE tenant_id = ? AND memory_id = ?`,
		tenantID, memoryID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlitestore: %w", sql.ErrNoRows)
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) Tombstone(ctx context.Context, tenantID, memoryID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_items SET tombstoned = 1 WHERE tenant_id = ? AND memory_id = ?`,
		tenantID, memoryID)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: tombstone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Candidates(ctx context.Context, f domain.CandidateFilter) ([]domain.MemoryRecord, error) {
	conditions := []string{"tenant_id = ?", "tombstoned = 0", "(expires_at IS NULL OR expires_at > ?)"}
	args := []any{f.TenantID, f.Now.UTC().Format(time.RFC3339Nano)}

	if f.TrustMin > 0 {
		allowed := allowedTrustLevels(f.TrustMin)
		placeholders := make([]string, len(allowed))
		for i, t := range allowed {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conditions = append(conditions, "trust_level IN ("+strings.Join(placeholders, ",")+")")
	}

	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conditions = append(conditions, "type IN ("+strings.Join(placeholders, ",")+")")
	}

	query := `SELECT ` + selectColumns + ` FROM memory_items WHERE ` + strings.Join(conditions, " AND ")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func allowedTrustLevels(trustMin float64) []domain.TrustLevel {
	all := []struct {
		level domain.TrustLevel
		score float64
	}{
		{domain.TrustTrustedTool, 1.0},
		{domain.TrustUserClaim, 0.7},
		{domain.TrustUntrustedWeb, 0.35},
	}
	var out []domain.TrustLevel
	for _, a := range all {
		if a.score >= trustMin {
			out = append(out, a.level)
		}
	}
	if len(out) == 0 {
		// trust_min exceeds every known level; match nothing.
		out = append(out, domain.TrustLevel("__none__"))
	}
	return out
}

func (s *Store) PurgeExpired(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_items SET tombstoned = 1
		 WHERE tenant_id = ? AND tombstoned = 0 AND expires_at IS NOT NULL AND expires_at <= ?`,
		tenantID, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: purge_expired: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) GetIdempotent(ctx context.Context, tenantID, key string) (*domain.IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT response_json, created_at FROM idempotency_records WHERE tenant_id = ? AND idempotency_key = ?`,
		tenantID, key)
	var responseJSON, createdAt string
	if err := row.Scan(&responseJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlitestore: get idempotent: %w", err)
	}
	resp, err := decodeResponse(responseJSON)
	if err != nil {
		return nil, err
	}
	at, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	return &domain.IdempotencyRecord{TenantID: tenantID, IdempotencyKey: key, Response: resp, CreatedAt: at}, nil
}

func (s *Store) PutIdempotent(ctx context.Context, rec *domain.IdempotencyRecord) error {
	encoded, err := encodeResponse(rec.Response)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO idempotency_records (tenant_id, idempotency_key, response_json, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id, idempotency_key) DO NOTHING`,
		rec.TenantID, rec.IdempotencyKey, encoded, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlitestore: put idempotent: %w", err)
	}
	return nil
}
