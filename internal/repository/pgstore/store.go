// Package pgstore implements domain.MemoryStore over a networked Postgres
// database, adapted from the teacher's pgx/v5 + pgxpool store layer. It adds
// a VECTOR(1536) embedding column populated by an internal/embedding
// collaborator and offers CandidatesByVector, a cosine-distance ordered
// candidate query. Repository.Recall does not call it: recall always goes
// through Candidates and the same scoring path every other backend uses.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
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
	confidence DOUBLE PRECISION NOT NULL,
	salience DOUBLE PRECISION NOT NULL,
	source_ref TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	tombstoned BOOLEAN NOT NULL DEFAULT FALSE,
	embedding VECTOR(1536)
);
CREATE INDEX IF NOT EXISTS idx_memory_items_tenant_created ON memory_items(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_memory_items_tenant_scope ON memory_items(tenant_id, scope);

CREATE TABLE IF NOT EXISTS idempotency_records (
	tenant_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	response_json TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, idempotency_key)
);
`

// Embedder is the subset of domain.EmbeddingClient the store needs; it is
// optional — when nil, rows are inserted without an embedding, and
// CandidatesByVector, which skips rows with no embedding, finds none of them.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Store struct {
	db       *pgxpool.Pool
	embedder Embedder
}

func New(db *pgxpool.Pool, embedder Embedder) *Store {
	return &Store{db: db, embedder: embedder}
}

// Migrate creates the schema. It assumes the `vector` extension has already
// been enabled on the target database (CREATE EXTENSION IF NOT EXISTS
// vector) — doing so here would require superuser privileges Brainstem does
// not assume it has; that statement belongs with the out-of-scope migration
// scripts.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

var _ domain.MemoryStore = (*Store)(nil)

func (s *Store) Insert(ctx context.Context, m *domain.MemoryRecord) error {
	var embedding *pgvector.Vector
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, m.Text)
		if err == nil && len(vec) > 0 {
			v := pgvector.NewVector(vec)
			embedding = &v
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_items
			(memory_id, tenant_id, agent_id, type, scope, text, trust_level, confidence, salience, source_ref, created_at, expires_at, tombstoned, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.MemoryID, m.TenantID, m.AgentID, string(m.Type), string(m.Scope), m.Text, string(m.TrustLevel),
		m.Confidence, m.Salience, m.SourceRef, m.CreatedAt, m.ExpiresAt, m.Tombstoned, embedding,
	)
	if err != nil {
		return fmt.Errorf("pgstore: insert: %w", err)
	}
	return nil
}

const selectColumns = `memory_id, tenant_id, agent_id, type, scope, text, trust_level, confidence, salience, source_ref, created_at, expires_at, tombstoned`

func scanRecord(row pgx.Row) (*domain.MemoryRecord, error) {
	var rec domain.MemoryRecord
	var typ, scope, trust string
	err := row.Scan(&rec.MemoryID, &rec.TenantID, &rec.AgentID, &typ, &scope, &rec.Text, &trust,
		&rec.Confidence, &rec.Salience, &rec.SourceRef, &rec.CreatedAt, &rec.ExpiresAt, &rec.Tombstoned)
	if err != nil {
		return nil, err
	}
	rec.Type = domain.MemoryType(typ)
	rec.Scope = domain.Scope(scope)
	rec.TrustLevel = domain.TrustLevel(trust)
	return &rec, nil
}

func (s *Store) GetByID(ctx context.Context, tenantID, memoryID string) (*domain.MemoryRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM memory_items WHERE tenant_id = $1 AND memory_id = $2`,
		tenantID, memoryID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pgstore: %w", pgx.ErrNoRows)
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) Tombstone(ctx context.Context, tenantID, memoryID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE memory_items SET tombstoned = TRUE WHERE tenant_id = $1 AND memory_id = $2`,
		tenantID, memoryID)
	if err != nil {
		return false, fmt.Errorf("pgstore: tombstone: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func allowedTrustLevels(trustMin float64) []string {
	all := []struct {
		level string
		score float64
	}{
		{string(domain.TrustTrustedTool), 1.0},
		{string(domain.TrustUserClaim), 0.7},
		{string(domain.TrustUntrustedWeb), 0.35},
	}
	var out []string
	for _, a := range all {
		if a.score >= trustMin {
			out = append(out, a.level)
		}
	}
	if len(out) == 0 {
		out = append(out, "__none__")
	}
	return out
}

func (s *Store) Candidates(ctx context.Context, f domain.CandidateFilter) ([]domain.MemoryRecord, error) {
	conditions := []string{"tenant_id = $1", "tombstoned = FALSE", "(expires_at IS NULL OR expires_at > $2)"}
	args := []any{f.TenantID, f.Now}

	if f.TrustMin > 0 {
		allowed := allowedTrustLevels(f.TrustMin)
		conditions = append(conditions, fmt.Sprintf("trust_level = ANY($%d)", len(args)+1))
		args = append(args, allowed)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", len(args)+1))
		args = append(args, types)
	}

	query := `SELECT ` + selectColumns + ` FROM memory_items WHERE ` + strings.Join(conditions, " AND ")
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: candidates: %w", err)
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

// CandidatesByVector is the best-effort vector-ordered variant described in
// §4.2: it orders by cosine distance to queryVector when the vector operator
// is available, otherwise callers should fall back to Candidates.
func (s *Store) CandidatesByVector(ctx context.Context, f domain.CandidateFilter, queryVector []float32, limit int) ([]domain.MemoryRecord, error) {
	conditions := []string{"tenant_id = $1", "tombstoned = FALSE", "(expires_at IS NULL OR expires_at > $2)", "embedding IS NOT NULL"}
	args := []any{f.TenantID, f.Now}

	if f.TrustMin > 0 {
		allowed := allowedTrustLevels(f.TrustMin)
		conditions = append(conditions, fmt.Sprintf("trust_level = ANY($%d)", len(args)+1))
		args = append(args, allowed)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", len(args)+1))
		args = append(args, types)
	}

	vecParam := len(args) + 1
	args = append(args, pgvector.NewVector(queryVector))
	limitParam := len(args) + 1
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT %s FROM memory_items WHERE %s ORDER BY embedding <=> $%d LIMIT $%d`,
		selectColumns, strings.Join(conditions, " AND "), vecParam, limitParam,
	)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: candidates_by_vector: %w", err)
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

func (s *Store) PurgeExpired(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE memory_items SET tombstoned = TRUE
		 WHERE tenant_id = $1 AND tombstoned = FALSE AND expires_at IS NOT NULL AND expires_at <= $2`,
		tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pgstore: purge_expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) GetIdempotent(ctx context.Context, tenantID, key string) (*domain.IdempotencyRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT response_json, created_at FROM idempotency_records WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key)
	var responseJSON string
	var createdAt time.Time
	if err := row.Scan(&responseJSON, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: get idempotent: %w", err)
	}
	resp, err := decodeResponse(responseJSON)
	if err != nil {
		return nil, err
	}
	return &domain.IdempotencyRecord{TenantID: tenantID, IdempotencyKey: key, Response: resp, CreatedAt: createdAt}, nil
}

func (s *Store) PutIdempotent(ctx context.Context, rec *domain.IdempotencyRecord) error {
	encoded, err := encodeResponse(rec.Response)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO idempotency_records (tenant_id, idempotency_key, response_json, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		rec.TenantID, rec.IdempotencyKey, encoded, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: put idempotent: %w", err)
	}
	return nil
}
