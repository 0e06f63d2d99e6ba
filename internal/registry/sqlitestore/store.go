// Package sqlitestore implements domain.ModelRegistryStore over embedded
// SQLite, mirroring internal/repository/sqlitestore's no-cgo driver and
// inline-schema conventions, generalized from the teacher's
// upsert-by-key policy store shape to the three model_registry_* tables
// spec.md §4.5/§6 describes.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/registry"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS model_registry_state (
	model_kind TEXT PRIMARY KEY,
	active_version TEXT NOT NULL,
	canary_version TEXT NOT NULL DEFAULT '',
	rollout_percent INTEGER NOT NULL DEFAULT 0,
	tenant_allowlist_json TEXT NOT NULL DEFAULT '[]',
	metadata_json TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_registry_signal (
	id TEXT PRIMARY KEY,
	model_kind TEXT NOT NULL,
	version TEXT NOT NULL,
	metric TEXT NOT NULL,
	value REAL NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_registry_signal_kind_created ON model_registry_signal(model_kind, created_at DESC);

CREATE TABLE IF NOT EXISTS model_registry_event (
	id TEXT PRIMARY KEY,
	model_kind TEXT NOT NULL,
	event_kind TEXT NOT NULL,
	actor_agent_id TEXT NOT NULL DEFAULT '',
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_registry_event_kind_created ON model_registry_event(model_kind, created_at DESC);
`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry/sqlitestore: migrate: %w", err)
	}
	s := &Store{db: db}
	if err := s.seedDefaults(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

var _ domain.ModelRegistryStore = (*Store)(nil)

// seedDefaults upserts baseline state for reranker and salience on first
// open, per spec.md §4.5.
func (s *Store) seedDefaults() error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, kind := range []domain.ModelKind{domain.ModelKindReranker, domain.ModelKindSalience} {
		_, err := s.db.Exec(`
			INSERT INTO model_registry_state (model_kind, active_version, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(model_kind) DO NOTHING`,
			string(kind), registry.BaselineVersion(string(kind)), now,
		)
		if err != nil {
			return fmt.Errorf("registry/sqlitestore: seed defaults: %w", err)
		}
	}
	return nil
}

func scanState(row *sql.Row) (*domain.ModelState, error) {
	var (
		kind, active, canary, allowlistJSON string
		rollout                             int
		updatedAt                           string
	)
	if err := row.Scan(&kind, &active, &canary, &rollout, &allowlistJSON, &updatedAt); err != nil {
		return nil, err
	}
	var allowlist []string
	if err := json.Unmarshal([]byte(allowlistJSON), &allowlist); err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: decode allowlist: %w", err)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.ModelState{
		ModelKind:      domain.ModelKind(kind),
		StableVersion:  active,
		CanaryVersion:  canary,
		RolloutPercent: rollout,
		Allowlist:      allowlist,
		UpdatedAt:      updated,
	}, nil
}

func (s *Store) GetState(ctx context.Context, kind domain.ModelKind) (*domain.ModelState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT model_kind, active_version, canary_version, rollout_percent, tenant_allowlist_json, updated_at FROM model_registry_state WHERE model_kind = ?`, string(kind))
	state, err := scanState(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, registry.ErrUnsupportedModelKind
		}
		return nil, fmt.Errorf("registry/sqlitestore: get state: %w", err)
	}
	return state, nil
}

func (s *Store) RegisterCanary(ctx context.Context, kind domain.ModelKind, version string, rolloutPercent int, allowlist []string, now time.Time) (*domain.ModelState, error) {
	if rolloutPercent < 0 || rolloutPercent > 100 {
		return nil, registry.ErrRolloutPercentOutOfRange
	}
	if _, err := s.GetState(ctx, kind); err != nil {
		return nil, err
	}
	allowlistJSON, err := json.Marshal(allowlist)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE model_registry_state
		SET canary_version = ?, rollout_percent = ?, tenant_allowlist_json = ?, updated_at = ?
		WHERE model_kind = ?`,
		version, rolloutPercent, string(allowlistJSON), now.UTC().Format(time.RFC3339Nano), string(kind),
	); err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: register canary: %w", err)
	}
	if err := appendEventTx(ctx, tx, domain.RegistryEvent{
		ModelKind: kind, Type: domain.EventRegisterCanary,
		Detail: fmt.Sprintf("canary %s registered at %d%% rollout", version, rolloutPercent), At: now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: commit: %w", err)
	}
	return s.GetState(ctx, kind)
}

func (s *Store) PromoteCanary(ctx context.Context, kind domain.ModelKind, now time.Time) (*domain.ModelState, error) {
	state, err := s.GetState(ctx, kind)
	if err != nil {
		return nil, err
	}
	if !state.HasCanary() {
		return nil, registry.ErrCanaryNotSet
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE model_registry_state
		SET active_version = canary_version, canary_version = '', rollout_percent = 0, tenant_allowlist_json = '[]', updated_at = ?
		WHERE model_kind = ?`,
		now.UTC().Format(time.RFC3339Nano), string(kind),
	); err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: promote canary: %w", err)
	}
	if err := appendEventTx(ctx, tx, domain.RegistryEvent{
		ModelKind: kind, Type: domain.EventPromoteCanary,
		Detail: fmt.Sprintf("canary %s promoted to stable", state.CanaryVersion), At: now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: commit: %w", err)
	}
	return s.GetState(ctx, kind)
}

func (s *Store) RollbackCanary(ctx context.Context, kind domain.ModelKind, now time.Time) (*domain.ModelState, error) {
	if _, err := s.GetState(ctx, kind); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE model_registry_state
		SET canary_version = '', rollout_percent = 0, tenant_allowlist_json = '[]', updated_at = ?
		WHERE model_kind = ?`,
		now.UTC().Format(time.RFC3339Nano), string(kind),
	); err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: rollback canary: %w", err)
	}
	if err := appendEventTx(ctx, tx, domain.RegistryEvent{
		ModelKind: kind, Type: domain.EventRollbackCanary,
		Detail: "canary rolled back", At: now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: commit: %w", err)
	}
	return s.GetState(ctx, kind)
}

func (s *Store) RecordSignal(ctx context.Context, rec domain.SignalRecord, windowSize int) error {
	if windowSize <= 0 {
		windowSize = 500
	}
	if _, err := s.GetState(ctx, rec.ModelKind); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry/sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO model_registry_signal (id, model_kind, version, metric, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(rec.ModelKind), rec.Version, rec.Metric, rec.Value, rec.At.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("registry/sqlitestore: insert signal: %w", err)
	}

	// Trim to the retained window: delete all but the newest windowSize rows
	// for this model_kind.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM model_registry_signal
		WHERE model_kind = ? AND id NOT IN (
			SELECT id FROM model_registry_signal WHERE model_kind = ? ORDER BY created_at DESC LIMIT ?
		)`,
		string(rec.ModelKind), string(rec.ModelKind), windowSize,
	); err != nil {
		return fmt.Errorf("registry/sqlitestore: trim signal window: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE model_registry_state SET updated_at = ? WHERE model_kind = ?`,
		rec.At.UTC().Format(time.RFC3339Nano), string(rec.ModelKind)); err != nil {
		return fmt.Errorf("registry/sqlitestore: touch state: %w", err)
	}

	if err := appendEventTx(ctx, tx, domain.RegistryEvent{
		ModelKind: rec.ModelKind, Type: domain.EventRecordSignal,
		Detail: fmt.Sprintf("signal %s=%v recorded for %s", rec.Metric, rec.Value, rec.Version), At: rec.At,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) SignalSummary(ctx context.Context, kind domain.ModelKind, version string) ([]domain.SignalSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT metric, AVG(value), COUNT(*)
		FROM model_registry_signal
		WHERE model_kind = ? AND version = ?
		GROUP BY metric
		ORDER BY metric`,
		string(kind), version,
	)
	if err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: signal summary: %w", err)
	}
	defer rows.Close()

	var out []domain.SignalSummary
	for rows.Next() {
		var summary domain.SignalSummary
		if err := rows.Scan(&summary.Metric, &summary.Average, &summary.Count); err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, ev domain.RegistryEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry/sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()
	if err := appendEventTx(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// appendEventTx inserts ev using tx, so mutating methods can record their
// own audit row in the same transaction as the state change it documents.
func appendEventTx(ctx context.Context, tx *sql.Tx, ev domain.RegistryEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO model_registry_event (id, model_kind, event_kind, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.EventID, string(ev.ModelKind), string(ev.Type), fmt.Sprintf("%q", ev.Detail), ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("registry/sqlitestore: append event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, kind domain.ModelKind, limit int) ([]domain.RegistryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_kind, event_kind, payload_json, created_at
		FROM model_registry_event
		WHERE model_kind = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("registry/sqlitestore: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.RegistryEvent
	for rows.Next() {
		var ev domain.RegistryEvent
		var kindStr, typeStr, payloadJSON, createdAt string
		if err := rows.Scan(&ev.EventID, &kindStr, &typeStr, &payloadJSON, &createdAt); err != nil {
			return nil, err
		}
		ev.ModelKind = domain.ModelKind(kindStr)
		ev.Type = domain.RegistryEventType(typeStr)
		_ = json.Unmarshal([]byte(payloadJSON), &ev.Detail)
		ev.At, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
