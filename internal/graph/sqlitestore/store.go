// Package sqlitestore implements domain.GraphStore over embedded SQLite,
// reusing internal/repository/sqlitestore's no-cgo driver and inline-schema
// conventions. §4.2 notes the networked variant is "not required for
// correctness; only its contract is" — the graph store therefore only ships
// in-memory and embedded-SQL backends.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS graph_terms (
	tenant_id TEXT NOT NULL,
	term TEXT NOT NULL,
	memory_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, term, memory_id)
);
CREATE INDEX IF NOT EXISTS idx_graph_terms_tenant_term ON graph_terms(tenant_id, term);

CREATE TABLE IF NOT EXISTS graph_edges (
	tenant_id TEXT NOT NULL,
	src TEXT NOT NULL,
	dst TEXT NOT NULL,
	relation TEXT NOT NULL,
	weight REAL NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, src, dst, relation)
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_tenant_src ON graph_edges(tenant_id, src);
`

// term encodes (relation, value) as "<relation>:<value>" per §6's literal
// graph_terms schema note.
func term(relation domain.RelationType, value string) string {
	return string(relation) + ":" + value
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graph/sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph/sqlitestore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

var _ domain.GraphStore = (*Store)(nil)

func (s *Store) IndexFeatures(ctx context.Context, tenantID, memoryID string, features map[domain.RelationType][]string) (map[domain.RelationType][]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("graph/sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	peers := make(map[domain.RelationType][]string, len(features))
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for relation, terms := range features {
		for _, t := range terms {
			key := term(relation, t)
			rows, err := tx.QueryContext(ctx, `SELECT memory_id FROM graph_terms WHERE tenant_id = ? AND term = ?`, tenantID, key)
			if err != nil {
				return nil, fmt.Errorf("graph/sqlitestore: query term: %w", err)
			}
			var existing []string
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return nil, err
				}
				existing = append(existing, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, err
			}

			for _, id := range existing {
				if id == memoryID {
					continue
				}
				peers[relation] = append(peers[relation], id)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO graph_terms (tenant_id, term, memory_id, created_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(tenant_id, term, memory_id) DO NOTHING`,
				tenantID, key, memoryID, now,
			); err != nil {
				return nil, fmt.Errorf("graph/sqlitestore: insert term: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("graph/sqlitestore: commit: %w", err)
	}
	return peers, nil
}

func (s *Store) UpsertEdge(ctx context.Context, tenantID, srcID, dstID string, relation domain.RelationType, delta float64, now time.Time) error {
	nowStr := now.UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_edges (tenant_id, src, dst, relation, weight, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, src, dst, relation) DO UPDATE SET
			weight = weight + excluded.weight,
			updated_at = excluded.updated_at`,
		tenantID, srcID, dstID, string(relation), delta, nowStr,
	)
	if err != nil {
		return fmt.Errorf("graph/sqlitestore: upsert edge: %w", err)
	}
	return nil
}

func (s *Store) QueryCandidates(ctx context.Context, tenantID string, terms map[domain.RelationType][]string, exclude map[string]bool, relationWeights map[domain.RelationType]float64, limit int) ([]domain.ScoredID, error) {
	if relationWeights == nil {
		relationWeights = domain.DefaultRelationWeights()
	}
	weights := relationWeights
	scores := make(map[string]float64)

	for relation, termList := range terms {
		if len(termList) == 0 {
			continue
		}
		keys := make([]string, len(termList))
		args := make([]any, 0, len(termList)+1)
		args = append(args, tenantID)
		for i, t := range termList {
			keys[i] = "?"
			args = append(args, term(relation, t))
		}
		query := fmt.Sprintf(`SELECT memory_id FROM graph_terms WHERE tenant_id = ? AND term IN (%s)`, strings.Join(keys, ","))
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("graph/sqlitestore: query_candidates: %w", err)
		}
		w := weights[relation]
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			if exclude[id] {
				continue
			}
			scores[id] += w
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return topScored(scores, limit), nil
}

func (s *Store) Related(ctx context.Context, tenantID string, seedIDs []string, exclude map[string]bool, relationWeights map[domain.RelationType]float64, halfLifeHours float64, now time.Time, limit int) ([]domain.ScoredID, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}
	if relationWeights == nil {
		relationWeights = domain.DefaultRelationWeights()
	}
	if halfLifeHours <= 0 {
		halfLifeHours = 168
	}

	placeholders := make([]string, len(seedIDs))
	args := make([]any, 0, len(seedIDs)+1)
	args = append(args, tenantID)
	for i, id := range seedIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT src, dst, relation, weight, updated_at FROM graph_edges WHERE tenant_id = ? AND src IN (%s)`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("graph/sqlitestore: related: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var src, dst, relation, updatedAt string
		var weight float64
		if err := rows.Scan(&src, &dst, &relation, &weight, &updatedAt); err != nil {
			return nil, err
		}
		if exclude[dst] {
			continue
		}
		updated, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, err
		}
		ageHours := now.Sub(updated).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		effective := weight * relationWeights[domain.RelationType(relation)] * math.Pow(0.5, ageHours/halfLifeHours)
		scores[dst] += effective
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topScored(scores, limit), nil
}

func topScored(scores map[string]float64, limit int) []domain.ScoredID {
	out := make([]domain.ScoredID, 0, len(scores))
	for id, score := range scores {
		out = append(out, domain.ScoredID{MemoryID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].MemoryID < out[j].MemoryID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
