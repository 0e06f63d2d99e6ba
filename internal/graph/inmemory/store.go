// Package inmemory implements domain.GraphStore as a term index and edge
// map guarded by a sync.RWMutex, mirroring internal/repository/inmemory's
// lock discipline.
package inmemory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
)

type termKey struct {
	tenantID string
	relation domain.RelationType
	term     string
}

type edgeKey struct {
	tenantID string
	src      string
	dst      string
	relation domain.RelationType
}

type Store struct {
	mu    sync.RWMutex
	terms map[termKey]map[string]struct{} // term -> set of memory ids
	edges map[edgeKey]*domain.GraphEdge
}

func New() *Store {
	return &Store{
		terms: make(map[termKey]map[string]struct{}),
		edges: make(map[edgeKey]*domain.GraphEdge),
	}
}

var _ domain.GraphStore = (*Store)(nil)

func (s *Store) IndexFeatures(ctx context.Context, tenantID, memoryID string, features map[domain.RelationType][]string) (map[domain.RelationType][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make(map[domain.RelationType][]string, len(features))
	for relation, terms := range features {
		for _, term := range terms {
			key := termKey{tenantID, relation, term}
			bucket, ok := s.terms[key]
			if !ok {
				bucket = make(map[string]struct{})
				s.terms[key] = bucket
			}
			for existing := range bucket {
				if existing == memoryID {
					continue
				}
				peers[relation] = append(peers[relation], existing)
			}
			bucket[memoryID] = struct{}{}
		}
	}
	return peers, nil
}

func (s *Store) UpsertEdge(ctx context.Context, tenantID, srcID, dstID string, relation domain.RelationType, delta float64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edgeKey{tenantID, srcID, dstID, relation}
	edge, ok := s.edges[key]
	if !ok {
		edge = &domain.GraphEdge{TenantID: tenantID, SrcID: srcID, DstID: dstID, Relation: relation}
		s.edges[key] = edge
	}
	edge.Weight += delta
	edge.UpdatedAt = now
	return nil
}

func (s *Store) QueryCandidates(ctx context.Context, tenantID string, terms map[domain.RelationType][]string, exclude map[string]bool, relationWeights map[domain.RelationType]float64, limit int) ([]domain.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if relationWeights == nil {
		relationWeights = domain.DefaultRelationWeights()
	}
	weights := relationWeights
	scores := make(map[string]float64)
	for relation, termList := range terms {
		w := weights[relation]
		for _, term := range termList {
			bucket, ok := s.terms[termKey{tenantID, relation, term}]
			if !ok {
				continue
			}
			for id := range bucket {
				if exclude[id] {
					continue
				}
				scores[id] += w
			}
		}
	}
	return topScored(scores, limit), nil
}

func (s *Store) Related(ctx context.Context, tenantID string, seedIDs []string, exclude map[string]bool, relationWeights map[domain.RelationType]float64, halfLifeHours float64, now time.Time, limit int) ([]domain.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if relationWeights == nil {
		relationWeights = domain.DefaultRelationWeights()
	}
	if halfLifeHours <= 0 {
		halfLifeHours = 168
	}

	scores := make(map[string]float64)
	for _, seed := range seedIDs {
		for key, edge := range s.edges {
			if key.tenantID != tenantID || key.src != seed {
				continue
			}
			if exclude[key.dst] {
				continue
			}
			ageHours := now.Sub(edge.UpdatedAt).Hours()
			if ageHours < 0 {
				ageHours = 0
			}
			effective := edge.Weight * relationWeights[edge.Relation] * math.Pow(0.5, ageHours/halfLifeHours)
			scores[key.dst] += effective
		}
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
