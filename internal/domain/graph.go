package domain

import (
	"context"
	"time"
)

// RelationType is one of the four term-index relation kinds the graph
// projector derives from memory text.
type RelationType string

const (
	RelationKeyword  RelationType = "keyword"
	RelationPhrase   RelationType = "phrase"
	RelationTemporal RelationType = "temporal"
	RelationRef      RelationType = "reference"
)

func ValidRelationType(r string) bool {
	switch RelationType(r) {
	case RelationKeyword, RelationPhrase, RelationTemporal, RelationRef:
		return true
	}
	return false
}

// DefaultRelationWeights is the fixed per-relation weight table from §4.3,
// overridable by config but validated against exactly these keys.
func DefaultRelationWeights() map[RelationType]float64 {
	return map[RelationType]float64{
		RelationKeyword:  1.0,
		RelationPhrase:   1.4,
		RelationTemporal: 1.2,
		RelationRef:      1.6,
	}
}

// GraphEdge is a single directed row; projection always writes both
// directions so the edge set as a whole is undirected.
type GraphEdge struct {
	TenantID  string
	SrcID     string
	DstID     string
	Relation  RelationType
	Weight    float64
	UpdatedAt time.Time
}

// GraphStore is the capability interface for the term index + edge set.
// Implementations: in-memory map+mutex, embedded SQLite.
type GraphStore interface {
	// IndexFeatures indexes the given (relation, term) features for memoryID,
	// returning the distinct peer ids discovered per relation so the
	// caller can accumulate edge weights.
	IndexFeatures(ctx context.Context, tenantID, memoryID string, features map[RelationType][]string) (peersByRelation map[RelationType][]string, err error)

	// UpsertEdge adds delta to the stored weight of the (src,dst,relation)
	// edge (creating it at delta if absent) and refreshes updated_at. The
	// caller is responsible for calling this for both directions.
	UpsertEdge(ctx context.Context, tenantID, srcID, dstID string, relation RelationType, delta float64, now time.Time) error

	// QueryCandidates returns ids whose indexed features intersect the
	// given per-relation terms, scored by the sum of each matched
	// relation's configured weight (relationWeights, or
	// DefaultRelationWeights when nil), excluding the given exclusion set.
	QueryCandidates(ctx context.Context, tenantID string, terms map[RelationType][]string, exclude map[string]bool, relationWeights map[RelationType]float64, limit int) ([]ScoredID, error)

	// Related returns ids connected to any of the seed ids by a direct
	// edge, scored by the sum of each edge's effective (decayed) weight,
	// excluding the given exclusion set.
	Related(ctx context.Context, tenantID string, seedIDs []string, exclude map[string]bool, relationWeights map[RelationType]float64, halfLifeHours float64, now time.Time, limit int) ([]ScoredID, error)
}

// ScoredID is a candidate memory id with an accumulated relevance score.
type ScoredID struct {
	MemoryID string
	Score    float64
}

// GraphConfig controls augmented recall.
type GraphConfig struct {
	Enabled         bool
	MaxExpansion    int
	HalfLifeHours   float64
	RelationWeights map[RelationType]float64
}

func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		Enabled:       true,
		MaxExpansion:  5,
		HalfLifeHours: 168,
		RelationWeights: DefaultRelationWeights(),
	}
}
