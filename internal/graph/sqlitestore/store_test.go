package sqlitestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/graph/sqlitestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIndexFeaturesReturnsExistingPeersOnly(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	peers, err := s.IndexFeatures(ctx, "T", "m1", map[domain.RelationType][]string{domain.RelationKeyword: {"deadline"}})
	require.NoError(t, err)
	assert.Empty(t, peers[domain.RelationKeyword])

	peers, err = s.IndexFeatures(ctx, "T", "m2", map[domain.RelationType][]string{domain.RelationKeyword: {"deadline"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, peers[domain.RelationKeyword])
}

func TestQueryCandidatesScoresByRelationWeight(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.IndexFeatures(ctx, "T", "m1", map[domain.RelationType][]string{
		domain.RelationKeyword: {"deadline"},
		domain.RelationPhrase:  {"regulation_pack"},
	})
	require.NoError(t, err)

	out, err := s.QueryCandidates(ctx, "T", map[domain.RelationType][]string{
		domain.RelationKeyword: {"deadline"},
		domain.RelationPhrase:  {"regulation_pack"},
	}, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0].MemoryID)

	weights := domain.DefaultRelationWeights()
	expected := weights[domain.RelationKeyword] + weights[domain.RelationPhrase]
	assert.InDelta(t, expected, out[0].Score, 1e-9)
}

func TestQueryCandidatesHonorsRelationWeightOverride(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.IndexFeatures(ctx, "T", "m1", map[domain.RelationType][]string{domain.RelationKeyword: {"deadline"}})
	require.NoError(t, err)

	override := map[domain.RelationType]float64{domain.RelationKeyword: 9.0}
	out, err := s.QueryCandidates(ctx, "T", map[domain.RelationType][]string{domain.RelationKeyword: {"deadline"}}, nil, override, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 9.0, out[0].Score, 1e-9)
}

func TestQueryCandidatesExcludesGivenIDs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.IndexFeatures(ctx, "T", "m1", map[domain.RelationType][]string{domain.RelationKeyword: {"deadline"}})
	require.NoError(t, err)

	out, err := s.QueryCandidates(ctx, "T", map[domain.RelationType][]string{domain.RelationKeyword: {"deadline"}}, map[string]bool{"m1": true}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRelatedDecaysWithAge(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-168 * time.Hour)

	require.NoError(t, s.UpsertEdge(ctx, "T", "m1", "m2", domain.RelationKeyword, 1.0, old))

	out, err := s.Related(ctx, "T", []string{"m1"}, nil, domain.DefaultRelationWeights(), 168, now, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "m2", out[0].MemoryID)
	expected := 1.0 * domain.DefaultRelationWeights()[domain.RelationKeyword] * 0.5
	assert.InDelta(t, expected, out[0].Score, 1e-6)
}

func TestUpsertEdgeAccumulates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertEdge(ctx, "T", "m1", "m2", domain.RelationKeyword, 1.0, now))
	require.NoError(t, s.UpsertEdge(ctx, "T", "m1", "m2", domain.RelationKeyword, 2.0, now))

	out, err := s.Related(ctx, "T", []string{"m1"}, nil, domain.DefaultRelationWeights(), 168, now, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	expected := 3.0 * domain.DefaultRelationWeights()[domain.RelationKeyword]
	assert.InDelta(t, expected, out[0].Score, 1e-6)
}
