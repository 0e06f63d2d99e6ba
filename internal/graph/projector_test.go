package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/graph"
	"github.com/brainstem-run/brainstem/internal/graph/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4-style: projection symmetry (invariant 8).
func TestProjectionIsSymmetric(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, graph.Project(ctx, store, "T", "m1", "Regulation pack RC-22 maps to retention profile RD-91.", now))
	require.NoError(t, graph.Project(ctx, store, "T", "m2", "RD-91 enforces 400-day retention and legal hold exports.", now))
	require.NoError(t, graph.Project(ctx, store, "T", "m3", "Regulation pack RC-22 summary stays in legal review queue.", now))

	related1, err := store.Related(ctx, "T", []string{"m1"}, map[string]bool{"m1": true}, nil, 168, now.Add(time.Minute), 10)
	require.NoError(t, err)
	var ids []string
	for _, r := range related1 {
		ids = append(ids, r.MemoryID)
	}
	assert.Contains(t, ids, "m3", "m1 and m3 share the RC-22 reference")

	relatedFromM3, err := store.Related(ctx, "T", []string{"m3"}, map[string]bool{"m3": true}, nil, 168, now.Add(time.Minute), 10)
	require.NoError(t, err)
	var ids3 []string
	for _, r := range relatedFromM3 {
		ids3 = append(ids3, r.MemoryID)
	}
	assert.Contains(t, ids3, "m1")
}

func TestQueryCandidatesRespectsExclude(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, graph.Project(ctx, store, "T", "m1", "regulation pack RC-22", now))
	require.NoError(t, graph.Project(ctx, store, "T", "m2", "regulation pack summary again", now))

	terms := map[domain.RelationType][]string{domain.RelationKeyword: {"regulation"}}
	candidates, err := store.QueryCandidates(ctx, "T", terms, map[string]bool{"m1": true}, nil, 10)
	require.NoError(t, err)
	for _, c := range candidates {
		assert.NotEqual(t, "m1", c.MemoryID)
	}
	var ids []string
	for _, c := range candidates {
		ids = append(ids, c.MemoryID)
	}
	assert.Contains(t, ids, "m2")
}
