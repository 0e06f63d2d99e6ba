package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/repository"
	"github.com/brainstem-run/brainstem/internal/repository/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo() domain.MemoryRepository {
	return repository.New(inmemory.New(), nil)
}

func rememberOne(t *testing.T, repo domain.MemoryRepository, tenant, agent string, scope domain.Scope, text string, typ domain.MemoryType, idemKey string) *domain.RememberResponse {
	t.Helper()
	resp, err := repo.Remember(context.Background(), domain.RememberRequest{
		TenantID: tenant,
		AgentID:  agent,
		Scope:    scope,
		Items: []domain.MemoryItem{
			{Type: typ, Text: text, TrustLevel: domain.TrustTrustedTool},
		},
		IdempotencyKey: idemKey,
	})
	require.NoError(t, err)
	return resp
}

// S1 — lifecycle.
func TestLifecycle(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	resp := rememberOne(t, repo, "T", "A", domain.ScopeTeam,
		"Deployment migration must finish before April planning cycle.", domain.MemoryTypeFact, "idem-1")
	require.Equal(t, 1, resp.Accepted)
	require.Len(t, resp.MemoryIDs, 1)
	memoryID := resp.MemoryIDs[0]

	replay, err := repo.Remember(ctx, domain.RememberRequest{
		TenantID: "T", AgentID: "A", Scope: domain.ScopeTeam,
		Items: []domain.MemoryItem{
			{Type: domain.MemoryTypeFact, Text: "Deployment migration must finish before April planning cycle.", TrustLevel: domain.TrustTrustedTool},
		},
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Contains(t, replay.Warnings, "idempotency_replay")
	assert.Equal(t, resp.MemoryIDs, replay.MemoryIDs)

	recallResp, err := repo.Recall(ctx, domain.RecallRequest{
		TenantID: "T", AgentID: "A", Query: "What migration constraints exist?", Scope: domain.ScopeTeam,
		Budget:  domain.RecallBudget{MaxItems: 10, MaxTokens: 1200},
		Filters: domain.RecallFilters{Types: []domain.MemoryType{domain.MemoryTypeFact}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, recallResp.Items)
	assert.Equal(t, memoryID, recallResp.Items[0].MemoryID)

	details, err := repo.Inspect(ctx, "T", "A", domain.ScopeTeam, memoryID)
	require.NoError(t, err)
	assert.Equal(t, memoryID, details.MemoryID)

	deleted, err := repo.Forget(ctx, "T", "A", memoryID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.Inspect(ctx, "T", "A", domain.ScopeTeam, memoryID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// S2 — scope isolation.
func TestScopeIsolation(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	resp := rememberOne(t, repo, "T", "A", domain.ScopePrivate, "A private note about agent A's own plans.", domain.MemoryTypeFact, "")
	memoryID := resp.MemoryIDs[0]

	recallResp, err := repo.Recall(ctx, domain.RecallRequest{
		TenantID: "T", AgentID: "B", Query: "plans", Scope: domain.ScopeGlobal,
		Budget: domain.RecallBudget{MaxItems: 10, MaxTokens: 1200},
	})
	require.NoError(t, err)
	assert.Empty(t, recallResp.Items)

	_, err = repo.Inspect(ctx, "T", "B", domain.ScopeGlobal, memoryID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// S3 — conflict detection.
func TestConflictDetection(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	_, err := repo.Remember(ctx, domain.RememberRequest{
		TenantID: "T", AgentID: "A", Scope: domain.ScopeTeam,
		Items: []domain.MemoryItem{
			{Type: domain.MemoryTypeFact, Text: "The release cannot proceed without passing integration tests.", TrustLevel: domain.TrustTrustedTool},
			{Type: domain.MemoryTypeFact, Text: "The release can proceed without passing integration tests.", TrustLevel: domain.TrustTrustedTool},
		},
	})
	require.NoError(t, err)

	recallResp, err := repo.Recall(ctx, domain.RecallRequest{
		TenantID: "T", AgentID: "A", Query: "release integration tests", Scope: domain.ScopeTeam,
		Budget: domain.RecallBudget{MaxItems: 10, MaxTokens: 4000},
	})
	require.NoError(t, err)
	require.Len(t, recallResp.Items, 2)
	require.Len(t, recallResp.Conflicts, 1)
	assert.Contains(t, recallResp.Conflicts[0], "possible_conflict:")
}

func TestRecallRespectsTokenAndItemBudget(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rememberOne(t, repo, "T", "A", domain.ScopeGlobal, "A reasonably long piece of memory text about constraints and deadlines.", domain.MemoryTypeFact, "")
	}

	recallResp, err := repo.Recall(ctx, domain.RecallRequest{
		TenantID: "T", AgentID: "A", Query: "constraints deadlines", Scope: domain.ScopeGlobal,
		Budget: domain.RecallBudget{MaxItems: 2, MaxTokens: 4000},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(recallResp.Items), 2)

	sum := 0
	for _, item := range recallResp.Items {
		sum += scoringEstimate(item.Text)
	}
	assert.Equal(t, sum, recallResp.ComposedTokensEstimate)
	assert.LessOrEqual(t, recallResp.ComposedTokensEstimate, 4000)
}

func scoringEstimate(text string) int {
	words := 0
	inWord := false
	for _, r := range text {
		isWord := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
		if isWord && !inWord {
			words++
		}
		inWord = isWord
	}
	est := int(float64(words)*1.3 + 0.5)
	if est < 1 {
		est = 1
	}
	return est
}

func TestPurgeExpiredIsIdempotent(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	past := time.Now().UTC().Add(-48 * time.Hour)
	_, err := repo.Remember(ctx, domain.RememberRequest{
		TenantID: "T", AgentID: "A", Scope: domain.ScopeGlobal,
		Items: []domain.MemoryItem{
			{Type: domain.MemoryTypeEvent, Text: "This already expired.", TrustLevel: domain.TrustTrustedTool, ExpiresAt: &past},
		},
	})
	require.NoError(t, err)

	n, err := repo.PurgeExpired(ctx, "T", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n2, err := repo.PurgeExpired(ctx, "T", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n2)
}

func TestForgetIsIdempotentAndOwnerScoped(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	resp := rememberOne(t, repo, "T", "A", domain.ScopePrivate, "Owner-only private fact.", domain.MemoryTypeFact, "")
	memoryID := resp.MemoryIDs[0]

	deleted, err := repo.Forget(ctx, "T", "B", memoryID)
	require.NoError(t, err)
	assert.False(t, deleted, "non-author must not delete a private memory")

	deleted, err = repo.Forget(ctx, "T", "A", memoryID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Forget(ctx, "T", "A", memoryID)
	require.NoError(t, err)
	assert.True(t, deleted, "forget is idempotent")
}
