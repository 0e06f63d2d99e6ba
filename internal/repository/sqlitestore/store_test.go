package sqlitestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/repository/sqlitestore"
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

func TestInsertAndGetByID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec := &domain.MemoryRecord{
		MemoryID: "m1", TenantID: "T", AgentID: "A",
		Type: domain.MemoryTypeFact, Scope: domain.ScopeGlobal, TrustLevel: domain.TrustTrustedTool,
		Text: "hello world", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.GetByID(ctx, "T", "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Text)

	_, err = s.GetByID(ctx, "T", "missing")
	assert.Error(t, err)
}

func TestTombstoneIsMonotonic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	rec := &domain.MemoryRecord{MemoryID: "m1", TenantID: "T", AgentID: "A", Type: domain.MemoryTypeFact, Scope: domain.ScopeGlobal, TrustLevel: domain.TrustTrustedTool, Text: "x", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.Insert(ctx, rec))

	ok, err := s.Tombstone(ctx, "T", "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetByID(ctx, "T", "m1")
	require.NoError(t, err)
	assert.True(t, got.Tombstoned)

	ok, err = s.Tombstone(ctx, "T", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCandidatesFiltersTrustAndType(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Insert(ctx, &domain.MemoryRecord{MemoryID: "m1", TenantID: "T", AgentID: "A", Type: domain.MemoryTypeFact, Scope: domain.ScopeGlobal, TrustLevel: domain.TrustTrustedTool, Text: "a", CreatedAt: now}))
	require.NoError(t, s.Insert(ctx, &domain.MemoryRecord{MemoryID: "m2", TenantID: "T", AgentID: "A", Type: domain.MemoryTypeEvent, Scope: domain.ScopeGlobal, TrustLevel: domain.TrustUntrustedWeb, Text: "b", CreatedAt: now}))

	out, err := s.Candidates(ctx, domain.CandidateFilter{TenantID: "T", Now: now, TrustMin: 0.5, Types: []domain.MemoryType{domain.MemoryTypeFact}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0].MemoryID)
}

func TestPurgeExpiredOnlyAffectsPastCutoff(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, s.Insert(ctx, &domain.MemoryRecord{MemoryID: "m1", TenantID: "T", AgentID: "A", Type: domain.MemoryTypeFact, Scope: domain.ScopeGlobal, TrustLevel: domain.TrustTrustedTool, Text: "a", CreatedAt: now, ExpiresAt: &past}))
	require.NoError(t, s.Insert(ctx, &domain.MemoryRecord{MemoryID: "m2", TenantID: "T", AgentID: "A", Type: domain.MemoryTypeFact, Scope: domain.ScopeGlobal, TrustLevel: domain.TrustTrustedTool, Text: "b", CreatedAt: now, ExpiresAt: &future}))

	n, err := s.PurgeExpired(ctx, "T", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetByID(ctx, "T", "m2")
	require.NoError(t, err)
	assert.False(t, got.Tombstoned)
}

func TestIdempotencyPutAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	got, err := s.GetIdempotent(ctx, "T", "key-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	rec := &domain.IdempotencyRecord{TenantID: "T", IdempotencyKey: "key-1", Response: domain.RememberResponse{Accepted: 1, MemoryIDs: []string{"m1"}}, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.PutIdempotent(ctx, rec))

	got, err = s.GetIdempotent(ctx, "T", "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"m1"}, got.Response.MemoryIDs)
}
