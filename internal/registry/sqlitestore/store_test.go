package sqlitestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/registry"
	"github.com/brainstem-run/brainstem/internal/registry/sqlitestore"
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

func TestDefaultsSeededOnOpen(t *testing.T) {
	store := newStore(t)
	state, err := store.GetState(context.Background(), domain.ModelKindReranker)
	require.NoError(t, err)
	assert.Equal(t, "reranker-baseline-v1", state.StableVersion)
	assert.False(t, state.HasCanary())
}

func TestRegisterCanaryRejectsOutOfRangePercent(t *testing.T) {
	store := newStore(t)
	_, err := store.RegisterCanary(context.Background(), domain.ModelKindReranker, "reranker-canary-v2", 101, nil, time.Now().UTC())
	assert.ErrorIs(t, err, registry.ErrRolloutPercentOutOfRange)
}

func TestPromoteCanaryRequiresCanary(t *testing.T) {
	store := newStore(t)
	_, err := store.PromoteCanary(context.Background(), domain.ModelKindReranker, time.Now().UTC())
	assert.ErrorIs(t, err, registry.ErrCanaryNotSet)
}

// Invariant 12.
func TestPromoteCanarySetsActiveAndClearsCanary(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()

	_, err := store.RegisterCanary(ctx, domain.ModelKindReranker, "reranker-canary-v2", 50, nil, now)
	require.NoError(t, err)

	state, err := store.PromoteCanary(ctx, domain.ModelKindReranker, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "reranker-canary-v2", state.StableVersion)
	assert.False(t, state.HasCanary())
	assert.Equal(t, 0, state.RolloutPercent)

	events, err := store.ListEvents(ctx, domain.ModelKindReranker, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPromoteCanary, events[0].Type)
	assert.Equal(t, domain.EventRegisterCanary, events[1].Type)
}

func TestRollbackCanaryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()

	_, err := store.RollbackCanary(ctx, domain.ModelKindReranker, now)
	require.NoError(t, err)

	_, err = store.RegisterCanary(ctx, domain.ModelKindReranker, "reranker-canary-v2", 10, []string{"T1"}, now)
	require.NoError(t, err)

	state, err := store.RollbackCanary(ctx, domain.ModelKindReranker, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, state.HasCanary())

	state2, err := store.RollbackCanary(ctx, domain.ModelKindReranker, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, state2.HasCanary())

	events, err := store.ListEvents(ctx, domain.ModelKindReranker, 10)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, domain.EventRollbackCanary, events[0].Type)
}

func TestRecordSignalWindowRetentionAndSummary(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		err := store.RecordSignal(ctx, domain.SignalRecord{
			ModelKind: domain.ModelKindReranker, Version: "reranker-baseline-v1",
			Metric: "latency_ms", Value: float64(100 + i*10), At: now.Add(time.Duration(i) * time.Second),
		}, 3)
		require.NoError(t, err)
	}

	summary, err := store.SignalSummary(ctx, domain.ModelKindReranker, "reranker-baseline-v1")
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "latency_ms", summary[0].Metric)
	assert.Equal(t, 3, summary[0].Count)
	assert.InDelta(t, 130.0, summary[0].Average, 0.001)

	events, err := store.ListEvents(ctx, domain.ModelKindReranker, 10)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for _, ev := range events {
		assert.Equal(t, domain.EventRecordSignal, ev.Type)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.AppendEvent(ctx, domain.RegistryEvent{
		ModelKind: domain.ModelKindReranker, Type: domain.EventRegisterCanary, Detail: "registered for test", At: now,
	}))

	events, err := store.ListEvents(ctx, domain.ModelKindReranker, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventRegisterCanary, events[0].Type)
	assert.Equal(t, "registered for test", events[0].Detail)
}
