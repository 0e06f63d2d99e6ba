package domain

import (
	"context"
	"time"
)

// MemoryRepository is the public contract exposed to callers: remember,
// recall, inspect, forget, purge_expired, exactly as specified. A single
// shared implementation (internal/repository.Repository) provides scoring,
// token-budget packing, conflict detection and idempotency replay on top of
// whichever MemoryStore backend it is constructed with — that is the layer
// swapped per deployment (in-memory / embedded SQLite / networked Postgres).
type MemoryRepository interface {
	Remember(ctx context.Context, req RememberRequest) (*RememberResponse, error)
	Recall(ctx context.Context, req RecallRequest) (*RecallResponse, error)
	Inspect(ctx context.Context, tenantID, agentID string, scope Scope, memoryID string) (*MemoryDetails, error)
	Forget(ctx context.Context, tenantID, agentID, memoryID string) (bool, error)
	PurgeExpired(ctx context.Context, tenantID string, graceHours float64) (int, error)
}

// CandidateFilter narrows the raw store scan before in-process scoring.
type CandidateFilter struct {
	TenantID string
	Now      time.Time
	TrustMin float64
	Types    []MemoryType
}

// MemoryStore is the low-level, backend-specific capability interface. It
// knows nothing about scoring, budgets or idempotency replay — only about
// durable storage and access-controlled retrieval of candidate rows.
//
// GetByID returns a non-nil error (not a sentinel) when the row is absent;
// callers treat any error as not-found. GetIdempotent instead returns
// (nil, nil) when the key is unrecorded — absence there is not an error.
type MemoryStore interface {
	Insert(ctx context.Context, m *MemoryRecord) error
	GetByID(ctx context.Context, tenantID, memoryID string) (*MemoryRecord, error)
	Tombstone(ctx context.Context, tenantID, memoryID string) (bool, error)
	Candidates(ctx context.Context, f CandidateFilter) ([]MemoryRecord, error)
	PurgeExpired(ctx context.Context, tenantID string, cutoff time.Time) (int, error)

	GetIdempotent(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error)
	PutIdempotent(ctx context.Context, rec *IdempotencyRecord) error
}
