package domain

import (
	"context"
	"time"
)

// JobKind is one of the three asynchronous job kinds Brainstem schedules.
type JobKind string

const (
	JobReflect JobKind = "reflect"
	JobTrain   JobKind = "train"
	JobCleanup JobKind = "cleanup"
)

func ValidJobKind(k string) bool {
	switch JobKind(k) {
	case JobReflect, JobTrain, JobCleanup:
		return true
	}
	return false
}

// JobStatus tracks a job through the queue/claim/retry lifecycle.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobRunning    JobStatus = "running"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// JobRecord is a single unit of queued async work.
type JobRecord struct {
	JobID       string
	TenantID    string
	Kind        JobKind
	Payload     map[string]any
	Status      JobStatus
	Attempts    int
	MaxAttempts int

	CreatedAt   time.Time
	ClaimedAt   *time.Time
	ClaimedBy   string
	AvailableAt time.Time
	FinishedAt  *time.Time
	Result      map[string]any
	LastError   string
	UpdatedAt   time.Time
}

// ReflectPayload drives a JobReflect run: a recall against a fixed
// reflection query, scope=global, whose top results are returned as
// candidate_facts.
type ReflectPayload struct {
	WindowHours   float64 `json:"window_hours"`
	MaxCandidates int     `json:"max_candidates"`
}

// TrainPayload simulates training: it registers a new canary version for
// model_kind via the model registry.
type TrainPayload struct {
	ModelKind    string `json:"model_kind"`
	LookbackDays int    `json:"lookback_days"`
}

// CleanupPayload drives a JobCleanup run: purge_expired for one tenant.
type CleanupPayload struct {
	GraceHours float64 `json:"grace_hours"`
}

// JobQueue is the capability interface backing the job manager. Enqueue is
// called by request-path code; Claim/Complete/Fail are called by workers.
type JobQueue interface {
	Enqueue(ctx context.Context, tenantID string, kind JobKind, payload map[string]any, maxAttempts int, now time.Time) (*JobRecord, error)

	// Claim atomically transitions at most one queued-and-available job to
	// running, recording the claiming worker id, and returns it. Returns
	// (nil, nil) when no job is available.
	Claim(ctx context.Context, workerID string, now time.Time) (*JobRecord, error)

	Complete(ctx context.Context, jobID string, result map[string]any, now time.Time) error

	// Fail records a failed attempt. If attempts have reached MaxAttempts
	// the job transitions to dead_letter; otherwise it is requeued at
	// availableAt (backoff) with status queued.
	Fail(ctx context.Context, jobID string, errMsg string, availableAt time.Time, now time.Time) error

	Get(ctx context.Context, jobID string) (*JobRecord, error)
	ListDeadLetter(ctx context.Context, tenantID string, limit int) ([]JobRecord, error)
}
