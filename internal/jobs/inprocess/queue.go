// Package inprocess implements domain.JobQueue as an in-memory FIFO queue
// guarded by a mutex. The Store runs no worker of its own and has no
// close; jobs are consumed by whoever calls Claim, such as the N poller
// goroutines of jobs.WorkerPool.
package inprocess

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/jobs"
	"github.com/google/uuid"
)

type Store struct {
	mu     sync.Mutex
	byID   map[string]*domain.JobRecord
	queued []string // ids currently in status=queued, not kept pre-sorted
}

func New() *Store {
	return &Store{byID: make(map[string]*domain.JobRecord)}
}

var _ domain.JobQueue = (*Store)(nil)

func (s *Store) Enqueue(ctx context.Context, tenantID string, kind domain.JobKind, payload map[string]any, maxAttempts int, now time.Time) (*domain.JobRecord, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	rec := &domain.JobRecord{
		JobID:       uuid.NewString(),
		TenantID:    tenantID,
		Kind:        kind,
		Payload:     payload,
		Status:      domain.JobQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		AvailableAt: now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	s.byID[rec.JobID] = rec
	s.queued = append(s.queued, rec.JobID)
	s.mu.Unlock()
	cp := *rec
	return &cp, nil
}

// Claim picks the oldest-by-created_at queued job whose AvailableAt has
// passed. It is non-blocking: callers (including jobs.WorkerPool's poll
// loop) handle a nil result by sleeping and retrying.
func (s *Store) Claim(ctx context.Context, workerID string, now time.Time) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bestIdx := -1
	for i, id := range s.queued {
		rec := s.byID[id]
		if rec.AvailableAt.After(now) {
			continue
		}
		if bestIdx == -1 || rec.CreatedAt.Before(s.byID[s.queued[bestIdx]].CreatedAt) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return nil, nil
	}

	id := s.queued[bestIdx]
	s.queued = append(s.queued[:bestIdx], s.queued[bestIdx+1:]...)

	rec := s.byID[id]
	rec.Status = domain.JobRunning
	rec.Attempts++
	claimedAt := now
	rec.ClaimedAt = &claimedAt
	rec.ClaimedBy = workerID
	rec.UpdatedAt = now
	cp := *rec
	return &cp, nil
}

func (s *Store) Complete(ctx context.Context, jobID string, result map[string]any, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[jobID]
	if !ok {
		return jobs.ErrNotFound
	}
	rec.Status = domain.JobSucceeded
	rec.Result = result
	finishedAt := now
	rec.FinishedAt = &finishedAt
	rec.UpdatedAt = now
	return nil
}

func (s *Store) Fail(ctx context.Context, jobID string, errMsg string, availableAt time.Time, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[jobID]
	if !ok {
		return jobs.ErrNotFound
	}
	rec.LastError = errMsg
	rec.UpdatedAt = now
	if rec.Attempts >= rec.MaxAttempts {
		rec.Status = domain.JobDeadLetter
		finishedAt := now
		rec.FinishedAt = &finishedAt
		return nil
	}
	rec.Status = domain.JobQueued
	rec.AvailableAt = availableAt
	rec.FinishedAt = nil
	s.queued = append(s.queued, jobID)
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[jobID]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) ListDeadLetter(ctx context.Context, tenantID string, limit int) ([]domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JobRecord
	for _, rec := range s.byID {
		if rec.TenantID == tenantID && rec.Status == domain.JobDeadLetter {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
