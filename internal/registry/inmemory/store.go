// Package inmemory implements domain.ModelRegistryStore as maps guarded by
// a single sync.Mutex that every method, reads included, takes exclusively.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/registry"
	"github.com/google/uuid"
)

type Store struct {
	mu      sync.Mutex
	states  map[domain.ModelKind]*domain.ModelState
	signals map[domain.ModelKind][]domain.SignalRecord
	events  map[domain.ModelKind][]domain.RegistryEvent
}

// New returns a Store with baseline state seeded for reranker and salience,
// per spec.md §4.5's "defaults ... are upserted on first open."
func New() *Store {
	s := &Store{
		states:  make(map[domain.ModelKind]*domain.ModelState),
		signals: make(map[domain.ModelKind][]domain.SignalRecord),
		events:  make(map[domain.ModelKind][]domain.RegistryEvent),
	}
	for _, kind := range []domain.ModelKind{domain.ModelKindReranker, domain.ModelKindSalience} {
		s.states[kind] = &domain.ModelState{ModelKind: kind, StableVersion: registry.BaselineVersion(string(kind))}
	}
	return s
}

var _ domain.ModelRegistryStore = (*Store)(nil)

func (s *Store) GetState(ctx context.Context, kind domain.ModelKind) (*domain.ModelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[kind]
	if !ok {
		return nil, registry.ErrUnsupportedModelKind
	}
	cp := *state
	cp.Allowlist = append([]string{}, state.Allowlist...)
	return &cp, nil
}

func (s *Store) RegisterCanary(ctx context.Context, kind domain.ModelKind, version string, rolloutPercent int, allowlist []string, now time.Time) (*domain.ModelState, error) {
	if rolloutPercent < 0 || rolloutPercent > 100 {
		return nil, registry.ErrRolloutPercentOutOfRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[kind]
	if !ok {
		return nil, registry.ErrUnsupportedModelKind
	}
	state.CanaryVersion = version
	state.RolloutPercent = rolloutPercent
	state.Allowlist = append([]string{}, allowlist...)
	state.UpdatedAt = now
	s.appendEventLocked(domain.RegistryEvent{
		ModelKind: kind, Type: domain.EventRegisterCanary,
		Detail: fmt.Sprintf("canary %s registered at %d%% rollout", version, rolloutPercent), At: now,
	})
	cp := *state
	cp.Allowlist = append([]string{}, state.Allowlist...)
	return &cp, nil
}

func (s *Store) PromoteCanary(ctx context.Context, kind domain.ModelKind, now time.Time) (*domain.ModelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[kind]
	if !ok {
		return nil, registry.ErrUnsupportedModelKind
	}
	if !state.HasCanary() {
		return nil, registry.ErrCanaryNotSet
	}
	promoted := state.CanaryVersion
	state.StableVersion = state.CanaryVersion
	state.CanaryVersion = ""
	state.RolloutPercent = 0
	state.Allowlist = nil
	state.UpdatedAt = now
	s.appendEventLocked(domain.RegistryEvent{
		ModelKind: kind, Type: domain.EventPromoteCanary,
		Detail: fmt.Sprintf("canary %s promoted to stable", promoted), At: now,
	})
	cp := *state
	return &cp, nil
}

func (s *Store) RollbackCanary(ctx context.Context, kind domain.ModelKind, now time.Time) (*domain.ModelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[kind]
	if !ok {
		return nil, registry.ErrUnsupportedModelKind
	}
	state.CanaryVersion = ""
	state.RolloutPercent = 0
	state.Allowlist = nil
	state.UpdatedAt = now
	s.appendEventLocked(domain.RegistryEvent{
		ModelKind: kind, Type: domain.EventRollbackCanary,
		Detail: "canary rolled back", At: now,
	})
	cp := *state
	return &cp, nil
}

func (s *Store) RecordSignal(ctx context.Context, rec domain.SignalRecord, windowSize int) error {
	if windowSize <= 0 {
		windowSize = 500
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[rec.ModelKind]; !ok {
		return registry.ErrUnsupportedModelKind
	}
	signals := append(s.signals[rec.ModelKind], rec)
	if len(signals) > windowSize {
		signals = signals[len(signals)-windowSize:]
	}
	s.signals[rec.ModelKind] = signals
	s.states[rec.ModelKind].UpdatedAt = rec.At
	s.appendEventLocked(domain.RegistryEvent{
		ModelKind: rec.ModelKind, Type: domain.EventRecordSignal,
		Detail: fmt.Sprintf("signal %s=%v recorded for %s", rec.Metric, rec.Value, rec.Version), At: rec.At,
	})
	return nil
}

func (s *Store) SignalSummary(ctx context.Context, kind domain.ModelKind, version string) ([]domain.SignalSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[string]float64)
	counts := make(map[string]int)
	for _, sig := range s.signals[kind] {
		if sig.Version != version {
			continue
		}
		totals[sig.Metric] += sig.Value
		counts[sig.Metric]++
	}
	out := make([]domain.SignalSummary, 0, len(totals))
	for metric, total := range totals {
		out = append(out, domain.SignalSummary{Metric: metric, Average: total / float64(counts[metric]), Count: counts[metric]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev domain.RegistryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEventLocked(ev)
	return nil
}

// appendEventLocked appends ev with s.mu already held; callers must not
// also hold a read lock or call this without the lock.
func (s *Store) appendEventLocked(ev domain.RegistryEvent) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	s.events[ev.ModelKind] = append(s.events[ev.ModelKind], ev)
}

func (s *Store) ListEvents(ctx context.Context, kind domain.ModelKind, limit int) ([]domain.RegistryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events[kind]
	out := make([]domain.RegistryEvent, len(events))
	copy(out, events)
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
