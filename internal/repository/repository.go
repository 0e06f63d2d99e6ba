// Package repository implements the single shared domain.MemoryRepository:
// scoring, token-budget packing, conflict detection and idempotency replay
// on top of a swappable domain.MemoryStore backend (inmemory, sqlitestore,
// pgstore all implement only the low-level store).
package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/scoring"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository is the one implementation of domain.MemoryRepository, backed
// by any domain.MemoryStore.
type Repository struct {
	store  domain.MemoryStore
	logger *zap.Logger
}

func New(store domain.MemoryStore, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{store: store, logger: logger}
}

var _ domain.MemoryRepository = (*Repository)(nil)

func (r *Repository) Remember(ctx context.Context, req domain.RememberRequest) (*domain.RememberResponse, error) {
	if err := validateRemember(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := r.store.GetIdempotent(ctx, req.TenantID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("repository: get idempotent: %w", err)
		}
		if existing != nil {
			replay := existing.Response
			replay.Warnings = append(append([]string{}, replay.Warnings...), "idempotency_replay")
			r.logger.Debug("remember idempotency replay",
				zap.String("tenant_id", req.TenantID), zap.String("idempotency_key", req.IdempotencyKey))
			return &replay, nil
		}
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		text := strings.TrimSpace(item.Text)
		confidence := scoring.InferConfidence(text, item.TrustLevel, item.Confidence)
		salience := scoring.InferSalience(text, item.Type, item.Salience)

		rec := &domain.MemoryRecord{
			MemoryID:   uuid.NewString(),
			TenantID:   req.TenantID,
			AgentID:    req.AgentID,
			Type:       item.Type,
			Scope:      req.Scope,
			TrustLevel: item.TrustLevel,
			Text:       text,
			SourceRef:  item.SourceRef,
			Confidence: confidence,
			Salience:   salience,
			CreatedAt:  now,
			ExpiresAt:  item.ExpiresAt,
			Tombstoned: false,
		}
		if err := r.store.Insert(ctx, rec); err != nil {
			return nil, fmt.Errorf("repository: insert: %w", err)
		}
		ids = append(ids, rec.MemoryID)
	}

	resp := &domain.RememberResponse{
		Accepted:  len(ids),
		Rejected:  0,
		MemoryIDs: ids,
	}

	if req.IdempotencyKey != "" {
		if err := r.store.PutIdempotent(ctx, &domain.IdempotencyRecord{
			TenantID:       req.TenantID,
			IdempotencyKey: req.IdempotencyKey,
			Response:       *resp,
			CreatedAt:      now,
		}); err != nil {
			return nil, fmt.Errorf("repository: put idempotent: %w", err)
		}
	}

	return resp, nil
}

type scoredCandidate struct {
	record domain.MemoryRecord
	score  float64
	tokens int
}

func (r *Repository) scoreAndRank(candidates []domain.MemoryRecord, query string, now time.Time) []scoredCandidate {
	queryTokens := scoring.Tokenize(query)
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, rec := range candidates {
		textSet := scoring.TokenSet(scoring.Tokenize(rec.Text))
		lexOverlap := scoring.LexicalOverlap(queryTokens, textSet)
		ageSeconds := now.Sub(rec.CreatedAt).Seconds()
		recency := scoring.RecencyBonus(ageSeconds)
		trust := scoring.TrustScore(rec.TrustLevel)
		score := scoring.RecallScore(lexOverlap, rec.Salience, rec.Confidence, trust, recency)
		scored = append(scored, scoredCandidate{
			record: rec,
			score:  score,
			tokens: scoring.EstimateTokens(rec.Text),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	return scored
}

func packBudget(scored []scoredCandidate, maxItems, maxTokens int) ([]scoredCandidate, int) {
	packed := make([]scoredCandidate, 0, maxItems)
	tokensUsed := 0
	for _, c := range scored {
		if len(packed) >= maxItems {
			break
		}
		if tokensUsed+c.tokens > maxTokens {
			continue
		}
		packed = append(packed, c)
		tokensUsed += c.tokens
	}
	return packed, tokensUsed
}

func detectConflicts(packed []scoredCandidate) []string {
	var conflicts []string
	for i := 0; i < len(packed); i++ {
		a := packed[i].record
		if a.Type != domain.MemoryTypeFact {
			continue
		}
		for j := i + 1; j < len(packed); j++ {
			b := packed[j].record
			if b.Type != domain.MemoryTypeFact {
				continue
			}
			aSet := scoring.TokenSet(scoring.Tokenize(a.Text))
			bSet := scoring.TokenSet(scoring.Tokenize(b.Text))
			if scoring.JaccardOverlap(aSet, bSet) >= 0.5 && scoring.HasNegation(a.Text) != scoring.HasNegation(b.Text) {
				conflicts = append(conflicts, fmt.Sprintf("possible_conflict:%s:%s", a.MemoryID, b.MemoryID))
			}
		}
	}
	return conflicts
}

func (r *Repository) Recall(ctx context.Context, req domain.RecallRequest) (*domain.RecallResponse, error) {
	if err := validateRecall(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	candidates, err := r.store.Candidates(ctx, domain.CandidateFilter{
		TenantID: req.TenantID,
		Now:      now,
		TrustMin: req.Filters.TrustMin,
		Types:    req.Filters.Types,
	})
	if err != nil {
		return nil, fmt.Errorf("repository: candidates: %w", err)
	}

	visible := make([]domain.MemoryRecord, 0, len(candidates))
	for _, rec := range candidates {
		rc := rec
		if rc.Visible(now, req.AgentID, req.Scope) {
			visible = append(visible, rc)
		}
	}

	scored := r.scoreAndRank(visible, req.Query, now)
	packed, tokensUsed := packBudget(scored, req.Budget.MaxItems, req.Budget.MaxTokens)

	items := make([]domain.RecallItem, 0, len(packed))
	for _, c := range packed {
		items = append(items, domain.RecallItem{MemoryRecord: c.record, Score: c.score})
	}

	return &domain.RecallResponse{
		Items:                  items,
		ComposedTokensEstimate: tokensUsed,
		Conflicts:              detectConflicts(packed),
		TraceID:                uuid.NewString(),
	}, nil
}

func (r *Repository) Inspect(ctx context.Context, tenantID, agentID string, scope domain.Scope, memoryID string) (*domain.MemoryDetails, error) {
	rec, err := r.store.GetByID(ctx, tenantID, memoryID)
	if err != nil {
		return nil, ErrNotFound
	}
	if !rec.Visible(time.Now().UTC(), agentID, scope) {
		return nil, ErrNotFound
	}
	return &domain.MemoryDetails{MemoryRecord: *rec}, nil
}

func (r *Repository) Forget(ctx context.Context, tenantID, agentID, memoryID string) (bool, error) {
	rec, err := r.store.GetByID(ctx, tenantID, memoryID)
	if err != nil {
		return false, nil
	}
	if rec.Scope == domain.ScopePrivate && rec.AgentID != agentID {
		return false, nil
	}
	if rec.Tombstoned {
		return true, nil
	}
	return r.store.Tombstone(ctx, tenantID, memoryID)
}

func (r *Repository) PurgeExpired(ctx context.Context, tenantID string, graceHours float64) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(graceHours * float64(time.Hour)))
	return r.store.PurgeExpired(ctx, tenantID, cutoff)
}
