package graph

import (
	"context"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/scoring"
)

// AugmentedRecall wraps a domain.MemoryRepository with a domain.GraphStore to
// implement §4.3's augmented recall: expand the repository's base recall
// response with query-seeded and edge-seeded related memories, respecting
// the caller's item/token budget. The edge graph is cyclic but traversal
// never goes beyond depth 1 from the base result set.
type AugmentedRecall struct {
	repo   domain.MemoryRepository
	graph  domain.GraphStore
	config domain.GraphConfig
}

func NewAugmentedRecall(repo domain.MemoryRepository, gs domain.GraphStore, cfg domain.GraphConfig) *AugmentedRecall {
	return &AugmentedRecall{repo: repo, graph: gs, config: cfg}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (a *AugmentedRecall) Recall(ctx context.Context, req domain.RecallRequest) (*domain.RecallResponse, error) {
	if !a.config.Enabled || a.graph == nil {
		return a.repo.Recall(ctx, req)
	}

	expansionBudget := minInt(a.config.MaxExpansion, req.Budget.MaxItems/2)

	baseReq := req
	if expansionBudget > 0 && req.Budget.MaxItems > 1 {
		baseReq.Budget.MaxItems = req.Budget.MaxItems - expansionBudget
		if baseReq.Budget.MaxItems < 1 {
			baseReq.Budget.MaxItems = 1
		}
	}

	base, err := a.repo.Recall(ctx, baseReq)
	if err != nil {
		return nil, err
	}

	if expansionBudget <= 0 {
		return base, nil
	}

	now := time.Now().UTC()
	exclude := make(map[string]bool, len(base.Items))
	seedIDs := make([]string, 0, len(base.Items))
	for _, item := range base.Items {
		exclude[item.MemoryID] = true
		seedIDs = append(seedIDs, item.MemoryID)
	}

	cap := maxInt(maxInt(expansionBudget*2, a.config.MaxExpansion*2), 4)

	queryFeatures := Extract(req.Query)
	queryTerms := make(map[domain.RelationType][]string, len(queryFeatures))
	for relation, terms := range queryFeatures {
		queryTerms[relation] = terms
	}

	querySeedCandidates, err := a.graph.QueryCandidates(ctx, req.TenantID, queryTerms, exclude, a.config.RelationWeights, cap)
	if err != nil {
		return nil, err
	}
	edgeRelated, err := a.graph.Related(ctx, req.TenantID, seedIDs, exclude, a.config.RelationWeights, a.config.HalfLifeHours, now, cap)
	if err != nil {
		return nil, err
	}

	merged := mergeCandidates(querySeedCandidates, edgeRelated)

	items := append([]domain.RecallItem{}, base.Items...)
	tokensUsed := base.ComposedTokensEstimate

	for _, candidateID := range merged {
		if len(items) >= req.Budget.MaxItems {
			break
		}
		details, err := a.repo.Inspect(ctx, req.TenantID, req.AgentID, req.Scope, candidateID)
		if err != nil {
			continue
		}
		tokens := scoring.EstimateTokens(details.Text)
		if tokensUsed+tokens > req.Budget.MaxTokens {
			continue
		}
		items = append(items, domain.RecallItem{MemoryRecord: details.MemoryRecord, Score: 0})
		tokensUsed += tokens
	}

	return &domain.RecallResponse{
		Items:                  items,
		ComposedTokensEstimate: tokensUsed,
		Conflicts:              base.Conflicts,
		TraceID:                base.TraceID,
		ModelVersion:           base.ModelVersion,
		ModelRoute:             base.ModelRoute,
	}, nil
}

// mergeCandidates implements the merge order from §4.3 step 4: ids present
// in both sets first (semantic overlap), then remaining edge_related, then
// remaining query_seed_candidates, deduplicated.
func mergeCandidates(querySeed, edgeRelated []domain.ScoredID) []string {
	querySet := make(map[string]struct{}, len(querySeed))
	for _, c := range querySeed {
		querySet[c.MemoryID] = struct{}{}
	}
	edgeSet := make(map[string]struct{}, len(edgeRelated))
	for _, c := range edgeRelated {
		edgeSet[c.MemoryID] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string

	for _, c := range edgeRelated {
		if _, inQuery := querySet[c.MemoryID]; inQuery {
			if _, dup := seen[c.MemoryID]; !dup {
				seen[c.MemoryID] = struct{}{}
				out = append(out, c.MemoryID)
			}
		}
	}
	for _, c := range edgeRelated {
		if _, dup := seen[c.MemoryID]; dup {
			continue
		}
		seen[c.MemoryID] = struct{}{}
		out = append(out, c.MemoryID)
	}
	for _, c := range querySeed {
		if _, dup := seen[c.MemoryID]; dup {
			continue
		}
		seen[c.MemoryID] = struct{}{}
		out = append(out, c.MemoryID)
	}
	return out
}
