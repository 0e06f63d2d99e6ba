package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
)

const weightIncrement = 1.0

// Project implements project_memory(tenant_id, memory_id, text) per §4.3:
// extract features, discover existing peers sharing each (relation, term),
// accumulate a per-relation weight increment for each shared pair, insert
// this memory into the term index, then upsert both directions of every
// discovered edge.
func Project(ctx context.Context, store domain.GraphStore, tenantID, memoryID, text string, now time.Time) error {
	features := Extract(text)
	if len(features) == 0 {
		return nil
	}

	termsByRelation := make(map[domain.RelationType][]string, len(features))
	for relation, terms := range features {
		termsByRelation[relation] = terms
	}

	peersByRelation, err := store.IndexFeatures(ctx, tenantID, memoryID, termsByRelation)
	if err != nil {
		return fmt.Errorf("graph: index features: %w", err)
	}

	for relation, peers := range peersByRelation {
		counts := make(map[string]float64, len(peers))
		for _, peer := range peers {
			if peer == memoryID {
				continue
			}
			counts[peer] += weightIncrement
		}
		for peer, delta := range counts {
			if err := store.UpsertEdge(ctx, tenantID, memoryID, peer, relation, delta, now); err != nil {
				return fmt.Errorf("graph: upsert edge %s->%s: %w", memoryID, peer, err)
			}
			if err := store.UpsertEdge(ctx, tenantID, peer, memoryID, relation, delta, now); err != nil {
				return fmt.Errorf("graph: upsert edge %s->%s: %w", peer, memoryID, err)
			}
		}
	}
	return nil
}
