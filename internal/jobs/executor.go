package jobs

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/brainstem-run/brainstem/internal/domain"
	"github.com/brainstem-run/brainstem/internal/registry"
)

// ReflectQuery is the fixed recall query every reflect job issues, per
// spec.md §4.4.
const ReflectQuery = "constraints commitments unresolved tasks deadlines"

// reflectAgentID tags recalls issued by the reflect job itself, rather than
// by a real caller; scope=global visibility does not depend on agent
// identity, so any stable, non-empty id satisfies Visible.
const reflectAgentID = "system:reflect"

// Executor runs the three job kinds against the shared repository and
// model registry. It is the thing a worker's processNext step calls
// after a successful Claim.
type Executor struct {
	Repo     domain.MemoryRepository
	Registry domain.ModelRegistryStore
}

func NewExecutor(repo domain.MemoryRepository, reg domain.ModelRegistryStore) *Executor {
	return &Executor{Repo: repo, Registry: reg}
}

// Execute dispatches on job.Kind and returns a JSON-able result map to be
// persisted as the job's `result` column/field.
func (e *Executor) Execute(ctx context.Context, job *domain.JobRecord) (map[string]any, error) {
	switch job.Kind {
	case domain.JobReflect:
		return e.reflect(ctx, job)
	case domain.JobTrain:
		return e.train(ctx, job)
	case domain.JobCleanup:
		return e.cleanup(ctx, job)
	default:
		return nil, fmt.Errorf("jobs: unsupported kind %q", job.Kind)
	}
}

func payloadInt(payload map[string]any, key string, def int) int {
	v, ok := payload[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func payloadFloat(payload map[string]any, key string, def float64) float64 {
	v, ok := payload[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func payloadString(payload map[string]any, key, def string) string {
	v, ok := payload[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func (e *Executor) reflect(ctx context.Context, job *domain.JobRecord) (map[string]any, error) {
	maxCandidates := payloadInt(job.Payload, "max_candidates", 10)

	resp, err := e.Repo.Recall(ctx, domain.RecallRequest{
		TenantID: job.TenantID,
		AgentID:  reflectAgentID,
		Query:    ReflectQuery,
		Scope:    domain.ScopeGlobal,
		Budget:   domain.RecallBudget{MaxItems: maxCandidates, MaxTokens: 32000},
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: reflect recall: %w", err)
	}

	candidates := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if len(candidates) >= maxCandidates {
			break
		}
		candidates = append(candidates, "[candidate_fact] "+item.Text)
	}

	result := map[string]any{
		"candidate_facts": candidates,
	}
	if resp.ModelVersion != "" {
		result["model_version"] = resp.ModelVersion
		result["model_route"] = resp.ModelRoute
	}
	return result, nil
}

func (e *Executor) train(ctx context.Context, job *domain.JobRecord) (map[string]any, error) {
	kind := domain.ModelKind(payloadString(job.Payload, "model_kind", ""))
	if !domain.ValidModelKind(string(kind)) {
		return nil, fmt.Errorf("jobs: train: unsupported model_kind %q", kind)
	}

	now := time.Now().UTC()
	version := fmt.Sprintf("%s-canary-%s-%s", kind, now.Format("20060102150405"), randHex6(job.JobID, now))

	state, err := e.Registry.RegisterCanary(ctx, kind, version, registry.TrainRolloutPercent, nil, now)
	if err != nil {
		return nil, fmt.Errorf("jobs: train: register canary: %w", err)
	}

	return map[string]any{
		"canary_version":  state.CanaryVersion,
		"rollout_percent": state.RolloutPercent,
	}, nil
}

func (e *Executor) cleanup(ctx context.Context, job *domain.JobRecord) (map[string]any, error) {
	graceHours := payloadFloat(job.Payload, "grace_hours", 0)
	purged, err := e.Repo.PurgeExpired(ctx, job.TenantID, graceHours)
	if err != nil {
		return nil, fmt.Errorf("jobs: cleanup: purge_expired: %w", err)
	}
	return map[string]any{
		"purged_count": purged,
		"grace_hours":  graceHours,
	}, nil
}

// randHex6 derives a 6-hex-digit suffix deterministically from the job id
// and timestamp, so the train executor needs no extra randomness source
// beyond what's already available at call time.
func randHex6(seed string, now time.Time) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed + now.String()))
	return fmt.Sprintf("%06x", h.Sum32()&0xFFFFFF)
}
