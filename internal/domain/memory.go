// Package domain holds the types and capability interfaces shared across
// Brainstem's four subsystems (repository, graph, jobs, registry). It has no
// dependency on any concrete backend.
package domain

import "time"

type MemoryType string

const (
	MemoryTypeEvent   MemoryType = "event"
	MemoryTypeFact    MemoryType = "fact"
	MemoryTypeEpisode MemoryType = "episode"
	MemoryTypePolicy  MemoryType = "policy"
)

func ValidMemoryType(t string) bool {
	switch MemoryType(t) {
	case MemoryTypeEvent, MemoryTypeFact, MemoryTypeEpisode, MemoryTypePolicy:
		return true
	}
	return false
}

type Scope string

const (
	ScopePrivate Scope = "private"
	ScopeTeam    Scope = "team"
	ScopeGlobal  Scope = "global"
)

func ValidScope(s string) bool {
	switch Scope(s) {
	case ScopePrivate, ScopeTeam, ScopeGlobal:
		return true
	}
	return false
}

type TrustLevel string

const (
	TrustTrustedTool  TrustLevel = "trusted_tool"
	TrustUserClaim    TrustLevel = "user_claim"
	TrustUntrustedWeb TrustLevel = "untrusted_web"
)

func ValidTrustLevel(t string) bool {
	switch TrustLevel(t) {
	case TrustTrustedTool, TrustUserClaim, TrustUntrustedWeb:
		return true
	}
	return false
}

// MemoryRecord is the primary entity: a single tagged, scoped unit of
// tenant/agent memory.
type MemoryRecord struct {
	MemoryID   string
	TenantID   string
	AgentID    string
	Type       MemoryType
	Scope      Scope
	TrustLevel TrustLevel

	Text      string
	SourceRef string

	Confidence float64
	Salience   float64

	CreatedAt  time.Time
	ExpiresAt  *time.Time
	Tombstoned bool
}

// Expired reports whether the record is past its expiry as of now.
func (m *MemoryRecord) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// Visible implements the visibility rule shared by recall and inspect:
// tombstoned/expired records are never visible; global records are visible
// tenant-wide; team records require a team-or-global read scope; private
// records are visible only to their author.
func (m *MemoryRecord) Visible(now time.Time, readerAgentID string, requestedScope Scope) bool {
	if m.Tombstoned || m.Expired(now) {
		return false
	}
	switch m.Scope {
	case ScopeGlobal:
		return true
	case ScopeTeam:
		return requestedScope == ScopeTeam || requestedScope == ScopeGlobal
	case ScopePrivate:
		return m.AgentID == readerAgentID
	default:
		return false
	}
}

// IdempotencyRecord stores the first-write response for a (tenant, key) pair.
type IdempotencyRecord struct {
	TenantID       string
	IdempotencyKey string
	Response       RememberResponse
	CreatedAt      time.Time
}

// MemoryItem is a single write-path input item for remember().
type MemoryItem struct {
	Type       MemoryType
	Text       string
	SourceRef  string
	TrustLevel TrustLevel
	Confidence *float64
	Salience   *float64
	ExpiresAt  *time.Time
}

// RememberRequest is the remember() call's validated input.
type RememberRequest struct {
	TenantID       string
	AgentID        string
	Scope          Scope
	Items          []MemoryItem
	IdempotencyKey string
}

// RememberResponse is the remember() call's output.
type RememberResponse struct {
	Accepted  int      `json:"accepted"`
	Rejected  int      `json:"rejected"`
	MemoryIDs []string `json:"memory_ids"`
	Warnings  []string `json:"warnings,omitempty"`
}

// RecallBudget bounds how much a single recall can return.
type RecallBudget struct {
	MaxItems  int
	MaxTokens int
}

// RecallFilters narrows the candidate set before scoring.
type RecallFilters struct {
	TrustMin float64
	Types    []MemoryType
}

// RecallRequest is the recall() call's validated input.
type RecallRequest struct {
	TenantID string
	AgentID  string
	Query    string
	Scope    Scope
	Budget   RecallBudget
	Filters  RecallFilters
}

// RecallItem is a single scored, packed result.
type RecallItem struct {
	MemoryRecord
	Score float64 `json:"score"`
}

// RecallResponse is the recall() call's output, before graph augmentation
// and before the caller attaches a model version/route.
type RecallResponse struct {
	Items                 []RecallItem `json:"items"`
	ComposedTokensEstimate int         `json:"composed_tokens_estimate"`
	Conflicts             []string     `json:"conflicts"`
	TraceID               string       `json:"trace_id"`
	ModelVersion          string       `json:"model_version,omitempty"`
	ModelRoute            string       `json:"model_route,omitempty"`
}

// MemoryDetails is the full record returned by inspect().
type MemoryDetails struct {
	MemoryRecord
}
