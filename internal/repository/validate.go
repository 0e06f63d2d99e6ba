package repository

import (
	"fmt"
	"strings"

	"github.com/brainstem-run/brainstem/internal/domain"
)

const (
	MaxTextLen           = 4000
	MaxSourceRefLen       = 512
	MinItems             = 1
	MaxItems             = 100
	MaxIdempotencyKeyLen = 128

	MinMaxItems  = 1
	MaxMaxItems  = 100
	MinMaxTokens = 64
	MaxMaxTokens = 32000
)

func validateRemember(req domain.RememberRequest) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if !domain.ValidScope(string(req.Scope)) {
		return fmt.Errorf("%w: invalid scope %q", ErrValidation, req.Scope)
	}
	if len(req.Items) < MinItems || len(req.Items) > MaxItems {
		return fmt.Errorf("%w: items count must be between %d and %d", ErrValidation, MinItems, MaxItems)
	}
	if len(req.IdempotencyKey) > MaxIdempotencyKeyLen {
		return fmt.Errorf("%w: idempotency_key exceeds %d chars", ErrValidation, MaxIdempotencyKeyLen)
	}
	for i, item := range req.Items {
		trimmed := strings.TrimSpace(item.Text)
		if trimmed == "" {
			return fmt.Errorf("%w: item %d text is empty after trim", ErrValidation, i)
		}
		if len(trimmed) > MaxTextLen {
			return fmt.Errorf("%w: item %d text exceeds %d chars", ErrValidation, i, MaxTextLen)
		}
		if len(item.SourceRef) > MaxSourceRefLen {
			return fmt.Errorf("%w: item %d source_ref exceeds %d chars", ErrValidation, i, MaxSourceRefLen)
		}
		if !domain.ValidMemoryType(string(item.Type)) {
			return fmt.Errorf("%w: item %d has invalid type %q", ErrValidation, i, item.Type)
		}
		if !domain.ValidTrustLevel(string(item.TrustLevel)) {
			return fmt.Errorf("%w: item %d has invalid trust_level %q", ErrValidation, i, item.TrustLevel)
		}
	}
	return nil
}

func validateRecall(req domain.RecallRequest) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if !domain.ValidScope(string(req.Scope)) {
		return fmt.Errorf("%w: invalid scope %q", ErrValidation, req.Scope)
	}
	if req.Budget.MaxItems < MinMaxItems || req.Budget.MaxItems > MaxMaxItems {
		return fmt.Errorf("%w: max_items must be between %d and %d", ErrValidation, MinMaxItems, MaxMaxItems)
	}
	if req.Budget.MaxTokens < MinMaxTokens || req.Budget.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("%w: max_tokens must be between %d and %d", ErrValidation, MinMaxTokens, MaxMaxTokens)
	}
	for _, t := range req.Filters.Types {
		if !domain.ValidMemoryType(string(t)) {
			return fmt.Errorf("%w: invalid filter type %q", ErrValidation, t)
		}
	}
	return nil
}
