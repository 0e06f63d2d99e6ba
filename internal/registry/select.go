package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/brainstem-run/brainstem/internal/domain"
)

// Route names a recall's reason for landing on a version, per §4.5.
const (
	RouteActive          = "active"
	RouteCanaryAllowlist = "canary_allowlist"
	RouteCanaryPercent   = "canary_percent"
)

// SelectVersion implements spec.md §4.5's select_version(kind, tenant_id):
// a deterministic, stable-bucketed choice between a model kind's active and
// canary versions. crypto/sha256 is stdlib-only by design — the spec's
// literal contract is the exact hash function and bucketing formula, so no
// third-party hashing library could satisfy it any more faithfully (see
// DESIGN.md).
func SelectVersion(state *domain.ModelState, tenantID string) (version, route string) {
	if !state.HasCanary() {
		return state.StableVersion, RouteActive
	}
	for _, t := range state.Allowlist {
		if t == tenantID {
			return state.CanaryVersion, RouteCanaryAllowlist
		}
	}
	if state.RolloutPercent <= 0 {
		return state.StableVersion, RouteActive
	}
	if stableBucket(state.ModelKind, tenantID) < state.RolloutPercent {
		return state.CanaryVersion, RouteCanaryPercent
	}
	return state.StableVersion, RouteActive
}

// stableBucket computes int(first_8_hex_chars(sha256("<kind>:<tenant_id>")), 16) mod 100.
func stableBucket(kind domain.ModelKind, tenantID string) int {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", kind, tenantID)))
	first8 := hex.EncodeToString(sum[:])[:8]
	n := new(big.Int)
	n.SetString(first8, 16)
	return int(new(big.Int).Mod(n, big.NewInt(100)).Int64())
}
