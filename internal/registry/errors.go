package registry

import "errors"

var (
	ErrRolloutPercentOutOfRange = errors.New("registry: rollout_percent_out_of_range")
	ErrCanaryNotSet             = errors.New("registry: canary_not_set")
	ErrUnsupportedModelKind     = errors.New("registry: unsupported_model_kind")
)

// TrainRolloutPercent is the fixed rollout percent a `train` job registers
// its new canary at, per spec.md §4.4.
const TrainRolloutPercent = 10

// BaselineVersion returns the initial active_version for a freshly opened
// model kind, per spec.md §4.5.
func BaselineVersion(kind string) string {
	return kind + "-baseline-v1"
}
