// Package scoring holds the pure token/trust/salience/confidence utilities
// shared by the memory repository and the graph-augmented recall engine. No
// function here touches a store; everything is deterministic given its
// inputs.
package scoring

import (
	"regexp"
	"strings"

	"github.com/brainstem-run/brainstem/internal/domain"
)

const (
	tokensPerWord = 1.3

	salienceBaseEvent   = 0.45
	salienceBaseFact    = 0.70
	salienceBaseEpisode = 0.60
	salienceBasePolicy  = 0.90
	salienceBoostPer    = 0.03
	salienceMin         = 0.05
	salienceMax         = 0.99

	confidenceBaseTrustedTool  = 0.82
	confidenceBaseUserClaim    = 0.66
	confidenceBaseUntrustedWeb = 0.38
	confidencePenaltyPer       = 0.05
	confidenceMin              = 0.05
	confidenceMax              = 0.98

	trustScoreTrustedTool  = 1.0
	trustScoreUserClaim    = 0.7
	trustScoreUntrustedWeb = 0.35
)

var wordPattern = regexp.MustCompile(`\w+`)

var highImportanceTokens = []string{
	"must", "required", "deadline", "blocked", "constraint", "critical", "policy", "security", "cannot",
}

var uncertaintyTokens = []string{"maybe", "might", "possibly", "unsure", "guess"}

var negationTokens = []string{"not", "no", "never", "cannot", "can't", "without"}

// EstimateTokens returns a deterministic, monotonic-in-word-count token
// estimate: max(1, round(word_count * 1.3)).
func EstimateTokens(text string) int {
	words := wordPattern.FindAllString(text, -1)
	estimate := int(float64(len(words))*tokensPerWord + 0.5)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func countOccurrences(lower string, tokens []string) int {
	count := 0
	for _, t := range tokens {
		count += strings.Count(lower, t)
	}
	return count
}

func salienceBase(t domain.MemoryType) float64 {
	switch t {
	case domain.MemoryTypeFact:
		return salienceBaseFact
	case domain.MemoryTypeEpisode:
		return salienceBaseEpisode
	case domain.MemoryTypePolicy:
		return salienceBasePolicy
	default:
		return salienceBaseEvent
	}
}

// InferSalience returns provided if non-nil, else a per-type base boosted by
// 0.03 per occurrence of a high-importance token, clamped to [0.05, 0.99].
func InferSalience(text string, t domain.MemoryType, provided *float64) float64 {
	if provided != nil {
		return *provided
	}
	lower := strings.ToLower(text)
	boost := float64(countOccurrences(lower, highImportanceTokens)) * salienceBoostPer
	return clamp(salienceBase(t)+boost, salienceMin, salienceMax)
}

func confidenceBase(trust domain.TrustLevel) float64 {
	switch trust {
	case domain.TrustUserClaim:
		return confidenceBaseUserClaim
	case domain.TrustUntrustedWeb:
		return confidenceBaseUntrustedWeb
	default:
		return confidenceBaseTrustedTool
	}
}

// InferConfidence returns provided if non-nil, else a per-trust-level base
// minus 0.05 per uncertainty token, clamped to [0.05, 0.98].
func InferConfidence(text string, trust domain.TrustLevel, provided *float64) float64 {
	if provided != nil {
		return *provided
	}
	lower := strings.ToLower(text)
	penalty := float64(countOccurrences(lower, uncertaintyTokens)) * confidencePenaltyPer
	return clamp(confidenceBase(trust)-penalty, confidenceMin, confidenceMax)
}

// TrustScore maps a trust level to its fixed weight.
func TrustScore(trust domain.TrustLevel) float64 {
	switch trust {
	case domain.TrustUserClaim:
		return trustScoreUserClaim
	case domain.TrustUntrustedWeb:
		return trustScoreUntrustedWeb
	default:
		return trustScoreTrustedTool
	}
}

// HasNegation reports whether any negation token appears in text, surrounded
// by spaces after lowercasing and padding.
func HasNegation(text string) bool {
	padded := " " + strings.ToLower(text) + " "
	for _, tok := range negationTokens {
		if strings.Contains(padded, " "+tok+" ") {
			return true
		}
	}
	return false
}

// Tokenize lowercases and splits text into \w+ tokens, used by lexical
// overlap and Jaccard conflict scoring.
func Tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// TokenSet converts a token slice into a deduplicated set.
func TokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// LexicalOverlap returns |query_tokens ∩ text_tokens| / |query_tokens|; an
// empty query scores 0.
func LexicalOverlap(queryTokens []string, textSet map[string]struct{}) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(queryTokens))
	matches := 0
	for _, qt := range queryTokens {
		if _, dup := seen[qt]; dup {
			continue
		}
		seen[qt] = struct{}{}
		if _, ok := textSet[qt]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(dedupe(queryTokens)))
}

func dedupe(tokens []string) []string {
	set := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			continue
		}
		set[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// JaccardOverlap returns |a ∩ b| / |a ∪ b| over two word sets.
func JaccardOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// RecencyBonus returns 1 / (1 + age_seconds/3600).
func RecencyBonus(ageSeconds float64) float64 {
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	return 1.0 / (1.0 + ageSeconds/3600.0)
}

const (
	WeightLexicalOverlap = 0.45
	WeightSalience       = 0.25
	WeightConfidence     = 0.20
	WeightTrust          = 0.07
	WeightRecency        = 0.03
)

// RecallScore implements the fixed compositional recall ranking score.
func RecallScore(lexicalOverlap, salience, confidence, trust, recencyBonus float64) float64 {
	return WeightLexicalOverlap*lexicalOverlap +
		WeightSalience*salience +
		WeightConfidence*confidence +
		WeightTrust*trust +
		WeightRecency*recencyBonus
}
