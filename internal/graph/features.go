package graph

import (
	"regexp"
	"strings"

	"github.com/brainstem-run/brainstem/internal/domain"
)

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9#_-]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "to": {}, "was": {}, "with": {},
}

var temporalVocabulary = map[string]struct{}{
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {}, "friday": {}, "saturday": {}, "sunday": {},
	"daily": {}, "weekly": {}, "monthly": {}, "hourly": {},
	"minute": {}, "minutes": {}, "hour": {}, "hours": {}, "day": {}, "days": {},
}

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)
var hasDigit = regexp.MustCompile(`[0-9]`)
var hasLetter = regexp.MustCompile(`[A-Za-z]`)

// Features holds the extracted, relation-typed term sets for one memory's
// text, exactly as described in §4.3.
type Features map[domain.RelationType][]string

// Extract tokenizes text and derives the four relation-typed feature sets.
func Extract(text string) Features {
	lower := strings.ToLower(text)
	tokens := tokenPattern.FindAllString(lower, -1)

	var keywords []string
	for _, tok := range tokens {
		if isKeyword(tok) {
			keywords = append(keywords, tok)
		}
	}

	var phrases []string
	for i := 0; i+1 < len(keywords); i++ {
		a, b := keywords[i], keywords[i+1]
		if a == b {
			continue
		}
		phrases = append(phrases, a+"_"+b)
	}

	var temporal []string
	for _, tok := range tokens {
		if _, ok := temporalVocabulary[tok]; ok {
			temporal = append(temporal, tok)
		}
	}
	temporal = append(temporal, extractTemporalPairs(tokens)...)

	var references []string
	for _, tok := range tokens {
		if isReference(tok) {
			references = append(references, tok)
		}
	}

	out := Features{}
	if len(keywords) > 0 {
		out[domain.RelationKeyword] = dedupe(keywords)
	}
	if len(phrases) > 0 {
		out[domain.RelationPhrase] = dedupe(phrases)
	}
	if len(temporal) > 0 {
		out[domain.RelationTemporal] = dedupe(temporal)
	}
	if len(references) > 0 {
		out[domain.RelationRef] = dedupe(references)
	}
	return out
}

func isKeyword(tok string) bool {
	if len(tok) < 3 {
		return false
	}
	if digitsOnly.MatchString(tok) {
		return false
	}
	if _, stop := stopwords[tok]; stop {
		return false
	}
	return true
}

func isReference(tok string) bool {
	return len(tok) >= 3 && hasLetter.MatchString(tok) && hasDigit.MatchString(tok)
}

// extractTemporalPairs finds "<digits> <unit>" adjacent token pairs and
// joins them as "<n>_<unit>".
func extractTemporalPairs(tokens []string) []string {
	var out []string
	for i := 0; i+1 < len(tokens); i++ {
		a, b := tokens[i], tokens[i+1]
		if !digitsOnly.MatchString(a) {
			continue
		}
		if _, isUnit := temporalVocabulary[b]; !isUnit {
			continue
		}
		out = append(out, a+"_"+b)
	}
	return out
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
