package retriever

import (
	"strings"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
)

// selectDiverse walks the ranked candidates and greedily accepts each
// one unless its content is a near-duplicate of an already-accepted
// candidate. Stops at limit.
func selectDiverse(ranked []contexts.ScoredContext, limit int, threshold float64) []contexts.ScoredContext {
	accepted := make([]contexts.ScoredContext, 0, limit)
	acceptedTokens := make([]map[string]struct{}, 0, limit)

	for _, candidate := range ranked {
		if len(accepted) == limit {
			break
		}
		tokens := tokenSet(candidate.Context.Content)

		duplicate := false
		for _, prior := range acceptedTokens {
			if jaccard(tokens, prior) > threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		accepted = append(accepted, candidate)
		acceptedTokens = append(acceptedTokens, tokens)
	}
	return accepted
}

// tokenSet lowercases and splits content on non-alphanumeric runes.
func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

// jaccard is intersection over union of two token sets. Two empty sets
// count as identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
