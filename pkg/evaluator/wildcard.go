package evaluator

import "strings"

// wildcardMatch implements the We operator's semantics: '*' in pattern
// matches any substring (including empty); a pattern with no '*' must
// equal the candidate exactly. Grounded on the teacher's
// EvaluateConditions "contains"-style matching, narrowed to the spec's
// single-wildcard-character grammar.
func wildcardMatch(pattern, candidate string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == candidate
	}
	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 {
			if !strings.HasPrefix(candidate[pos:], part) {
				return false
			}
			pos += len(part)
			continue
		}
		if i == len(parts)-1 {
			if !strings.HasSuffix(candidate[pos:], part) {
				return false
			}
			continue
		}
		idx := strings.Index(candidate[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	return true
}
