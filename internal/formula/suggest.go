package formula

import (
	"github.com/agnivade/levenshtein"
)

// SuggestCutoff is the minimum similarity for a suggestion.
const SuggestCutoff = 0.7

// Similarity is 1 - distance/maxlen, in [0, 1].
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Suggest returns the candidate most similar to name, if any reaches the
// cutoff. Ties go to the earlier candidate.
func Suggest(name string, candidates []string) (string, bool) {
	best, bestScore := "", 0.0
	for _, c := range candidates {
		if c == name {
			continue
		}
		if s := Similarity(name, c); s >= SuggestCutoff && s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, best != ""
}
