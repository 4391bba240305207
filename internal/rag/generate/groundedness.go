package generate

import (
	"regexp"
	"strings"
)

var numberTokenRe = regexp.MustCompile(`\d[\d,]*\.?\d*`)

// groundedness scores how well an answer is supported by its packed context:
// 40% weight on word-token overlap, 60% weight on number-token overlap (a
// numeric answer whose figures don't appear anywhere in the context is the
// clearest sign of an ungrounded generation).
func groundedness(answer, context string) float64 {
	wordScore := tokenOverlap(tokenize(answer), tokenize(context))
	numScore := tokenOverlap(numberTokens(answer), numberTokens(context))
	return 0.4*wordScore + 0.6*numScore
}

func tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) < 3 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func numberTokens(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, m := range numberTokenRe.FindAllString(s, -1) {
		out[strings.ReplaceAll(m, ",", "")] = struct{}{}
	}
	return out
}

// tokenOverlap returns the fraction of tokens in a that also appear in b. An
// empty a (nothing to check) is treated as fully grounded so it doesn't drag
// down answers that simply have no numbers or are too short to tokenize.
func tokenOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 1.0
	}
	hit := 0
	for t := range a {
		if _, ok := b[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(a))
}
