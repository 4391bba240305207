package retrieve

import "strings"

// MMR re-ranks fused items for diversity using maximal marginal relevance:
// at each step it picks the item maximizing lambda*relevance -
// (1-lambda)*maxJaccard against the already-selected set, trading off
// relevance against redundancy. Distinct from Diversify's doc/source
// dominance penalty, this operates purely on token overlap between item
// texts.
func MMR(items []RetrievedItem, k int, lambda float64) []RetrievedItem {
	if k <= 0 || k > len(items) {
		k = len(items)
	}
	if len(items) == 0 {
		return nil
	}
	if lambda <= 0 {
		lambda = 0.65
	}

	tokens := make([]map[string]struct{}, len(items))
	for i, it := range items {
		tokens[i] = tokenSet(mmrText(it))
	}

	selected := make([]int, 0, k)
	chosen := make([]bool, len(items))

	for len(selected) < k {
		best := -1
		bestScore := -1.0
		for i, it := range items {
			if chosen[i] {
				continue
			}
			maxSim := 0.0
			for _, j := range selected {
				if s := jaccard(tokens[i], tokens[j]); s > maxSim {
					maxSim = s
				}
			}
			score := lambda*it.Score - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best < 0 {
			break
		}
		chosen[best] = true
		selected = append(selected, best)
	}

	out := make([]RetrievedItem, 0, len(selected))
	for _, i := range selected {
		out = append(out, items[i])
	}
	return out
}

func mmrText(it RetrievedItem) string {
	if it.Text != "" {
		return it.Text
	}
	return it.Snippet
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// CapPerDoc enforces a per-document cap on the final result list, keeping
// the highest-scoring items for each doc_id in relative order.
func CapPerDoc(items []RetrievedItem, maxPerDoc int) []RetrievedItem {
	if maxPerDoc <= 0 {
		return items
	}
	counts := map[string]int{}
	out := make([]RetrievedItem, 0, len(items))
	for _, it := range items {
		if counts[it.DocID] >= maxPerDoc {
			continue
		}
		counts[it.DocID]++
		out = append(out, it)
	}
	return out
}
