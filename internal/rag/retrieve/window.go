package retrieve

import (
	"context"
	"strconv"

	"manifold/internal/ragstore"
)

// ExpandWindows grows each item's text with its immediate previous/next
// chunk in the same document by chunk order (pages are not checked),
// stitching fragments that a chunk boundary split mid-thought. A neighbor is
// added only while the item's text plus that neighbor stays within maxChars.
func ExpandWindows(ctx context.Context, store *ragstore.Store, items []RetrievedItem, maxChars int) []RetrievedItem {
	if store == nil || maxChars <= 0 {
		return items
	}
	out := make([]RetrievedItem, len(items))
	copy(out, items)

	for i, it := range out {
		prev, next, err := store.ChunkWindowByID(ctx, it.ID)
		if err != nil {
			continue
		}
		text := it.Text
		if prev != nil && len(text)+len(prev.Text) <= maxChars {
			text = prev.Text + "\n" + text
		}
		if next != nil && len(text)+len(next.Text) <= maxChars {
			text = text + "\n" + next.Text
		}
		if text != it.Text {
			it.Text = text
			if it.Explanation == nil {
				it.Explanation = map[string]any{}
			}
			it.Explanation["window_expanded"] = true
			out[i] = it
		}
	}
	return out
}

// pageRange renders a "p" or "p-q" label for footnotes, matching the
// generation service's citation format.
func pageRange(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}
