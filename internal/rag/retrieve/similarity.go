package retrieve

import "sort"

// Similarity is the Ratcliff/Obershelp ratio over bodies: twice the matched
// character count over the total length, in [0,1].
func Similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	m := matchingChars(a, b)
	return 2 * float64(m) / float64(len(a)+len(b))
}

// matchingChars finds the longest common substring and recurses on the
// unmatched flanks.
func matchingChars(a, b string) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingChars(a[:ai], b[:bi])
	total += matchingChars(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonSubstring(a, b string) (int, int, int) {
	bestA, bestB, bestLen := 0, 0, 0
	// prev[j] holds the match length ending at a[i-1], b[j-1]
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > bestLen {
					bestLen = cur[j]
					bestA = i - cur[j]
					bestB = j - cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestA, bestB, bestLen
}

// Dedup drops near-duplicate results: when two bodies are at least threshold
// similar, the higher-scoring one survives. Output keeps score order.
func Dedup(results []Result, threshold float64) []Result {
	if threshold <= 0 {
		threshold = 0.7
	}
	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})
	var out []Result
	for _, cand := range sorted {
		dup := false
		for _, kept := range out {
			if Similarity(cand.Body, kept.Body) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, cand)
		}
	}
	return out
}
