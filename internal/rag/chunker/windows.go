package chunker

import "strings"

var sentenceEnders = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// splitWindows cuts body into windows of at most size characters with the
// given overlap. Cut points prefer a paragraph break, then a sentence end,
// then a word boundary; a cut never lands mid-word. Boundary search is
// limited to the second half of the window so chunks stay near their target
// size.
func splitWindows(body string, size, overlap int) []string {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	if len(body) <= size {
		if strings.TrimSpace(body) == "" {
			return nil
		}
		return []string{body}
	}

	var out []string
	start := 0
	for start < len(body) {
		end := start + size
		if end >= len(body) {
			end = len(body)
		} else {
			end = cutPoint(body, start, end)
		}
		w := strings.TrimSpace(body[start:end])
		if w != "" {
			out = append(out, w)
		}
		if end == len(body) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		// never resume mid-word: back up to the space before the overlap start
		for next > start && next < len(body) && !isBoundary(body[next-1]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// cutPoint picks the best boundary in (start+size/2, end].
func cutPoint(body string, start, end int) int {
	window := body[start:end]
	floor := len(window) / 2

	if i := strings.LastIndex(window, "\n\n"); i > floor {
		return start + i + 1
	}
	best := -1
	for _, e := range sentenceEnders {
		if i := strings.LastIndex(window, e); i > floor && i+len(e) > best {
			best = i + len(e)
		}
	}
	if best > 0 {
		return start + best
	}
	if i := strings.LastIndexByte(window, ' '); i > floor {
		return start + i + 1
	}
	// single giant token; cut hard rather than scan the whole document
	return end
}

func isBoundary(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}
