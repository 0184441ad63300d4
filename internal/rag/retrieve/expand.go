package retrieve

import "strings"

// stopwords trimmed from key-term variants. Short and deliberately boring;
// retrieval quality comes from the fan-out, not the list.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "to": true, "was": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "will": true, "with": true,
}

// ExpandQuery derives up to max deterministic variants from a free-form
// query: the literal query and its key terms after stopword removal.
func ExpandQuery(query string, max int) []string {
	return dedupeVariants([]string{
		strings.TrimSpace(query),
		keyTerms(query),
	}, max)
}

// ExpandSeed derives up to max diverse variants from a task: literal title,
// tag-seeded, key-terms, objective-seeded, and subtask-seeded. Deterministic;
// no LLM involved.
func ExpandSeed(seed TaskSeed, max int) []string {
	variants := []string{
		strings.TrimSpace(seed.Title),
	}
	if len(seed.Tags) > 0 {
		variants = append(variants, strings.TrimSpace(seed.Title+" "+strings.Join(seed.Tags, " ")))
	}
	variants = append(variants, keyTerms(seed.Title))
	if seed.Objective != "" {
		variants = append(variants, keyTerms(seed.Objective))
	}
	if len(seed.Subtasks) > 0 {
		variants = append(variants, keyTerms(strings.Join(seed.Subtasks, " ")))
	}
	return dedupeVariants(variants, max)
}

func keyTerms(s string) string {
	var kept []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if w == "" || stopwords[w] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func dedupeVariants(variants []string, max int) []string {
	if max <= 0 {
		max = 5
	}
	seen := map[string]bool{}
	var out []string
	for _, v := range variants {
		v = strings.TrimSpace(v)
		norm := strings.ToLower(v)
		if v == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, v)
		if len(out) == max {
			break
		}
	}
	return out
}
