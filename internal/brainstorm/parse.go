package brainstorm

import (
	"regexp"
	"strings"

	"conductor/internal/fault"
)

// Actions a brainstorm request can carry.
const (
	ActionNew     = "new"
	ActionReplace = "replace"
	ActionImprove = "improve"
	ActionUpdate  = "update"
)

// Request is the parsed form of a natural-language brainstorm query.
type Request struct {
	Action string
	// Exactly one of TaskID and Title is set.
	TaskID string
	Title  string
}

var idRe = regexp.MustCompile(`(?i)\btask\s+(?:id\s+)?([A-Za-z0-9_-]+)\b`)

// ParseRequest reads the action and task selector out of the query. The verb
// defaults to a fresh build; "task id X" or "task X" selects by id, anything
// else left over selects by title.
func ParseRequest(query string) (Request, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Request{}, fault.Input("empty brainstorm request")
	}
	lower := strings.ToLower(q)

	req := Request{Action: ActionNew}
	switch {
	case strings.Contains(lower, "replace"):
		req.Action = ActionReplace
	case strings.Contains(lower, "improve"):
		req.Action = ActionImprove
	case strings.Contains(lower, "update"):
		req.Action = ActionUpdate
	}

	if m := idRe.FindStringSubmatch(q); m != nil {
		req.TaskID = m[1]
		return req, nil
	}

	title := lower
	for changed := true; changed; {
		changed = false
		for _, verb := range []string{"brainstorm", "replace", "improve", "update", "for", "the", "about", "on", "a", "an"} {
			if strings.HasPrefix(title, verb+" ") {
				title = strings.TrimSpace(title[len(verb)+1:])
				changed = true
			}
		}
	}
	if title == "" {
		return Request{}, fault.Input("brainstorm request names no task")
	}
	req.Title = title
	return req, nil
}
