// Package fault declares the error kinds shared across conductor components.
// Components wrap these sentinels with fmt.Errorf("...: %w", ...) and callers
// classify with errors.Is; no component inspects error strings.
package fault

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInput marks malformed queries, unknown actions, and invalid dates.
	ErrInput = errors.New("invalid input")
	// ErrNotFound marks a missing task, document, or entity.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable marks an unreachable vector, graph, or document store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSchema marks a missing index or property in a backing store.
	ErrSchema = errors.New("schema error")
	// ErrProviderUnavailable marks an unreachable LLM or embedding provider.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrTimeout marks a deadline that passed at a suspension point.
	ErrTimeout = errors.New("timeout")
	// ErrConflict marks duplicate ids and busy-on-task rejections.
	ErrConflict = errors.New("conflict")
	// ErrInternal marks an unexpected invariant violation.
	ErrInternal = errors.New("internal error")
)

// Fragment is the single structured failure surfaced to a session stream.
type Fragment struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// Describe classifies err into a Fragment with a fresh correlation id.
func Describe(err error) Fragment {
	return Fragment{
		Kind:          Kind(err),
		Message:       err.Error(),
		CorrelationID: uuid.NewString(),
	}
}

// Kind returns the taxonomy name for err, defaulting to "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInput):
		return "input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

// Input wraps a formatted message as an input error.
func Input(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInput)...)
}

// NotFound wraps the offending identifier.
func NotFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}
