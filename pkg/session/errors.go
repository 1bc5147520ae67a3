package session

import (
	"errors"
	"fmt"

	"github.com/ipforge/decision-engine/pkg/validate"
)

// Sentinel errors for the session error taxonomy. Callers test them with
// errors.Is; typed errors below carry payloads and are tested with
// errors.As.
var (
	// ErrNotFound is returned when a session id is unknown to the store.
	ErrNotFound = errors.New("session not found")

	// ErrNotActive is returned when an operation requires an active
	// session but the session is terminal.
	ErrNotActive = errors.New("session is not active")

	// ErrNotCompleted is returned when an operation requires a completed
	// session with a recommendation.
	ErrNotCompleted = errors.New("session is not completed")

	// ErrVersionConflict is returned by stores when a write loses an
	// optimistic concurrency race.
	ErrVersionConflict = errors.New("session was modified concurrently")

	// ErrStoreUnavailable is returned when every persistence tier failed.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// StepOutOfOrderError is returned when a step submission does not match
// the session's current step. Expected lets the caller resynchronize.
type StepOutOfOrderError struct {
	Expected int
	Got      int
}

// Error implements the error interface.
func (e *StepOutOfOrderError) Error() string {
	return fmt.Sprintf("step %d out of order: expected step %d", e.Got, e.Expected)
}

// ValidationError aggregates every per-question failure of a step
// submission so the caller can surface all of them at once.
type ValidationError struct {
	Step   int
	Fields []validate.FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %d validation failed: %d invalid answers", e.Step, len(e.Fields))
}
