// Package session owns the decision engine session lifecycle: the
// Session entity, its state machine, the Store interface for durable
// persistence, and the in-memory, file, and two-tier stores.
package session

import (
	"context"
	"time"

	"github.com/ipforge/decision-engine/pkg/recommend"
)

// Status is the session lifecycle state. Completed and abandoned are
// terminal: no step submission is accepted once a session leaves active.
type Status string

const (
	// StatusActive is the initial state; steps may be submitted.
	StatusActive Status = "active"

	// StatusCompleted is reached when the final step's recommendation
	// generation succeeds. Terminal.
	StatusCompleted Status = "completed"

	// StatusAbandoned is reached by explicit abandonment or the idle
	// sweeper. Terminal.
	StatusAbandoned Status = "abandoned"
)

// Session is one user's run through an engine. It is exclusively owned
// by the Store for persistence; the Service holds a transient copy while
// processing a request and writes back before returning.
type Session struct {
	// ID is the opaque globally unique session identifier, assigned at
	// creation and never reused.
	ID string `json:"id"`

	// EngineID references a registered engine definition.
	EngineID string `json:"engine_id"`

	// UserID identifies the session owner.
	UserID string `json:"user_id"`

	Status Status `json:"status"`

	// CurrentStep is the 0-indexed step awaiting submission. Always in
	// [0, TotalSteps]; equal to TotalSteps once completed.
	CurrentStep int `json:"current_step"`

	// TotalSteps is fixed at creation from the engine definition.
	TotalSteps int `json:"total_steps"`

	// Responses maps step index to the validated answers submitted for
	// that step. Populated in strictly increasing step order.
	Responses map[int]map[string]any `json:"responses"`

	// Recommendation is present only when Status is completed.
	Recommendation *recommend.Recommendation `json:"recommendation,omitempty"`

	// AuditTrail is the append-only ordered log of lifecycle events.
	AuditTrail []AuditEntry `json:"audit_trail"`

	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LastActiveAt time.Time  `json:"last_active_at"`

	// Version is the optimistic concurrency token. It starts at 1 and the
	// Service increments it on every write; stores reject writes whose
	// version does not follow the stored one.
	Version int64 `json:"version"`
}

// Active reports whether the session accepts further step submissions.
func (s *Session) Active() bool {
	return s.Status == StatusActive
}

// Clone returns a deep copy. Stores hand out and accept clones so callers
// can never mutate persisted state in place.
func (s *Session) Clone() *Session {
	c := *s

	if s.Responses != nil {
		c.Responses = make(map[int]map[string]any, len(s.Responses))
		for step, answers := range s.Responses {
			cloned := make(map[string]any, len(answers))
			for k, v := range answers {
				cloned[k] = v
			}
			c.Responses[step] = cloned
		}
	}

	c.AuditTrail = append([]AuditEntry(nil), s.AuditTrail...)

	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	c.Recommendation = s.Recommendation.Clone()
	return &c
}

// Store defines durable session persistence. Implementations must treat
// sessions as value objects: Get returns a copy and writes persist a
// copy, so in-memory aliasing never leaks.
type Store interface {
	// Create persists a new session. The session's Version must be 1.
	Create(ctx context.Context, s *Session) error

	// Update persists a modified session. The caller increments Version
	// before calling; the store rejects the write with ErrVersionConflict
	// unless the stored version is exactly Version-1.
	Update(ctx context.Context, s *Session) error

	// Get retrieves a session by id. Returns ErrNotFound when unknown.
	Get(ctx context.Context, id string) (*Session, error)

	// ListByUser returns the user's sessions sorted by StartedAt
	// descending, at most limit entries (0 means no limit).
	ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error)

	// ListByEngine returns all sessions for an engine id.
	ListByEngine(ctx context.Context, engineID string) ([]*Session, error)

	// ListIdleActive returns active sessions whose LastActiveAt is before
	// the cutoff. Used by the idle sweeper.
	ListIdleActive(ctx context.Context, cutoff time.Time) ([]*Session, error)

	// Close releases resources.
	Close() error
}
