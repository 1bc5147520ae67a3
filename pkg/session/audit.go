package session

import "time"

// Source identifies who caused an audit entry.
type Source string

const (
	// SourceUser marks events caused by a user action.
	SourceUser Source = "user"

	// SourceSystem marks events caused by the service itself.
	SourceSystem Source = "system"

	// SourceAI marks events produced by the analysis pipeline.
	SourceAI Source = "ai"
)

// Audit actions recorded on the session trail.
const (
	ActionSessionCreated   = "session_created"
	ActionSessionUpdated   = "session_updated"
	ActionSessionCompleted = "session_completed"
	ActionSessionAbandoned = "session_abandoned"
	ActionStepAnalyzed     = "step_analyzed"
	ActionRecommendation   = "recommendation_generated"
)

// AuditEntry is one event on a session's append-only audit trail.
// Entries are never reordered or pruned.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Source    Source         `json:"source"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewAuditEntry creates an audit entry stamped with the current time.
func NewAuditEntry(action string, source Source, data map[string]any) AuditEntry {
	return AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Source:    source,
		Data:      data,
	}
}

// appendAudit appends an entry to the session's trail.
func (s *Session) appendAudit(action string, source Source, data map[string]any) {
	s.AuditTrail = append(s.AuditTrail, NewAuditEntry(action, source, data))
}
