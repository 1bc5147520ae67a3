// Package export renders completed sessions into portable artifacts: a
// structured JSON document that round-trips losslessly, and a
// human-readable markdown report.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ipforge/decision-engine/pkg/recommend"
	"github.com/ipforge/decision-engine/pkg/session"
)

// FormatVersion identifies the export document layout. Bump it when the
// structure changes incompatibly.
const FormatVersion = "1.0"

// Format selects the export rendering.
type Format string

const (
	// FormatJSON is the structured, machine-readable export.
	FormatJSON Format = "json"

	// FormatStructured is an accepted alias for FormatJSON.
	FormatStructured Format = "structured"

	// FormatDocument is the human-readable markdown report.
	FormatDocument Format = "document"
)

// ErrUnknownFormat is returned for formats other than json or document.
var ErrUnknownFormat = fmt.Errorf("unknown export format")

// Metadata describes the export itself.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	Format     Format    `json:"format"`
	Version    string    `json:"version"`
}

// Document is the structured export payload. It carries everything
// needed to reconstruct the session's outcome without access to the
// service.
type Document struct {
	Session        SessionSummary            `json:"session"`
	Responses      map[int]map[string]any    `json:"responses"`
	Recommendation *recommend.Recommendation `json:"recommendation"`
	AuditTrail     []session.AuditEntry      `json:"audit_trail"`
	Metadata       Metadata                  `json:"metadata"`
}

// SessionSummary is the session identity block of an export.
type SessionSummary struct {
	ID          string     `json:"id"`
	EngineID    string     `json:"engine_id"`
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	TotalSteps  int        `json:"total_steps"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Artifact is one rendered export: the bytes plus the suggested
// filename and content type.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Exporter renders completed sessions.
type Exporter struct {
	now func() time.Time
}

// NewExporter creates an Exporter.
func NewExporter() *Exporter {
	return &Exporter{now: time.Now}
}

// Export renders the session in the requested format. Only completed
// sessions with a recommendation can be exported.
func (e *Exporter) Export(sess *session.Session, format Format) (*Artifact, error) {
	if sess.Status != session.StatusCompleted || sess.Recommendation == nil {
		return nil, fmt.Errorf("%w: only completed sessions can be exported", session.ErrNotCompleted)
	}

	switch format {
	case FormatJSON, FormatStructured:
		return e.exportJSON(sess)
	case FormatDocument:
		return e.exportDocument(sess)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func (e *Exporter) build(sess *session.Session, format Format) *Document {
	return &Document{
		Session: SessionSummary{
			ID:          sess.ID,
			EngineID:    sess.EngineID,
			UserID:      sess.UserID,
			Status:      string(sess.Status),
			TotalSteps:  sess.TotalSteps,
			StartedAt:   sess.StartedAt,
			CompletedAt: sess.CompletedAt,
		},
		Responses:      sess.Responses,
		Recommendation: sess.Recommendation,
		AuditTrail:     sess.AuditTrail,
		Metadata: Metadata{
			ExportedAt: e.now().UTC(),
			Format:     format,
			Version:    FormatVersion,
		},
	}
}

func (e *Exporter) exportJSON(sess *session.Session) (*Artifact, error) {
	data, err := json.MarshalIndent(e.build(sess, FormatJSON), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	return &Artifact{
		Filename:    filename(sess, "json"),
		ContentType: "application/json",
		Data:        data,
	}, nil
}

// Parse decodes a structured JSON export, verifying the format version.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing export: %w", err)
	}
	if doc.Metadata.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported export version %q", doc.Metadata.Version)
	}
	return &doc, nil
}

func filename(sess *session.Session, ext string) string {
	return fmt.Sprintf("%s-recommendation-%s.%s", sess.EngineID, sess.ID, ext)
}
