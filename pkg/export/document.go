package export

import (
	"fmt"
	"strings"

	"github.com/ipforge/decision-engine/pkg/session"
)

// exportDocument renders the markdown report. The layout mirrors the
// JSON export: identity, recommendation, findings, risks, citations,
// then the audit trail.
func (e *Exporter) exportDocument(sess *session.Session) (*Artifact, error) {
	doc := e.build(sess, FormatDocument)
	rec := doc.Recommendation

	var b strings.Builder
	fmt.Fprintf(&b, "# Recommendation Report\n\n")
	fmt.Fprintf(&b, "- **Session:** %s\n", doc.Session.ID)
	fmt.Fprintf(&b, "- **Engine:** %s\n", doc.Session.EngineID)
	fmt.Fprintf(&b, "- **Started:** %s\n", doc.Session.StartedAt.Format("2006-01-02 15:04 MST"))
	if doc.Session.CompletedAt != nil {
		fmt.Fprintf(&b, "- **Completed:** %s\n", doc.Session.CompletedAt.Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "\n## Verdict\n\n")
	fmt.Fprintf(&b, "**%s** (score %d/100, confidence %.0f%%)\n", rec.Verdict, rec.Score, rec.Confidence*100)

	if len(rec.Reasoning) > 0 {
		fmt.Fprintf(&b, "\n## Reasoning\n\n")
		for _, line := range rec.Reasoning {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	if len(rec.KeyFindings) > 0 {
		fmt.Fprintf(&b, "\n## Key Findings\n\n")
		for _, f := range rec.KeyFindings {
			fmt.Fprintf(&b, "- **%s** (%s impact): %s\n", f.Title, f.Impact, f.Description)
		}
	}

	if len(rec.RiskFactors) > 0 {
		fmt.Fprintf(&b, "\n## Risk Factors\n\n")
		for _, r := range rec.RiskFactors {
			fmt.Fprintf(&b, "- %s (likelihood %.0f%%, impact %.0f%%)", r.Factor, r.Likelihood*100, r.Impact*100)
			if r.Mitigation != "" {
				fmt.Fprintf(&b, " - mitigation: %s", r.Mitigation)
			}
			b.WriteString("\n")
		}
	}

	if len(rec.NextSteps) > 0 {
		fmt.Fprintf(&b, "\n## Next Steps\n\n")
		for i, step := range rec.NextSteps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}

	if len(rec.Citations) > 0 {
		fmt.Fprintf(&b, "\n## Citations\n\n")
		for _, c := range rec.Citations {
			fmt.Fprintf(&b, "- [%s] %s (relevance %.0f%%)\n", c.Type, c.Reference, c.Relevance*100)
		}
	}

	fmt.Fprintf(&b, "\n## Audit Trail\n\n")
	for _, entry := range doc.AuditTrail {
		fmt.Fprintf(&b, "- %s %s (%s)\n",
			entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Action, entry.Source)
	}

	fmt.Fprintf(&b, "\n---\nExported %s · format %s · version %s\n",
		doc.Metadata.ExportedAt.Format("2006-01-02 15:04 MST"), doc.Metadata.Format, doc.Metadata.Version)

	return &Artifact{
		Filename:    filename(sess, "md"),
		ContentType: "text/markdown",
		Data:        []byte(b.String()),
	}, nil
}
