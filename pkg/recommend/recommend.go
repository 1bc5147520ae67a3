// Package recommend turns a completed session's responses into a
// structured recommendation. Generation is deterministic: the same engine
// definition and responses always produce the same verdict and confidence.
package recommend

import (
	"github.com/ipforge/decision-engine/pkg/engine"
)

// Recommendation is the structured output produced once all steps of an
// engine session are complete.
type Recommendation struct {
	Verdict     string              `json:"verdict"`
	Confidence  float64             `json:"confidence"`
	Score       int                 `json:"score"`
	Reasoning   []string            `json:"reasoning"`
	KeyFindings []engine.Finding    `json:"key_findings"`
	NextSteps   []string            `json:"next_steps"`
	Citations   []engine.Citation   `json:"citations"`
	RiskFactors []engine.RiskFactor `json:"risk_factors,omitempty"`
}

// Clone returns a deep copy, duplicating the nested slices so the copy
// and the original never alias.
func (r *Recommendation) Clone() *Recommendation {
	if r == nil {
		return nil
	}
	c := *r
	c.Reasoning = append([]string(nil), r.Reasoning...)
	c.KeyFindings = append([]engine.Finding(nil), r.KeyFindings...)
	c.NextSteps = append([]string(nil), r.NextSteps...)
	c.Citations = append([]engine.Citation(nil), r.Citations...)
	c.RiskFactors = append([]engine.RiskFactor(nil), r.RiskFactors...)
	return &c
}

// Signals are the inputs to the verdict threshold ladder, derived from
// the accumulated responses per the engine's signal rules.
type Signals struct {
	// Score is the derived 0-100 assessment score.
	Score int

	// CommercialFlag and MeritFlag gate the upper verdict tiers.
	CommercialFlag bool
	MeritFlag      bool
}
