package recommend

import (
	"errors"
	"math"
	"strconv"

	"github.com/ipforge/decision-engine/pkg/engine"
)

// ErrNoResponses is returned when generation is attempted before any
// step response has been recorded.
var ErrNoResponses = errors.New("no responses to generate from")

// Verdict tier thresholds. The ladder is fixed: score > 80 with both
// flags reaches the top tier, score > 60 with at least one flag the
// second, score > 40 the third, anything else the lowest.
const (
	tierOneScore   = 80
	tierTwoScore   = 60
	tierThreeScore = 40

	confidenceBase  = 0.60
	confidenceSpan  = 0.30
	confidenceScale = 100.0
)

// Generator produces recommendations from engine definitions and
// accumulated step responses.
type Generator struct{}

// NewGenerator creates a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate derives signals from the responses, classifies the verdict on
// the engine's threshold ladder, and fills the recommendation from the
// engine's template content.
func (g *Generator) Generate(def *engine.Definition, responses map[int]map[string]any) (*Recommendation, error) {
	if len(responses) == 0 {
		return nil, ErrNoResponses
	}

	sig := Derive(def, responses)
	verdict := classify(def, sig)

	rec := &Recommendation{
		Verdict:     verdict,
		Confidence:  confidence(sig.Score),
		Score:       sig.Score,
		Reasoning:   append([]string(nil), def.Template.Reasoning...),
		KeyFindings: append([]engine.Finding(nil), def.Template.KeyFindings...),
		NextSteps:   append([]string(nil), def.Template.NextSteps...),
		Citations:   append([]engine.Citation(nil), def.Template.Citations...),
		RiskFactors: append([]engine.RiskFactor(nil), def.Template.RiskFactors...),
	}
	if rec.Citations == nil {
		rec.Citations = []engine.Citation{}
	}
	if rec.KeyFindings == nil {
		rec.KeyFindings = []engine.Finding{}
	}
	return rec, nil
}

// Derive computes the assessment score and verdict flags from the
// responses per the engine's signal rules.
func Derive(def *engine.Definition, responses map[int]map[string]any) Signals {
	var components []float64

	for _, id := range def.Signals.ScoreQuestions {
		if c, ok := scoreComponent(def, responses, id); ok {
			components = append(components, c)
		}
	}
	for _, id := range def.Signals.DensityQuestions {
		if c, ok := densityComponent(def, responses, id); ok {
			components = append(components, c)
		}
	}

	score := 0
	if len(components) > 0 {
		sum := 0.0
		for _, c := range components {
			sum += c
		}
		score = int(math.Round(confidenceScale * sum / float64(len(components))))
	}

	return Signals{
		Score:          score,
		CommercialFlag: evalFlag(def, responses, def.Signals.CommercialFlag),
		MeritFlag:      evalFlag(def, responses, def.Signals.MeritFlag),
	}
}

// classify maps the signals onto the engine's verdict taxonomy using the
// fixed threshold ladder.
func classify(def *engine.Definition, sig Signals) string {
	tier := 3
	switch {
	case sig.Score > tierOneScore && sig.CommercialFlag && sig.MeritFlag:
		tier = 0
	case sig.Score > tierTwoScore && (sig.CommercialFlag || sig.MeritFlag):
		tier = 1
	case sig.Score > tierThreeScore:
		tier = 2
	}
	if tier >= len(def.Verdicts) {
		tier = len(def.Verdicts) - 1
	}
	return def.Verdicts[tier]
}

// confidence maps the derived score into [0.60, 0.90], rounded to two
// decimals so repeated generation is byte-identical.
func confidence(score int) float64 {
	c := confidenceBase + confidenceSpan*float64(score)/confidenceScale
	return math.Round(c*100) / 100
}

// scoreComponent normalizes a numeric answer into [0, 1] using the
// question's configured bounds.
func scoreComponent(def *engine.Definition, responses map[int]map[string]any, questionID string) (float64, bool) {
	value, q, ok := answerFor(def, responses, questionID)
	if !ok {
		return 0, false
	}
	n, ok := toNumber(value)
	if !ok {
		return 0, false
	}

	c := q.Validation
	if c != nil && c.Min != nil && c.Max != nil && *c.Max > *c.Min {
		return clamp((n - *c.Min) / (*c.Max - *c.Min)), true
	}
	return clamp(n / confidenceScale), true
}

// densityComponent returns the fraction of a multiselect's option set the
// user selected.
func densityComponent(def *engine.Definition, responses map[int]map[string]any, questionID string) (float64, bool) {
	value, q, ok := answerFor(def, responses, questionID)
	if !ok || len(q.Options) == 0 {
		return 0, false
	}
	selections, ok := toStrings(value)
	if !ok {
		return 0, false
	}
	return clamp(float64(len(selections)) / float64(len(q.Options))), true
}

// evalFlag evaluates a flag rule against the responses. A rule with
// MinSelected applies to multiselect answers; otherwise the flag is set
// when the answer is present and not excluded.
func evalFlag(def *engine.Definition, responses map[int]map[string]any, rule engine.FlagRule) bool {
	if rule.Question == "" {
		return false
	}
	value, _, ok := answerFor(def, responses, rule.Question)
	if !ok {
		return false
	}

	if rule.MinSelected > 0 {
		selections, ok := toStrings(value)
		return ok && len(selections) >= rule.MinSelected
	}

	s, ok := value.(string)
	if !ok || s == "" {
		return false
	}
	for _, excluded := range rule.Exclude {
		if s == excluded {
			return false
		}
	}
	return true
}

// answerFor locates a question's answer across the per-step response
// maps.
func answerFor(def *engine.Definition, responses map[int]map[string]any, questionID string) (any, *engine.QuestionSpec, bool) {
	for i := range def.Steps {
		q := def.Steps[i].Question(questionID)
		if q == nil {
			continue
		}
		answers, ok := responses[i]
		if !ok {
			return nil, nil, false
		}
		value, ok := answers[questionID]
		if !ok || value == nil {
			return nil, nil, false
		}
		return value, q, true
	}
	return nil, nil, false
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toStrings(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			result = append(result, s)
		}
		return result, true
	default:
		return nil, false
	}
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
