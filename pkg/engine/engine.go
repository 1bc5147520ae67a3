// Package engine defines decision engine workflows: the immutable engine
// definitions loaded at startup, their ordered steps, and the question and
// output specifications each step carries. Definitions are never mutated
// after Load; the session state machine holds them by reference.
package engine

import "regexp"

// QuestionType enumerates the supported input kinds. Every switch over
// QuestionType must handle all of these values.
type QuestionType string

const (
	// QuestionText is a free-form text input.
	QuestionText QuestionType = "text"

	// QuestionNumber is a plain numeric input.
	QuestionNumber QuestionType = "number"

	// QuestionSelect is a single choice from a fixed option set.
	QuestionSelect QuestionType = "select"

	// QuestionMultiSelect is zero or more choices from a fixed option set.
	QuestionMultiSelect QuestionType = "multiselect"

	// QuestionScale is a bounded numeric rating (e.g. 1-5).
	QuestionScale QuestionType = "scale"

	// QuestionCurrency is a monetary amount in USD.
	QuestionCurrency QuestionType = "currency"
)

// knownQuestionTypes is the set accepted by definition validation.
var knownQuestionTypes = map[QuestionType]bool{
	QuestionText:        true,
	QuestionNumber:      true,
	QuestionSelect:      true,
	QuestionMultiSelect: true,
	QuestionScale:       true,
	QuestionCurrency:    true,
}

// OutputType enumerates the semantic kinds of step outputs.
type OutputType string

const (
	// OutputText is a free-form text output.
	OutputText OutputType = "text"

	// OutputNumber is a plain numeric output.
	OutputNumber OutputType = "number"

	// OutputScore is a bounded numeric output with a unit.
	OutputScore OutputType = "score"

	// OutputList is an ordered list of strings.
	OutputList OutputType = "list"
)

// knownOutputTypes is the set accepted by definition validation.
var knownOutputTypes = map[OutputType]bool{
	OutputText:   true,
	OutputNumber: true,
	OutputScore:  true,
	OutputList:   true,
}

// Option is one entry of an enumerated question's option set.
type Option struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// Constraints holds the validation bounds configured on a question.
// A nil Constraints means only the required flag applies.
type Constraints struct {
	// Min and Max bound numeric answers (number, scale, currency).
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// MinLength and MaxLength bound text answer lengths in runes.
	MinLength int `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength int `yaml:"max_length,omitempty" json:"max_length,omitempty"`

	// Pattern is a regular expression text answers must match.
	// Message overrides the generic error when the pattern fails.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	compiled *regexp.Regexp
}

// CompiledPattern returns the compiled Pattern regexp, or nil when no
// pattern is configured. Compilation happens once during definition
// validation.
func (c *Constraints) CompiledPattern() *regexp.Regexp {
	if c == nil {
		return nil
	}
	return c.compiled
}

// QuestionSpec describes one question within a step.
type QuestionSpec struct {
	ID          string       `yaml:"id" json:"id"`
	Text        string       `yaml:"text" json:"text"`
	Type        QuestionType `yaml:"type" json:"type"`
	Required    bool         `yaml:"required" json:"required"`
	Placeholder string       `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	HelpText    string       `yaml:"help_text,omitempty" json:"help_text,omitempty"`
	Options     []Option     `yaml:"options,omitempty" json:"options,omitempty"`
	Validation  *Constraints `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// Label returns the human-readable name used in validation messages.
func (q *QuestionSpec) Label() string {
	if q.Text != "" {
		return q.Text
	}
	return q.ID
}

// HasOption reports whether value is in the question's option set.
func (q *QuestionSpec) HasOption(value string) bool {
	for _, opt := range q.Options {
		if opt.Value == value {
			return true
		}
	}
	return false
}

// OutputSpec describes one expected output of a step.
type OutputSpec struct {
	ID    string     `yaml:"id" json:"id"`
	Type  OutputType `yaml:"type" json:"type"`
	Label string     `yaml:"label" json:"label"`
	Unit  string     `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// StepDefinition is one ordered step of an engine: a page of questions
// validated as a unit, plus the outputs the step produces.
type StepDefinition struct {
	Title       string           `yaml:"title" json:"title"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Questions   []QuestionSpec   `yaml:"questions" json:"questions"`
	Outputs     []OutputSpec     `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Analysis    []string         `yaml:"analysis,omitempty" json:"analysis,omitempty"`
}

// Question returns the question with the given id, or nil.
func (s *StepDefinition) Question(id string) *QuestionSpec {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i]
		}
	}
	return nil
}

// FlagRule derives a boolean signal from one question's answer.
// For enumerated questions the flag is set when the answer is present and
// not in Exclude; for multiselect questions the flag is set when at least
// MinSelected options were chosen.
type FlagRule struct {
	Question    string   `yaml:"question" json:"question"`
	Exclude     []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	MinSelected int      `yaml:"min_selected,omitempty" json:"min_selected,omitempty"`
}

// Signals declares how the recommendation generator derives its inputs
// from the accumulated responses.
type Signals struct {
	// ScoreQuestions lists numeric/scale questions whose normalized answers
	// are averaged into the 0-100 derived score.
	ScoreQuestions []string `yaml:"score_questions" json:"score_questions"`

	// DensityQuestions lists multiselect questions whose selection density
	// contributes to the derived score.
	DensityQuestions []string `yaml:"density_questions,omitempty" json:"density_questions,omitempty"`

	// CommercialFlag and MeritFlag feed the verdict threshold ladder.
	CommercialFlag FlagRule `yaml:"commercial_flag" json:"commercial_flag"`
	MeritFlag      FlagRule `yaml:"merit_flag" json:"merit_flag"`
}

// Finding is a templated key finding.
type Finding struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Impact      string `yaml:"impact" json:"impact"` // high, medium, low
}

// Citation is a templated reference to prior art or other material.
type Citation struct {
	ID        string  `yaml:"id" json:"id"`
	Type      string  `yaml:"type" json:"type"` // patent, trademark, case, regulation, market_data
	Reference string  `yaml:"reference" json:"reference"`
	Relevance float64 `yaml:"relevance" json:"relevance"`
	Excerpt   string  `yaml:"excerpt,omitempty" json:"excerpt,omitempty"`
}

// RiskFactor is a templated risk entry.
type RiskFactor struct {
	Factor     string  `yaml:"factor" json:"factor"`
	Likelihood float64 `yaml:"likelihood" json:"likelihood"`
	Impact     float64 `yaml:"impact" json:"impact"`
	Mitigation string  `yaml:"mitigation,omitempty" json:"mitigation,omitempty"`
}

// Template carries the canned recommendation content for one engine.
// The generator parameterizes it with the derived verdict and score; the
// prose itself is fixed per engine.
type Template struct {
	Reasoning   []string     `yaml:"reasoning" json:"reasoning"`
	KeyFindings []Finding    `yaml:"key_findings" json:"key_findings"`
	NextSteps   []string     `yaml:"next_steps" json:"next_steps"`
	Citations   []Citation   `yaml:"citations,omitempty" json:"citations,omitempty"`
	RiskFactors []RiskFactor `yaml:"risk_factors,omitempty" json:"risk_factors,omitempty"`
}

// Definition is one configured decision engine: catalog metadata, the
// ordered steps, the verdict taxonomy, and the recommendation template.
// Immutable after Load.
type Definition struct {
	ID               string   `yaml:"id" json:"id"`
	Name             string   `yaml:"name" json:"name"`
	Category         string   `yaml:"category" json:"category"` // patent, trademark, portfolio, innovation
	Description      string   `yaml:"description" json:"description"`
	Purpose          string   `yaml:"purpose,omitempty" json:"purpose,omitempty"`
	TargetPersonas   []string `yaml:"target_personas,omitempty" json:"target_personas,omitempty"`
	EstimatedMinutes int      `yaml:"estimated_minutes,omitempty" json:"estimated_minutes,omitempty"`

	Steps []StepDefinition `yaml:"steps" json:"steps"`

	// Verdicts is the ordered verdict taxonomy, best tier first. The
	// generator's threshold ladder indexes into it.
	Verdicts []string `yaml:"verdicts" json:"verdicts"`

	Signals  Signals  `yaml:"signals" json:"signals"`
	Template Template `yaml:"template" json:"template"`
}

// TotalSteps returns the number of steps in the engine.
func (d *Definition) TotalSteps() int {
	return len(d.Steps)
}

// Step returns the step at index i, or nil when out of range.
func (d *Definition) Step(i int) *StepDefinition {
	if i < 0 || i >= len(d.Steps) {
		return nil
	}
	return &d.Steps[i]
}
