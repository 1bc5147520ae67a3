// Package validate implements per-question answer validation for engine
// steps. Validation is pure: no I/O, no side effects, identical results
// for identical inputs.
package validate

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/ipforge/decision-engine/pkg/engine"
)

// FieldError describes one failed question validation.
type FieldError struct {
	Question string `json:"question"`
	Message  string `json:"message"`
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Question, e.Message)
}

// Step validates every question of the step against the submitted answers
// and returns all failures, not just the first. A nil result means the
// step may advance.
func Step(step *engine.StepDefinition, answers map[string]any) []FieldError {
	var errs []FieldError
	for i := range step.Questions {
		q := &step.Questions[i]
		if fe := Question(q, answers[q.ID]); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// Question checks a candidate answer against the question spec. Rules are
// applied in fixed precedence: required, numeric bounds, length bounds,
// pattern. Presence is tested structurally (nil, missing, empty string,
// empty selection); zero and false are legitimate answers.
func Question(q *engine.QuestionSpec, value any) *FieldError {
	if !present(value) {
		if q.Required {
			return fieldErr(q, "%s is required", q.Label())
		}
		return nil
	}

	switch q.Type {
	case engine.QuestionNumber, engine.QuestionScale, engine.QuestionCurrency:
		return checkNumeric(q, value)
	case engine.QuestionSelect:
		return checkSelect(q, value)
	case engine.QuestionMultiSelect:
		return checkMultiSelect(q, value)
	case engine.QuestionText:
		return checkText(q, value)
	}
	return fieldErr(q, "%s has an unsupported question type", q.Label())
}

func checkNumeric(q *engine.QuestionSpec, value any) *FieldError {
	n, ok := asNumber(value)
	if !ok {
		return fieldErr(q, "%s must be a number", q.Label())
	}
	c := q.Validation
	if c == nil {
		return nil
	}
	if c.Min != nil && n < *c.Min {
		return fieldErr(q, "%s must be at least %s", q.Label(), trimFloat(*c.Min))
	}
	if c.Max != nil && n > *c.Max {
		return fieldErr(q, "%s must be at most %s", q.Label(), trimFloat(*c.Max))
	}
	return nil
}

func checkSelect(q *engine.QuestionSpec, value any) *FieldError {
	s, ok := value.(string)
	if !ok {
		return fieldErr(q, "%s must be a single selection", q.Label())
	}
	if !q.HasOption(s) {
		return fieldErr(q, "%s has an invalid selection", q.Label())
	}
	return nil
}

func checkMultiSelect(q *engine.QuestionSpec, value any) *FieldError {
	selections, ok := asStrings(value)
	if !ok {
		return fieldErr(q, "%s must be a list of selections", q.Label())
	}
	for _, s := range selections {
		if !q.HasOption(s) {
			return fieldErr(q, "%s has an invalid selection", q.Label())
		}
	}
	return nil
}

func checkText(q *engine.QuestionSpec, value any) *FieldError {
	s, ok := value.(string)
	if !ok {
		return fieldErr(q, "%s must be text", q.Label())
	}
	c := q.Validation
	if c == nil {
		return nil
	}

	length := utf8.RuneCountInString(s)
	if c.MinLength > 0 && length < c.MinLength {
		return fieldErr(q, "%s must be at least %d characters", q.Label(), c.MinLength)
	}
	if c.MaxLength > 0 && length > c.MaxLength {
		return fieldErr(q, "%s must be at most %d characters", q.Label(), c.MaxLength)
	}

	if re := c.CompiledPattern(); re != nil && !re.MatchString(s) {
		if c.Message != "" {
			return &FieldError{Question: q.ID, Message: c.Message}
		}
		return fieldErr(q, "Invalid format")
	}
	return nil
}

// present reports whether a value counts as an answer. Empty string and
// empty selections are absent; zero and false are present.
func present(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	default:
		return true
	}
}

// asNumber coerces the numeric representations that arrive from JSON
// payloads or form input.
func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
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

// asStrings coerces a multiselect answer to its selections.
func asStrings(value any) ([]string, bool) {
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

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func fieldErr(q *engine.QuestionSpec, format string, args ...any) *FieldError {
	return &FieldError{
		Question: q.ID,
		Message:  fmt.Sprintf(format, args...),
	}
}
