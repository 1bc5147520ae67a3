package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipforge/decision-engine/pkg/engine"
)

func floatPtr(f float64) *float64 { return &f }

func textQuestion(id string, required bool, c *engine.Constraints) engine.QuestionSpec {
	return engine.QuestionSpec{ID: id, Text: id, Type: engine.QuestionText, Required: required, Validation: c}
}

func TestQuestion_Required(t *testing.T) {
	q := textQuestion("summary", true, nil)

	tests := []struct {
		name  string
		value any
		fails bool
	}{
		{"missing", nil, true},
		{"empty string", "", true},
		{"whitespace counts", " ", false},
		{"present", "an answer", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := Question(&q, tt.value)
			if tt.fails {
				require.NotNil(t, fe)
				assert.Equal(t, "summary is required", fe.Message)
			} else {
				assert.Nil(t, fe)
			}
		})
	}
}

func TestQuestion_ZeroAndFalseArePresent(t *testing.T) {
	num := engine.QuestionSpec{ID: "count", Text: "count", Type: engine.QuestionNumber, Required: true}
	assert.Nil(t, Question(&num, 0))
	assert.Nil(t, Question(&num, 0.0))

	// A non-typed question still treats false as an answer, not absence.
	q := engine.QuestionSpec{ID: "flag", Text: "flag", Type: engine.QuestionText, Required: true}
	fe := Question(&q, false)
	require.NotNil(t, fe)
	assert.Contains(t, fe.Message, "must be text")
}

func TestQuestion_EmptySelectionIsAbsent(t *testing.T) {
	q := engine.QuestionSpec{
		ID: "features", Text: "features", Type: engine.QuestionMultiSelect, Required: true,
		Options: []engine.Option{{Value: "a"}, {Value: "b"}},
	}

	fe := Question(&q, []string{})
	require.NotNil(t, fe)
	assert.Equal(t, "features is required", fe.Message)

	assert.Nil(t, Question(&q, []string{"a"}))
}

func TestQuestion_NumericBounds(t *testing.T) {
	q := engine.QuestionSpec{
		ID: "score", Text: "score", Type: engine.QuestionScale, Required: true,
		Validation: &engine.Constraints{Min: floatPtr(1), Max: floatPtr(5)},
	}

	assert.Nil(t, Question(&q, 3))
	assert.Nil(t, Question(&q, "4"))
	assert.Nil(t, Question(&q, 1))
	assert.Nil(t, Question(&q, 5))

	fe := Question(&q, 0)
	require.NotNil(t, fe)
	assert.Equal(t, "score must be at least 1", fe.Message)

	fe = Question(&q, 6)
	require.NotNil(t, fe)
	assert.Equal(t, "score must be at most 5", fe.Message)

	fe = Question(&q, "not a number")
	require.NotNil(t, fe)
	assert.Equal(t, "score must be a number", fe.Message)
}

func TestQuestion_CurrencyBounds(t *testing.T) {
	q := engine.QuestionSpec{
		ID: "budget", Text: "budget", Type: engine.QuestionCurrency, Required: true,
		Validation: &engine.Constraints{Min: floatPtr(0), Max: floatPtr(500000)},
	}

	assert.Nil(t, Question(&q, 0))
	assert.Nil(t, Question(&q, 250000))

	fe := Question(&q, 600000)
	require.NotNil(t, fe)
	assert.Equal(t, "budget must be at most 500000", fe.Message)
}

func TestQuestion_Select(t *testing.T) {
	q := engine.QuestionSpec{
		ID: "market", Text: "market", Type: engine.QuestionSelect, Required: true,
		Options: []engine.Option{{Value: "large"}, {Value: "small"}},
	}

	assert.Nil(t, Question(&q, "large"))

	fe := Question(&q, "medium")
	require.NotNil(t, fe)
	assert.Equal(t, "market has an invalid selection", fe.Message)

	fe = Question(&q, 42)
	require.NotNil(t, fe)
	assert.Equal(t, "market must be a single selection", fe.Message)
}

func TestQuestion_MultiSelect(t *testing.T) {
	q := engine.QuestionSpec{
		ID: "features", Text: "features", Type: engine.QuestionMultiSelect, Required: false,
		Options: []engine.Option{{Value: "a"}, {Value: "b"}},
	}

	assert.Nil(t, Question(&q, []string{"a", "b"}))
	// JSON decoding delivers []any.
	assert.Nil(t, Question(&q, []any{"a"}))

	fe := Question(&q, []any{"a", "z"})
	require.NotNil(t, fe)
	assert.Equal(t, "features has an invalid selection", fe.Message)

	fe = Question(&q, []any{"a", 7})
	require.NotNil(t, fe)
	assert.Equal(t, "features must be a list of selections", fe.Message)
}

func TestQuestion_TextLengths(t *testing.T) {
	q := textQuestion("title", true, &engine.Constraints{MinLength: 3, MaxLength: 5})

	assert.Nil(t, Question(&q, "abc"))
	assert.Nil(t, Question(&q, "abcde"))

	fe := Question(&q, "ab")
	require.NotNil(t, fe)
	assert.Equal(t, "title must be at least 3 characters", fe.Message)

	fe = Question(&q, "abcdef")
	require.NotNil(t, fe)
	assert.Equal(t, "title must be at most 5 characters", fe.Message)

	// Lengths count runes, not bytes.
	assert.Nil(t, Question(&q, "日本語"))
}

func TestQuestion_Pattern(t *testing.T) {
	q := textQuestion("mark", true, &engine.Constraints{
		Pattern: `^[A-Z][a-z]*$`,
		Message: "Mark must start with a capital letter",
	})
	def := engine.Definition{
		ID: "t", Name: "T",
		Steps:    []engine.StepDefinition{{Title: "s", Questions: []engine.QuestionSpec{q}}},
		Verdicts: []string{"A", "B"},
	}
	reg, err := engine.NewRegistry(&def)
	require.NoError(t, err)
	loaded, err := reg.Lookup("t")
	require.NoError(t, err)
	compiled := &loaded.Steps[0].Questions[0]

	assert.Nil(t, Question(compiled, "Acme"))

	fe := Question(compiled, "acme")
	require.NotNil(t, fe)
	assert.Equal(t, "Mark must start with a capital letter", fe.Message)
}

func TestQuestion_PrecedenceRequiredFirst(t *testing.T) {
	q := textQuestion("title", true, &engine.Constraints{MinLength: 3})

	// An absent answer reports required, not the length bound.
	fe := Question(&q, "")
	require.NotNil(t, fe)
	assert.Equal(t, "title is required", fe.Message)
}

func TestStep_CollectsEveryFailure(t *testing.T) {
	step := engine.StepDefinition{
		Title: "Disclosure",
		Questions: []engine.QuestionSpec{
			textQuestion("summary", true, nil),
			{ID: "score", Text: "score", Type: engine.QuestionScale, Required: true,
				Validation: &engine.Constraints{Min: floatPtr(1), Max: floatPtr(5)}},
			{ID: "market", Text: "market", Type: engine.QuestionSelect, Required: true,
				Options: []engine.Option{{Value: "large"}}},
			textQuestion("notes", false, nil),
		},
	}

	errs := Step(&step, map[string]any{
		"score":  9,
		"market": "tiny",
	})

	require.Len(t, errs, 3)
	questions := []string{errs[0].Question, errs[1].Question, errs[2].Question}
	assert.Equal(t, []string{"summary", "score", "market"}, questions)
}

func TestStep_ValidAnswersPass(t *testing.T) {
	step := engine.StepDefinition{
		Questions: []engine.QuestionSpec{
			textQuestion("summary", true, nil),
			textQuestion("notes", false, nil),
		},
	}

	errs := Step(&step, map[string]any{"summary": "done"})
	assert.Empty(t, errs)
}
