package engine

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var builtinDefinitions embed.FS

const (
	defaultScaleMin = 1
	defaultScaleMax = 5
)

// Load builds the engine registry from the embedded definitions plus any
// *.yaml files found in extraDir (empty string skips the directory).
// Extra definitions may not redefine a built-in engine id.
func Load(extraDir string) (*Registry, error) {
	defs, err := loadFS(builtinDefinitions, "definitions")
	if err != nil {
		return nil, fmt.Errorf("loading built-in definitions: %w", err)
	}

	if extraDir != "" {
		extra, err := loadFS(os.DirFS(extraDir), ".")
		if err != nil {
			return nil, fmt.Errorf("loading definitions from %s: %w", extraDir, err)
		}
		defs = append(defs, extra...)
	}

	return newRegistry(defs)
}

// loadFS parses and validates every *.yaml definition under dir.
func loadFS(fsys fs.FS, dir string) ([]*Definition, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading definitions dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		if err := validateDefinition(&def); err != nil {
			return nil, fmt.Errorf("invalid definition %s: %w", name, err)
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

// validateDefinition checks structural invariants and compiles patterns.
// A definition that passes here can be served without further checks.
func validateDefinition(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("missing engine id")
	}
	if def.Name == "" {
		return fmt.Errorf("engine %s: missing name", def.ID)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("engine %s: no steps", def.ID)
	}
	if len(def.Verdicts) == 0 {
		return fmt.Errorf("engine %s: no verdict options", def.ID)
	}

	questionIDs := make(map[string]bool)
	for i := range def.Steps {
		step := &def.Steps[i]
		if len(step.Questions) == 0 {
			return fmt.Errorf("engine %s step %d: no questions", def.ID, i)
		}
		for j := range step.Questions {
			q := &step.Questions[j]
			if err := validateQuestion(def.ID, i, q); err != nil {
				return err
			}
			if questionIDs[q.ID] {
				return fmt.Errorf("engine %s: duplicate question id %q", def.ID, q.ID)
			}
			questionIDs[q.ID] = true
		}
		for j := range step.Outputs {
			out := &step.Outputs[j]
			if !knownOutputTypes[out.Type] {
				return fmt.Errorf("engine %s step %d output %s: unknown type %q", def.ID, i, out.ID, out.Type)
			}
		}
	}

	return validateSignals(def, questionIDs)
}

func validateQuestion(engineID string, step int, q *QuestionSpec) error {
	if q.ID == "" {
		return fmt.Errorf("engine %s step %d: question with empty id", engineID, step)
	}
	if !knownQuestionTypes[q.Type] {
		return fmt.Errorf("engine %s question %s: unknown type %q", engineID, q.ID, q.Type)
	}

	switch q.Type {
	case QuestionSelect, QuestionMultiSelect:
		if len(q.Options) == 0 {
			return fmt.Errorf("engine %s question %s: %s without options", engineID, q.ID, q.Type)
		}
	case QuestionScale:
		// Scale questions default to a 1-5 range when unconfigured.
		if q.Validation == nil {
			q.Validation = &Constraints{}
		}
		if q.Validation.Min == nil {
			minVal := float64(defaultScaleMin)
			q.Validation.Min = &minVal
		}
		if q.Validation.Max == nil {
			maxVal := float64(defaultScaleMax)
			q.Validation.Max = &maxVal
		}
	case QuestionText, QuestionNumber, QuestionCurrency:
	}

	if q.Validation != nil && q.Validation.Pattern != "" {
		compiled, err := regexp.Compile(q.Validation.Pattern)
		if err != nil {
			return fmt.Errorf("engine %s question %s: invalid pattern: %w", engineID, q.ID, err)
		}
		q.Validation.compiled = compiled
	}
	return nil
}

// validateSignals ensures every question referenced by the signal rules
// exists, so the generator never dereferences a missing question.
func validateSignals(def *Definition, questionIDs map[string]bool) error {
	refs := make([]string, 0, len(def.Signals.ScoreQuestions)+len(def.Signals.DensityQuestions)+2)
	refs = append(refs, def.Signals.ScoreQuestions...)
	refs = append(refs, def.Signals.DensityQuestions...)
	if def.Signals.CommercialFlag.Question != "" {
		refs = append(refs, def.Signals.CommercialFlag.Question)
	}
	if def.Signals.MeritFlag.Question != "" {
		refs = append(refs, def.Signals.MeritFlag.Question)
	}

	for _, id := range refs {
		if !questionIDs[id] {
			return fmt.Errorf("engine %s: signal references unknown question %q", def.ID, id)
		}
	}
	return nil
}
