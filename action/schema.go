package action

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

type Schema struct {
	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	once          sync.Once
	compiledInput *jsonschema.Schema
	compileErr    error
}

// Compile compiles the input schema. It is safe to call multiple times.
func (s *Schema) Compile() error {
	if s == nil {
		return nil
	}

	s.once.Do(func() {
		if s.Input == nil {
			return
		}

		b, err := json.Marshal(s.Input)
		if err != nil {
			s.compileErr = fmt.Errorf("serializing input schema: %w", err)
			return
		}

		schema, err := jsonschema.NewCompiler().Compile(b)
		if err != nil {
			s.compileErr = fmt.Errorf("compiling input schema: %w", err)
			return
		}

		s.compiledInput = schema
	})

	return s.compileErr
}

// ValidateInput validates rendered step input against the input schema, if there is one.
func (s *Schema) ValidateInput(actionID string, input map[string]any) error {
	if s == nil || s.Input == nil {
		return nil
	}

	if err := s.Compile(); err != nil {
		return err
	}

	if input == nil {
		input = map[string]any{}
	}

	// Validated as JSON so json.Number values are seen as numbers
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("serializing input: %w", err)
	}

	result := s.compiledInput.ValidateJSON(b)
	if result.Valid {
		return nil
	}

	errs := make([]string, 0, len(result.Errors))
	for _, err := range result.Errors {
		errs = append(errs, err.Error())
	}
	sort.Strings(errs)

	return &InputError{
		ActionID: actionID,
		Errors:   errs,
	}
}

// InputError is returned when rendered step input does not satisfy the action's input schema.
type InputError struct {
	ActionID string
	Errors   []string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("Invalid input passed to action %s, %s", e.ActionID, strings.Join(e.Errors, ", "))
}

func (e *InputError) Name() string {
	return "InputError"
}
