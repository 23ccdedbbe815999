// Package template evaluates the `{{ path.to.value }}` interpolation syntax used in task specs.
//
// Expressions are plain dotted paths looked up against a JSON context, usually of the shape
// {parameters: {...}, steps: {<id>: {output: {...}}}}. Lookups are strict: a path that does not
// exist in the context is a RenderError.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/cschleiden/go-scaffolder/core"
)

var (
	expressionPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)
	pathPattern       = regexp.MustCompile(`^[A-Za-z_$][\w$-]*(\.[\w$-]+)*$`)
)

type RenderError struct {
	Expression string
	Path       string

	msg string
}

func (e *RenderError) Error() string {
	return e.msg
}

func (e *RenderError) Name() string {
	return "RenderError"
}

func newRenderError(expression, path, format string, args ...any) *RenderError {
	return &RenderError{
		Expression: expression,
		Path:       path,
		msg:        fmt.Sprintf(format, args...),
	}
}

// HasExpression returns true if s contains at least one template expression.
func HasExpression(s string) bool {
	return expressionPattern.MatchString(s)
}

// Render evaluates a single string against the given context.
//
// A string that consists of exactly one expression evaluates to the referenced value with its
// JSON type preserved. Otherwise every expression is replaced by the textual form of its value
// and the result is a string.
func Render(expression string, context map[string]any) (any, error) {
	r, err := newRenderer(context)
	if err != nil {
		return nil, err
	}

	return r.renderString(expression)
}

// RenderValue renders every string leaf of an arbitrary JSON document. Non-string leaves are
// returned unchanged. The input is not modified.
func RenderValue(value any, context map[string]any) (any, error) {
	r, err := newRenderer(context)
	if err != nil {
		return nil, err
	}

	return r.render(value)
}

// RenderObject is RenderValue for JSON objects.
func RenderObject(value map[string]any, context map[string]any) (map[string]any, error) {
	if value == nil {
		return nil, nil
	}

	r, err := newRenderer(context)
	if err != nil {
		return nil, err
	}

	v, err := r.render(value)
	if err != nil {
		return nil, err
	}

	return v.(map[string]any), nil
}

// Truthy reports whether a rendered value counts as true for conditional steps.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(t)
		return s != "" && s != "false"
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	}

	return true
}

type renderer struct {
	data []byte
}

func newRenderer(context map[string]any) (*renderer, error) {
	if context == nil {
		context = map[string]any{}
	}

	data, err := json.Marshal(context)
	if err != nil {
		return nil, fmt.Errorf("serializing template context: %w", err)
	}

	return &renderer{data: data}, nil
}

func (r *renderer) render(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.renderString(v)

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			rendered, err := r.render(item)
			if err != nil {
				return nil, err
			}

			out[key] = rendered
		}

		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := r.render(item)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	}

	return value, nil
}

func (r *renderer) renderString(s string) (any, error) {
	matches := expressionPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole string is a single expression, keep the type of the referenced value
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		res, err := r.lookup(s, s[matches[0][2]:matches[0][3]])
		if err != nil {
			return nil, err
		}

		return value(res)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])

		res, err := r.lookup(s, s[m[2]:m[3]])
		if err != nil {
			return nil, err
		}

		switch res.Type {
		case gjson.String:
			sb.WriteString(res.Str)
		case gjson.Null:
		default:
			sb.WriteString(res.Raw)
		}

		last = m[1]
	}
	sb.WriteString(s[last:])

	return sb.String(), nil
}

// value converts a looked up result into a Go value. Numbers become json.Number so
// large integers keep their precision.
func value(res gjson.Result) (any, error) {
	switch res.Type {
	case gjson.Number:
		return json.Number(res.Raw), nil
	case gjson.JSON:
		var v any
		if err := core.UnmarshalJSON([]byte(res.Raw), &v); err != nil {
			return nil, fmt.Errorf("decoding template value: %w", err)
		}

		return v, nil
	}

	return res.Value(), nil
}

func (r *renderer) lookup(expression, inner string) (gjson.Result, error) {
	path := strings.TrimSpace(inner)
	if !pathPattern.MatchString(path) {
		return gjson.Result{}, newRenderError(expression, path, "unsupported template expression %q", "{{"+inner+"}}")
	}

	res := gjson.GetBytes(r.data, path)
	if !res.Exists() {
		return gjson.Result{}, newRenderError(expression, path, "%q not defined in template context", path)
	}

	return res, nil
}
