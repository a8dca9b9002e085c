package structured

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/maiteclab/sheetgpt/internal/outfmt"
)

// Passthrough wraps every reply as {"response": raw}.
type Passthrough struct{}

// Parse implements Parser.
func (Passthrough) Parse(raw string) Result {
	return Raw(raw)
}

// Parse extracts the declared fields from a reply. Any failure to recover
// a conforming JSON object yields an error result instead of a partial row.
func (s *Schema) Parse(raw string) Result {
	values, err := s.decode(raw)
	if err != nil {
		return Failure(err.Error())
	}
	return Fields(s.spec.Names(), values)
}

// Validate reports whether raw parses into a conforming object.
func (s *Schema) Validate(raw string) error {
	_, err := s.decode(raw)
	return err
}

func (s *Schema) decode(raw string) (map[string]any, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(s.fields))
	var problems []string
	for _, f := range s.fields {
		v, ok := obj[f.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing field %q", f.Name))
			continue
		}
		coerced, err := coerce(f.Type, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("field %q: %v", f.Name, err))
			continue
		}
		values[f.Name] = coerced
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("structured output does not match format: %s", strings.Join(problems, "; "))
	}

	if err := s.validate(values); err != nil {
		return nil, err
	}
	return values, nil
}

// validate round-trips values through JSON so the validator sees the same
// representation it would for a freshly decoded document.
func (s *Schema) validate(values map[string]any) error {
	encoded, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode structured output: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode structured output: %w", err)
	}

	if err := s.compiled.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("structured output does not match format: %s", validationSummary(verr))
		}
		return fmt.Errorf("structured output does not match format: %w", err)
	}
	return nil
}

func validationSummary(verr *jsonschema.ValidationError) string {
	leaves := verr.BasicOutput().Errors
	var parts []string
	for _, e := range leaves {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		loc := strings.TrimPrefix(e.InstanceLocation, "/")
		if loc == "" {
			parts = append(parts, e.Error)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", loc, e.Error))
	}
	if len(parts) == 0 {
		return verr.Message
	}
	return strings.Join(parts, "; ")
}

// parseObject recovers a JSON object from model output, tolerating markdown
// code fences and surrounding prose.
func parseObject(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractObject(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		dec := json.NewDecoder(strings.NewReader(candidate))
		dec.UseNumber()
		var parsed any
		if err := dec.Decode(&parsed); err != nil {
			continue
		}
		if dec.More() {
			continue
		}
		obj, ok := parsed.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("structured output is %s, not a JSON object", describeJSON(parsed))
		}
		return obj, nil
	}

	return nil, fmt.Errorf("failed to parse structured JSON from reply")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

func describeJSON(v any) string {
	switch v.(type) {
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// coerce converts a decoded JSON value to the Go type of the declared field
// when the conversion loses nothing. Nested objects and arrays are left for
// the schema validator to reject.
func coerce(t outfmt.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case outfmt.TypeInteger:
		switch x := v.(type) {
		case json.Number:
			return numberToInt(string(x))
		case string:
			return numberToInt(strings.TrimSpace(x))
		}
	case outfmt.TypeFloat:
		switch x := v.(type) {
		case json.Number:
			return strconv.ParseFloat(string(x), 64)
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", x)
			}
			return f, nil
		}
	case outfmt.TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("%q is not a boolean", x)
			}
			return b, nil
		}
	default:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return string(x), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
	}
	return v, nil
}

func numberToInt(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not an integer", s)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%s is not an integer", s)
	}
	return int64(f), nil
}
