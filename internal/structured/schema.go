// Package structured turns raw model replies into field mappings.
//
// A Schema is built once per run from the parsed output format and shared,
// read-only, by every worker. Without an output format, replies pass through
// untouched as {"response": text}.
package structured

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/maiteclab/sheetgpt/internal/outfmt"
	"github.com/maiteclab/sheetgpt/internal/providers"
)

// SchemaName is the name sent with native structured-output requests.
const SchemaName = "extraction_result"

// Parser converts a raw reply into a Result.
type Parser interface {
	Parse(raw string) Result
}

// Schema validates replies against the declared output fields.
type Schema struct {
	spec     outfmt.Spec
	fields   []outfmt.FieldDescriptor
	doc      json.RawMessage
	compiled *jsonschema.Schema
}

// NewSchema compiles the JSON Schema for spec.
func NewSchema(spec outfmt.Spec) (*Schema, error) {
	if spec.Empty() {
		return nil, fmt.Errorf("output format declares no fields")
	}

	fields := spec.Fields()
	doc, err := json.Marshal(schemaDocument(fields))
	if err != nil {
		return nil, fmt.Errorf("failed to encode output schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to load output schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile output schema: %w", err)
	}

	return &Schema{
		spec:     spec,
		fields:   fields,
		doc:      doc,
		compiled: compiled,
	}, nil
}

// NewParser returns a Schema for a non-empty spec and a passthrough parser
// otherwise.
func NewParser(spec outfmt.Spec) (Parser, error) {
	if spec.Empty() {
		return Passthrough{}, nil
	}
	return NewSchema(spec)
}

// Spec returns the output format the schema was built from.
func (s *Schema) Spec() outfmt.Spec { return s.spec }

// Document returns the JSON Schema document.
func (s *Schema) Document() json.RawMessage {
	return append(json.RawMessage(nil), s.doc...)
}

// ResponseFormat returns the native structured-output request for this
// schema.
func (s *Schema) ResponseFormat() *providers.ResponseFormat {
	return &providers.ResponseFormat{
		Mode:   providers.FormatJSONSchema,
		Name:   SchemaName,
		Schema: s.Document(),
	}
}

// schemaDocument builds a strict object schema: every declared field is
// required, may be null, and no other keys are allowed.
func schemaDocument(fields []outfmt.FieldDescriptor) map[string]any {
	properties := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))

	for _, f := range fields {
		prop := map[string]any{
			"type": []any{jsonType(f.Type), "null"},
		}
		if desc := f.Values(); desc != "" {
			prop["description"] = desc
		}
		if enum := enumValues(f); enum != nil {
			prop["enum"] = enum
		}
		properties[f.Name] = prop
		required = append(required, f.Name)
	}

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func jsonType(t outfmt.FieldType) string {
	switch t {
	case outfmt.TypeInteger:
		return "integer"
	case outfmt.TypeFloat:
		return "number"
	case outfmt.TypeBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// enumValues returns the allowed values of a string field as a JSON enum.
// An argument list that is entirely blank (the "string()" form) carries no
// constraint.
func enumValues(f outfmt.FieldDescriptor) []any {
	if jsonType(f.Type) != "string" || len(f.AllowedValues) == 0 {
		return nil
	}
	enum := make([]any, 0, len(f.AllowedValues)+1)
	for _, v := range f.AllowedValues {
		if v != "" {
			enum = append(enum, v)
		}
	}
	if len(enum) == 0 {
		return nil
	}
	return append(enum, nil)
}
