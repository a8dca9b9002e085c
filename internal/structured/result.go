package structured

import (
	"encoding/json"
	"maps"
)

// Kind identifies which of the mutually exclusive result shapes a Result holds.
type Kind int

const (
	// KindEmpty is the placeholder recorded for rows that never produced a reply.
	KindEmpty Kind = iota
	// KindFields holds values for the declared output fields.
	KindFields
	// KindRaw holds the model's unparsed reply (no output format declared).
	KindRaw
	// KindError holds a failure description.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindFields:
		return "fields"
	case KindRaw:
		return "response"
	case KindError:
		return "error"
	default:
		return "empty"
	}
}

// Keys used when a result is flattened into a row.
const (
	RawKey   = "response"
	ErrorKey = "error"
)

// Result is the structured outcome of one model reply.
type Result struct {
	kind   Kind
	keys   []string
	fields map[string]any
	text   string
}

// Fields builds a field result. keys fixes the column order; values missing
// from the map are flattened as nil.
func Fields(keys []string, values map[string]any) Result {
	return Result{
		kind:   KindFields,
		keys:   append([]string(nil), keys...),
		fields: maps.Clone(values),
	}
}

// Raw wraps an unparsed reply.
func Raw(text string) Result {
	return Result{kind: KindRaw, text: text}
}

// Failure records an error description in place of a reply.
func Failure(msg string) Result {
	return Result{kind: KindError, text: msg}
}

// Empty is the placeholder for rows that were not attempted.
func Empty() Result {
	return Result{kind: KindEmpty}
}

// Kind returns the result shape.
func (r Result) Kind() Kind { return r.kind }

// Err returns the failure description, or "" for non-error results.
func (r Result) Err() string {
	if r.kind != KindError {
		return ""
	}
	return r.text
}

// Text returns the raw reply for KindRaw results.
func (r Result) Text() string {
	if r.kind != KindRaw {
		return ""
	}
	return r.text
}

// Value returns a single field value.
func (r Result) Value(name string) (any, bool) {
	if r.kind != KindFields {
		return nil, false
	}
	v, ok := r.fields[name]
	return v, ok
}

// Row flattens the result into ordered column names and values.
func (r Result) Row() ([]string, map[string]any) {
	switch r.kind {
	case KindFields:
		row := make(map[string]any, len(r.keys))
		for _, k := range r.keys {
			row[k] = r.fields[k]
		}
		return append([]string(nil), r.keys...), row
	case KindRaw:
		return []string{RawKey}, map[string]any{RawKey: r.text}
	case KindError:
		return []string{ErrorKey}, map[string]any{ErrorKey: r.text}
	default:
		return nil, map[string]any{}
	}
}

// MarshalJSON encodes the result in its mapping form: the field object,
// {"response": ...}, {"error": ...}, or {}.
func (r Result) MarshalJSON() ([]byte, error) {
	_, row := r.Row()
	return json.Marshal(row)
}
