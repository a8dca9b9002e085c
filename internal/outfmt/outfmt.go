// Package outfmt parses the human-written output-format prompt into field
// descriptors.
//
// The format is line oriented:
//
//	Name: string
//	Blood type: string(A,B,O,AB)
//	Age: integer
//	Height: float
//	Married: boolean
//
// Lines without a colon are ignored, so free-form notes can sit next to the
// field declarations.
package outfmt

import (
	"strings"
)

// FieldType is the declared type of an output field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeBoolean FieldType = "boolean"
)

// Known reports whether t is one of the four supported types.
// Unknown type tokens are kept verbatim by Parse and treated as strings downstream.
func (t FieldType) Known() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean:
		return true
	}
	return false
}

// FieldDescriptor is one declared output field.
type FieldDescriptor struct {
	Name          string    `json:"name" yaml:"name"`
	Type          FieldType `json:"type" yaml:"type"`
	AllowedValues []string  `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
}

// String renders the descriptor in the same syntax Parse accepts.
func (f FieldDescriptor) String() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteString(": ")
	b.WriteString(string(f.Type))
	if len(f.AllowedValues) > 0 {
		b.WriteByte('(')
		b.WriteString(strings.Join(f.AllowedValues, ","))
		b.WriteByte(')')
	}
	return b.String()
}

// Values returns the allowed values joined with commas, as shown in the
// parsed-format table.
func (f FieldDescriptor) Values() string {
	return strings.Join(f.AllowedValues, ",")
}

// Spec is the ordered list of fields declared by an output-format prompt.
type Spec struct {
	fields []FieldDescriptor
}

// NewSpec builds a Spec from descriptors. The slice is copied.
func NewSpec(fields ...FieldDescriptor) Spec {
	return Spec{fields: cloneFields(fields)}
}

// Fields returns a copy of the descriptors in declaration order.
func (s Spec) Fields() []FieldDescriptor {
	return cloneFields(s.fields)
}

// Len returns the number of declared fields.
func (s Spec) Len() int { return len(s.fields) }

// Empty reports whether no fields were declared.
func (s Spec) Empty() bool { return len(s.fields) == 0 }

// Names returns field names in declaration order.
func (s Spec) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// String renders one "name: type(args)" line per field.
func (s Spec) String() string {
	lines := make([]string, len(s.fields))
	for i, f := range s.fields {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n")
}

// Parse converts an output-format prompt into a Spec.
//
// Each line is split on its first ':' into name and type. If the type part
// contains '(' it is split on the first '(' and the remainder, with trailing
// ')' removed, is split on ',' into allowed values. An empty argument list
// such as "string()" yields a single empty allowed value; callers that care
// must handle that case themselves.
func Parse(text string) Spec {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var fields []FieldDescriptor
	for _, line := range strings.Split(text, "\n") {
		field, ok := parseLine(line)
		if !ok {
			continue
		}
		fields = append(fields, field)
	}
	return Spec{fields: fields}
}

func parseLine(line string) (FieldDescriptor, bool) {
	name, rest, found := strings.Cut(line, ":")
	if !found {
		return FieldDescriptor{}, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return FieldDescriptor{}, false
	}
	rest = strings.TrimSpace(rest)

	typ, args, hasArgs := strings.Cut(rest, "(")
	if !hasArgs {
		return FieldDescriptor{Name: name, Type: FieldType(rest)}, true
	}

	args = strings.TrimSuffix(strings.TrimSpace(args), ")")
	parts := strings.Split(args, ",")
	values := make([]string, len(parts))
	for i, p := range parts {
		values[i] = strings.TrimSpace(p)
	}

	return FieldDescriptor{
		Name:          name,
		Type:          FieldType(strings.TrimSpace(typ)),
		AllowedValues: values,
	}, true
}

func cloneFields(fields []FieldDescriptor) []FieldDescriptor {
	if fields == nil {
		return nil
	}
	out := make([]FieldDescriptor, len(fields))
	for i, f := range fields {
		out[i] = f
		if f.AllowedValues != nil {
			out[i].AllowedValues = append([]string(nil), f.AllowedValues...)
		}
	}
	return out
}
