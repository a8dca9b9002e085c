package structured

import (
	"fmt"
	"strings"

	"github.com/tyler-sommer/stick"
)

// Default prompt templates. Variables: instruction_prompt, input_data,
// output_format_prompt.
const (
	DefaultTemplate = "{{ instruction_prompt }}\n\n{{ input_data }}\n\n" +
		"Output Format:\n{{ output_format_prompt }}\nThe output must be in JSON format."
	DefaultPlainTemplate = "{{ instruction_prompt }}\n\n{{ input_data }}"
)

// Renderer builds the per-row prompt text.
type Renderer struct {
	env       *stick.Env
	formatted string
	plain     string
}

// NewRenderer returns a renderer using the given templates. Empty arguments
// fall back to the defaults.
func NewRenderer(formatted, plain string) *Renderer {
	if strings.TrimSpace(formatted) == "" {
		formatted = DefaultTemplate
	}
	if strings.TrimSpace(plain) == "" {
		plain = DefaultPlainTemplate
	}
	return &Renderer{
		env:       stick.New(nil),
		formatted: formatted,
		plain:     plain,
	}
}

// Render produces the prompt for one row. A nil outputFormat selects the
// plain template.
func (r *Renderer) Render(instruction, input string, outputFormat *string) (string, error) {
	tpl := r.plain
	vars := map[string]stick.Value{
		"instruction_prompt": instruction,
		"input_data":         input,
	}
	if outputFormat != nil {
		tpl = r.formatted
		vars["output_format_prompt"] = *outputFormat
	}

	var out strings.Builder
	if err := r.env.Execute(tpl, &out, vars); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out.String(), nil
}
