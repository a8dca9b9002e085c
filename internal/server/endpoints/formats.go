package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/outfmt"
	"github.com/maiteclab/sheetgpt/internal/promptfile"
	"github.com/maiteclab/sheetgpt/internal/structured"
)

// ParseFormatRequest is the body of POST /api/formats/parse.
type ParseFormatRequest struct {
	OutputFormat string `json:"output_format"`
}

// FormatField is one row of the parsed output format table.
type FormatField struct {
	Name   string `json:"name" yaml:"name"`
	Values string `json:"values" yaml:"values"`
	Type   string `json:"type" yaml:"type"`
}

// ParseFormatResponse describes the fields an output format declares.
type ParseFormatResponse struct {
	Fields  []FormatField   `json:"fields" yaml:"fields"`
	Schema  json.RawMessage `json:"schema,omitempty" yaml:"-"`
	Warning string          `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// ParseFormat parses an output format prompt into the table shown to users
// and the JSON Schema replies are validated against.
func ParseFormat(text string) (ParseFormatResponse, error) {
	spec := outfmt.Parse(text)
	resp := ParseFormatResponse{Fields: make([]FormatField, 0, spec.Len())}
	for _, f := range spec.Fields() {
		resp.Fields = append(resp.Fields, FormatField{
			Name:   f.Name,
			Values: f.Values(),
			Type:   string(f.Type),
		})
	}
	if spec.Empty() {
		resp.Warning = "no fields declared, replies will be kept as raw text"
		return resp, nil
	}
	schema, err := structured.NewSchema(spec)
	if err != nil {
		return resp, err
	}
	resp.Schema = schema.Document()
	return resp, nil
}

// ParseFormatEndpoint handles POST /api/formats/parse.
type ParseFormatEndpoint struct{}

var _ api.Endpoint = (*ParseFormatEndpoint)(nil)

func (e *ParseFormatEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/formats/parse", e.handler
}

// handler godoc
//
//	@Summary		Parse an output format
//	@Description	Returns the declared fields (name, allowed values, type) and the derived JSON Schema
//	@Tags			formats
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ParseFormatRequest	true	"Output format prompt"
//	@Success		200		{object}	ParseFormatResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/formats/parse [post]
func (e *ParseFormatEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ParseFormatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := ParseFormat(req.OutputFormat)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ParseFormatEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "format <format.txt|format.docx>",
		Short: "Parse an output format file on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := promptfile.ReadFile(args[0])
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp ParseFormatResponse
			if err := client.Post(cmd.Context(), "/api/formats/parse", ParseFormatRequest{OutputFormat: text}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
