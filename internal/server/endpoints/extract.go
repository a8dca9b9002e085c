package endpoints

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/extract"
	"github.com/maiteclab/sheetgpt/internal/runner"
	"github.com/maiteclab/sheetgpt/internal/svcctx"
)

// Response headers set by POST /api/extract.
const (
	HeaderSucceededRows = "X-Sheetgpt-Succeeded-Rows"
	HeaderFailedRows    = "X-Sheetgpt-Failed-Rows"
	HeaderSkippedRows   = "X-Sheetgpt-Skipped-Rows"
	HeaderModel         = "X-Sheetgpt-Model"
	HeaderAborted       = "X-Sheetgpt-Aborted"
	HeaderWorkers       = "X-Sheetgpt-Workers"
)

// XLSXContentType is the media type of the results workbook.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExtractEndpoint handles POST /api/extract.
type ExtractEndpoint struct{}

var _ api.Endpoint = (*ExtractEndpoint)(nil)

func (e *ExtractEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/extract", e.handler
}

// handler godoc
//
//	@Summary		Run an extraction
//	@Description	Sends one model request per row and returns the results workbook.
//	@Description	A run aborted by a fatal provider error still returns the workbook, with X-Sheetgpt-Aborted set.
//	@Tags			extract
//	@Accept			mpfd
//	@Produce		application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
//	@Param			data				formData	file	true	"Workbook (.xlsx)"
//	@Param			instruction			formData	string	false	"Instruction prompt"
//	@Param			instruction_file	formData	file	false	"Instruction prompt (.txt or .docx)"
//	@Param			output_format		formData	string	false	"Output format prompt"
//	@Param			output_format_file	formData	file	false	"Output format prompt (.txt or .docx)"
//	@Param			id_column			formData	string	true	"Identifier column"
//	@Param			input_column		formData	string	true	"Input column"
//	@Param			provider			formData	string	false	"Provider name (default from config)"
//	@Param			model				formData	string	false	"Model name (default from config)"
//	@Param			api_key				formData	string	false	"API key for this run only"
//	@Param			workers				formData	int		false	"Concurrent requests, capped at run.max_workers"
//	@Success		200	{file}		file
//	@Header			200	{integer}	X-Sheetgpt-Workers	"Workers used after capping"
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/extract [post]
func (e *ExtractEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	logger := svcctx.LoggerFrom(r.Context())
	run := svcctx.RunnerFrom(r.Context())
	if run == nil {
		writeError(w, http.StatusServiceUnavailable, "extraction runner not initialized")
		return
	}

	if !parseForm(w, r) {
		return
	}
	defer cleanupForm(r, logger)

	var in runner.Input
	var err error

	in.Data, in.DataName, _, err = formFile(r, "data")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.Instruction, _, err = formPrompt(r, "instruction", "instruction_file", logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format, set, err := formPrompt(r, "output_format", "output_format_file", logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if set {
		in.OutputFormat = &format
	}

	in.IDColumn = r.FormValue("id_column")
	in.InputColumn = r.FormValue("input_column")
	in.Provider = r.FormValue("provider")
	in.Model = r.FormValue("model")
	in.APIKey = r.FormValue("api_key")
	if v := r.FormValue("workers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "workers must be a positive integer")
			return
		}
		in.Workers = n
	}

	out, err := run.Extract(r.Context(), in)
	if out == nil {
		switch {
		case errors.Is(err, runner.ErrInputIncomplete):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error("extraction failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h := w.Header()
	h.Set("Content-Type", XLSXContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.FileName}))
	h.Set(HeaderSucceededRows, strconv.Itoa(out.Run.Succeeded))
	h.Set(HeaderFailedRows, strconv.Itoa(out.Run.Failed))
	h.Set(HeaderSkippedRows, strconv.Itoa(out.Run.Skipped))
	h.Set(HeaderModel, out.Model)
	h.Set(HeaderWorkers, strconv.Itoa(out.Workers))
	if err != nil {
		h.Set(HeaderAborted, headerSafe(err.Error()))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Workbook); err != nil {
		logger.Warn("failed to write results workbook", "error", err)
	}
}

func headerSafe(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ExtractResult summarizes a downloaded results workbook.
type ExtractResult struct {
	Output    string `json:"output" yaml:"output"`
	Model     string `json:"model" yaml:"model"`
	Succeeded int    `json:"succeeded" yaml:"succeeded"`
	Failed    int    `json:"failed" yaml:"failed"`
	Skipped   int    `json:"skipped" yaml:"skipped"`
	Aborted   string `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

func (e *ExtractEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		instructionFile string
		formatFile      string
		idColumn        string
		inputColumn     string
		provider        string
		model           string
		workers         int
		outDir          string
	)
	cmd := &cobra.Command{
		Use:   "extract <workbook.xlsx>",
		Short: "Run an extraction on the server and save the results workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			files := []api.FormFile{{Field: "data", Name: filepath.Base(args[0]), Data: data}}
			for field, path := range map[string]string{
				"instruction_file":   instructionFile,
				"output_format_file": formatFile,
			} {
				if path == "" {
					continue
				}
				b, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				files = append(files, api.FormFile{Field: field, Name: filepath.Base(path), Data: b})
			}
			fields := map[string]string{
				"id_column":    idColumn,
				"input_column": inputColumn,
				"provider":     provider,
				"model":        model,
			}
			if workers > 0 {
				fields["workers"] = strconv.Itoa(workers)
			}

			client := api.NewClient(getServerURL())
			dl, err := client.DownloadForm(cmd.Context(), "/api/extract", fields, files)
			if err != nil {
				return err
			}

			name := dl.FileName
			if name == "" {
				name = "responses.xlsx"
			}
			path := filepath.Join(outDir, filepath.Base(name))
			if err := os.WriteFile(path, dl.Data, 0o644); err != nil {
				return fmt.Errorf("failed to save results: %w", err)
			}

			res := ExtractResult{
				Output:  path,
				Model:   dl.Header.Get(HeaderModel),
				Aborted: dl.Header.Get(HeaderAborted),
			}
			res.Succeeded, _ = strconv.Atoi(dl.Header.Get(HeaderSucceededRows))
			res.Failed, _ = strconv.Atoi(dl.Header.Get(HeaderFailedRows))
			res.Skipped, _ = strconv.Atoi(dl.Header.Get(HeaderSkippedRows))
			if err := api.Output(res); err != nil {
				return err
			}
			if res.Aborted != "" {
				return fmt.Errorf("%w: %s", extract.ErrFatal, res.Aborted)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&instructionFile, "instruction", "i", "", "Instruction prompt file (.txt or .docx)")
	cmd.Flags().StringVarP(&formatFile, "output-format", "f", "", "Output format file (.txt or .docx)")
	cmd.Flags().StringVar(&idColumn, "id-column", "", "Identifier column")
	cmd.Flags().StringVar(&inputColumn, "input-column", "", "Input column")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name (server default if empty)")
	cmd.Flags().StringVar(&model, "model", "", "Model name (server default if empty)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent requests (server default if 0)")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory for the results workbook")
	return cmd
}
