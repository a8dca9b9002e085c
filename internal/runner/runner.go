// Package runner executes a whole extraction: read the workbook, send one
// request per row, and export the results workbook.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maiteclab/sheetgpt/internal/extract"
	"github.com/maiteclab/sheetgpt/internal/jobcfg"
	"github.com/maiteclab/sheetgpt/internal/sheet"
)

// ErrInputIncomplete is returned when a run cannot start because an input
// is missing or unusable. Nothing is sent to a provider.
var ErrInputIncomplete = errors.New("input incomplete")

// Input is everything one extraction needs.
type Input struct {
	Data     []byte // workbook bytes
	DataName string // original file name, used for the output name

	Instruction  string
	OutputFormat *string // nil disables structured parsing

	IDColumn    string
	InputColumn string

	jobcfg.Overrides

	Progress extract.ProgressFunc
}

// Output is the result of a run.
type Output struct {
	Run      *extract.Run
	Workbook []byte
	FileName string
	Provider string
	Model    string
	Workers  int
}

// Runner runs extractions with settings resolved per call.
type Runner struct {
	builder *jobcfg.Builder
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Runner.
func New(builder *jobcfg.Builder, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{builder: builder, logger: logger, now: time.Now}
}

// Validate checks that every required input is present.
func (in *Input) Validate() error {
	var missing []string
	if len(in.Data) == 0 {
		missing = append(missing, "data file")
	}
	if strings.TrimSpace(in.Instruction) == "" {
		missing = append(missing, "instruction prompt")
	}
	if strings.TrimSpace(in.IDColumn) == "" {
		missing = append(missing, "id column")
	}
	if strings.TrimSpace(in.InputColumn) == "" {
		missing = append(missing, "input column")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInputIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Extract runs one extraction.
//
// When the run is aborted by a fatal provider error the results workbook is
// still produced and returned together with the error. A cancelled context
// returns no output.
func (r *Runner) Extract(ctx context.Context, in Input) (*Output, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	wb, err := sheet.Open(bytes.NewReader(in.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputIncomplete, err)
	}
	reqs, err := wb.Requests(in.IDColumn, in.InputColumn, in.Instruction, in.OutputFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputIncomplete, err)
	}

	job, err := r.builder.Build(in.Overrides)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputIncomplete, err)
	}
	orch, err := extract.New(job.Extract)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputIncomplete, err)
	}

	logger := r.logger.With("file", in.DataName, "provider", job.Provider, "model", job.Model)
	logger.Info("running extraction", "rows", len(reqs), "sheet", wb.SheetName())

	run, runErr := orch.Run(ctx, reqs, in.Progress)
	switch {
	case errors.Is(runErr, extract.ErrInvalidFormat):
		return nil, fmt.Errorf("%w: %w", ErrInputIncomplete, runErr)
	case runErr != nil && !errors.Is(runErr, extract.ErrFatal):
		return nil, runErr
	}

	data, err := sheet.Export(run.Responses, in.IDColumn)
	if err != nil {
		return nil, err
	}

	name := in.DataName
	if name == "" {
		name = "data.xlsx"
	}
	out := &Output{
		Run:      run,
		Workbook: data,
		FileName: sheet.OutputFileName(name, job.Model, r.now()),
		Provider: job.Provider,
		Model:    job.Model,
		Workers:  job.Extract.Workers,
	}
	logger.Info("results ready", "output", out.FileName, "elapsed", run.Elapsed.Round(time.Millisecond))
	return out, runErr
}
