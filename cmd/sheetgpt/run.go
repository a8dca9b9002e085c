package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/config"
	"github.com/maiteclab/sheetgpt/internal/extract"
	"github.com/maiteclab/sheetgpt/internal/jobcfg"
	"github.com/maiteclab/sheetgpt/internal/promptfile"
	"github.com/maiteclab/sheetgpt/internal/providers"
	"github.com/maiteclab/sheetgpt/internal/runner"
)

var runOpts struct {
	instructionFile string
	formatFile      string
	idColumn        string
	inputColumn     string
	provider        string
	model           string
	apiKey          string
	workers         int
	temperature     float64
	rpm             int
	retry           bool
	outDir          string
	noProgress      bool
}

// RunResult summarizes a finished run.
type RunResult struct {
	Output      string `json:"output" yaml:"output"`
	Provider    string `json:"provider" yaml:"provider"`
	Model       string `json:"model" yaml:"model"`
	Rows        int    `json:"rows" yaml:"rows"`
	Succeeded   int    `json:"succeeded" yaml:"succeeded"`
	Failed      int    `json:"failed" yaml:"failed"`
	Skipped     int    `json:"skipped" yaml:"skipped"`
	TotalTokens int    `json:"total_tokens" yaml:"total_tokens"`
	Elapsed     string `json:"elapsed" yaml:"elapsed"`
	Aborted     string `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run <workbook.xlsx>",
	Short: "Send every row of a workbook to a model and save the results",
	Long: `Run an extraction over the first sheet of a workbook.

One request is sent per non-blank row. Its prompt is built from the
instruction file, the row's input cell and, when given, the output format
file. Prompt files may be .txt or .docx.

The results workbook is named {data}_{model}_responses_{timestamp}.xlsx and
holds the id column followed by one column per parsed field. A row whose
request failed gets an "error" cell and the run continues. An invalid API
key stops the run; the rows finished so far are still saved.

Examples:
  sheetgpt run people.xlsx -i instruction.txt --id-column ID --input-column Text
  sheetgpt run people.xlsx -i prompt.docx -f format.docx --id-column ID --input-column Text \
      --provider gemini --workers 4 --out-dir results/`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyRunFlags(cmd, cm); err != nil {
			return err
		}
		logger := slog.Default()

		in := runner.Input{
			DataName:    filepath.Base(args[0]),
			IDColumn:    runOpts.idColumn,
			InputColumn: runOpts.inputColumn,
			Overrides: jobcfg.Overrides{
				Provider: runOpts.provider,
				Model:    runOpts.model,
				APIKey:   runOpts.apiKey,
				Workers:  runOpts.workers,
			},
		}
		if cmd.Flags().Changed("temperature") {
			t := runOpts.temperature
			in.Temperature = &t
		}

		in.Data, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("%w: %w", runner.ErrInputIncomplete, err)
		}
		if in.Instruction, err = readPrompt(logger, runOpts.instructionFile); err != nil {
			return err
		}
		if runOpts.formatFile != "" {
			format, err := readPrompt(logger, runOpts.formatFile)
			if err != nil {
				return err
			}
			in.OutputFormat = &format
		}

		var bar *progressbar.ProgressBar
		if !runOpts.noProgress {
			in.Progress = func(completed, total int) {
				if bar == nil {
					bar = newProgressBar(total)
				}
				_ = bar.Set(completed)
			}
		}

		registry := providers.NewRegistry()
		registry.SetLogger(logger)
		registry.Reload(cm.Get().ToRegistryConfig())
		run := runner.New(jobcfg.NewBuilder(cm.Get, registry, logger), logger)

		out, runErr := run.Extract(cmd.Context(), in)
		if bar != nil {
			_ = bar.Finish()
		}
		if out == nil {
			return runErr
		}

		if err := os.MkdirAll(runOpts.outDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		path := filepath.Join(runOpts.outDir, out.FileName)
		if err := os.WriteFile(path, out.Workbook, 0o644); err != nil {
			return fmt.Errorf("failed to save results: %w", err)
		}

		res := RunResult{
			Output:      path,
			Provider:    out.Provider,
			Model:       out.Model,
			Rows:        out.Run.Total,
			Succeeded:   out.Run.Succeeded,
			Failed:      out.Run.Failed,
			Skipped:     out.Run.Skipped,
			TotalTokens: out.Run.TotalTokens,
			Elapsed:     out.Run.Elapsed.Round(time.Millisecond).String(),
		}
		if errors.Is(runErr, extract.ErrFatal) {
			res.Aborted = runErr.Error()
		}
		if err := api.Output(res); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.instructionFile, "instruction", "i", "", "Instruction prompt file (.txt or .docx)")
	f.StringVarP(&runOpts.formatFile, "output-format", "f", "", "Output format file (.txt or .docx); omit to keep raw replies")
	f.StringVar(&runOpts.idColumn, "id-column", "", "Column identifying each row")
	f.StringVar(&runOpts.inputColumn, "input-column", "", "Column holding the text sent to the model")
	f.StringVar(&runOpts.provider, "provider", "", "Provider name (default: defaults.provider)")
	f.StringVar(&runOpts.model, "model", "", "Model name (default: defaults.model)")
	f.StringVar(&runOpts.apiKey, "api-key", "", "API key for this run only")
	f.IntVar(&runOpts.workers, "workers", 0, "Concurrent requests (default: run.workers)")
	f.Float64Var(&runOpts.temperature, "temperature", 0, "Sampling temperature (default: defaults.temperature)")
	f.IntVar(&runOpts.rpm, "rpm", 0, "Requests per minute limit (default: run.rate_limit_rpm)")
	f.BoolVar(&runOpts.retry, "retry", false, "Retry transient failures (default: run.retry.enabled)")
	f.StringVar(&runOpts.outDir, "out-dir", ".", "Directory for the results workbook")
	f.BoolVar(&runOpts.noProgress, "no-progress", false, "Hide the progress bar")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags copies flags that map onto config keys.
func applyRunFlags(cmd *cobra.Command, cm *config.Manager) error {
	if cmd.Flags().Changed("rpm") {
		if err := cm.Set("run.rate_limit_rpm", runOpts.rpm); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("retry") {
		if err := cm.Set("run.retry.enabled", runOpts.retry); err != nil {
			return err
		}
	}
	return nil
}

// readPrompt reads a prompt file. A missing path is left for input
// validation to report; an unreadable format is warned about and yields
// empty text.
func readPrompt(logger *slog.Logger, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", runner.ErrInputIncomplete, err)
	}
	return promptfile.Load(logger, filepath.Base(path), data), nil
}

func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("extracting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
}
