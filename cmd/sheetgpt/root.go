package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/config"
	"github.com/maiteclab/sheetgpt/internal/home"
	"github.com/maiteclab/sheetgpt/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
	logFormat    string

	// configMgr is loaded on first use by commands that need settings.
	configMgr *config.Manager
)

var rootCmd = &cobra.Command{
	Use:   "sheetgpt",
	Short: "Run an LLM prompt over every row of a spreadsheet",
	Long: `sheetgpt sends one model request per spreadsheet row and collects the
replies into a results workbook.

Each request combines an instruction prompt, the row's input cell and an
optional output format. When a format is given, replies are parsed into
one column per declared field:

  Name: string
  Blood type: string(A,B,O,AB)
  Age: integer

Examples:
  sheetgpt columns people.xlsx --preview 3
  sheetgpt format format.docx
  sheetgpt run people.xlsx -i instruction.txt -f format.docx --id-column ID --input-column Text
  sheetgpt serve`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.sheetgpt/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "sheetgpt home directory (default: ~/.sheetgpt)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn or error (default from config)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logFormat, "log-format", "", "log format: text or json (default from config)",
	)

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	// Set output format and a flag-driven logger before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := api.SetOutputFormat(outputFormat); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		return setupLogger(logLevel, logFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration once and re-applies the log settings it
// holds. Flags win over the config file.
func loadConfig() (*config.Manager, error) {
	if configMgr != nil {
		return configMgr, nil
	}

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	cm, err := config.NewManager(h.ConfigFile(cfgFile))
	if err != nil {
		return nil, err
	}

	lc := cm.Get().Log
	if err := setupLogger(firstNonEmpty(logLevel, lc.Level), firstNonEmpty(logFormat, lc.Format)); err != nil {
		return nil, err
	}
	cm.SetLogger(slog.Default())
	if f := cm.ConfigFileUsed(); f != "" {
		slog.Debug("loaded config", "file", f)
	}

	configMgr = cm
	return cm, nil
}

// setupLogger installs the default logger. Logs go to stderr so that
// command output on stdout stays machine readable.
func setupLogger(level, format string) error {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("%w: log level %q", config.ErrInvalidConfig, level)
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("%w: log format %q", config.ErrInvalidConfig, format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// exactArgs is cobra.ExactArgs with usage errors marked for the exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
