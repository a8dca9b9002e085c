package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/config"
	"github.com/maiteclab/sheetgpt/internal/extract"
	"github.com/maiteclab/sheetgpt/internal/runner"
	"github.com/maiteclab/sheetgpt/internal/testutil"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"usage", fmt.Errorf("%w: unknown flag", errUsage), 2},
		{"incomplete input", fmt.Errorf("%w: missing id column", runner.ErrInputIncomplete), 2},
		{"invalid config", fmt.Errorf("%w: workers", config.ErrInvalidConfig), 2},
		{"server rejected input", &api.StatusError{StatusCode: http.StatusBadRequest, Message: "missing data file"}, 2},
		{"server failure", &api.StatusError{StatusCode: http.StatusInternalServerError}, 1},
		{"fatal run", fmt.Errorf("%w: unauthorized", extract.ErrFatal), 1},
		{"other", errors.New("disk full"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// execute runs the root command with fresh global state.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	configMgr = nil
	resetFlags(rootCmd)
	t.Cleanup(func() {
		configMgr = nil
		_ = api.SetOutputFormat("yaml")
	})

	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestRunCommand(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	dir := t.TempDir()
	data := filepath.Join(dir, "people.xlsx")
	if err := os.WriteFile(data, testutil.Workbook(t, [][]any{
		{"ID", "Text"},
		{1, "Ann"},
		{2, "Bo"},
	}), 0o644); err != nil {
		t.Fatal(err)
	}
	instruction := filepath.Join(dir, "instruction.txt")
	if err := os.WriteFile(instruction, []byte("Summarize."), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "out")

	err := execute(t, "run", data,
		"--config", testutil.WriteMockConfig(t, ""),
		"-i", instruction,
		"--id-column", "ID",
		"--input-column", "Text",
		"--out-dir", outDir,
		"--no-progress",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "people_mock-model_responses_") {
		t.Fatalf("unexpected output files: %v", entries)
	}

	out, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	rows := testutil.SheetRows(t, out, "Output")
	if len(rows) != 3 || rows[1][1] != "mock response" {
		t.Errorf("rows = %v", rows)
	}
}

func TestRunCommand_MissingInput(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "people.xlsx")
	if err := os.WriteFile(data, testutil.Workbook(t, [][]any{{"ID", "Text"}, {1, "a"}}), 0o644); err != nil {
		t.Fatal(err)
	}

	err := execute(t, "run", data,
		"--config", testutil.WriteMockConfig(t, ""),
		"--id-column", "ID",
		"--no-progress",
		"--log-level", "error",
	)
	if !errors.Is(err, runner.ErrInputIncomplete) {
		t.Fatalf("err = %v, want ErrInputIncomplete", err)
	}
	if exitCode(err) != 2 {
		t.Errorf("exitCode = %d, want 2", exitCode(err))
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := execute(t, "config", "init", path); err != nil {
		t.Fatalf("config init error = %v", err)
	}
	cm, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cm.Get().Server.Port != 8501 {
		t.Errorf("server.port = %d, want 8501", cm.Get().Server.Port)
	}

	err = execute(t, "config", "init", path)
	if !errors.Is(err, errUsage) {
		t.Errorf("second init err = %v, want usage error", err)
	}
	if err := execute(t, "config", "init", path, "--force"); err != nil {
		t.Errorf("forced init error = %v", err)
	}
}

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() { setupLogger("", "") })

	for _, tc := range []struct{ level, format string }{
		{"", ""}, {"debug", "json"}, {"WARN", "text"},
	} {
		if err := setupLogger(tc.level, tc.format); err != nil {
			t.Errorf("setupLogger(%q, %q) error = %v", tc.level, tc.format, err)
		}
	}
	if err := setupLogger("loud", ""); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("bad level err = %v", err)
	}
	if err := setupLogger("", "xml"); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("bad format err = %v", err)
	}
}

// resetFlags restores every flag to its default, since cobra keeps parsed
// values between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
