package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/config"
	"github.com/maiteclab/sheetgpt/internal/runner"
)

// errUsage marks command-line mistakes.
var errUsage = errors.New("usage error")

func main() {
	// Set up context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 when the run could not start because of bad input and 1
// for every other failure.
func exitCode(err error) int {
	var statusErr *api.StatusError
	switch {
	case errors.Is(err, errUsage),
		errors.Is(err, runner.ErrInputIncomplete),
		errors.Is(err, config.ErrInvalidConfig):
		return 2
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest:
		return 2
	default:
		return 1
	}
}
