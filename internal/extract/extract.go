// Package extract sends one model request per spreadsheet row and collects
// the structured results.
//
// Rows are dispatched to a bounded worker pool. A failure on one row is
// recorded in that row's result and never stops the run; only a fatal
// provider error (a rejected credential) aborts the rows not yet sent.
package extract

import (
	"errors"
	"fmt"
	"time"

	"github.com/maiteclab/sheetgpt/internal/structured"
)

var (
	// ErrFatal wraps the error that aborted a run.
	ErrFatal = errors.New("extraction aborted")
	// ErrInvalidFormat is returned when an output format cannot be compiled
	// into a schema. No request is sent.
	ErrInvalidFormat = errors.New("invalid output format")
)

// Request is one row to send.
type Request struct {
	Index              int     `json:"index"`
	ID                 any     `json:"id"`
	InputData          string  `json:"input_data"`
	InstructionPrompt  string  `json:"instruction_prompt"`
	OutputFormatPrompt *string `json:"output_format_prompt,omitempty"`
}

// State tracks a request through the pool.
type State int

const (
	StatePending State = iota
	StateSent
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Response is the outcome for one Request. Responses are returned in
// request order and carry the request's ID.
type Response struct {
	ID        any               `json:"id"`
	Result    structured.Result `json:"result"`
	State     State             `json:"state"`
	Attempts  int               `json:"attempts"`
	Duration  time.Duration     `json:"duration"`
	Tokens    int               `json:"tokens"`
	RequestID string            `json:"request_id,omitempty"`
}

// ModelRequestError describes a row whose model call or reply parsing failed.
type ModelRequestError struct {
	Index int
	ID    any
	Err   error
}

func (e *ModelRequestError) Error() string {
	return fmt.Sprintf("model request failed: %v", e.Err)
}

func (e *ModelRequestError) Unwrap() error { return e.Err }

// ProgressFunc is called once per finished row with the number of rows
// finished so far. Calls are serialized and completed increases by one each
// time, ending at total.
type ProgressFunc func(completed, total int)

// Run summarises a finished extraction.
type Run struct {
	Responses   []Response    `json:"-"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	TotalTokens int           `json:"total_tokens"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Summary returns the counters without the response list.
func (r *Run) Summary() Run {
	s := *r
	s.Responses = nil
	return s
}
