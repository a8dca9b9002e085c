package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maiteclab/sheetgpt/internal/outfmt"
	"github.com/maiteclab/sheetgpt/internal/providers"
	"github.com/maiteclab/sheetgpt/internal/structured"
)

// Response format modes for Config.ResponseFormat.
const (
	ResponseFormatJSONSchema = "json_schema"
	ResponseFormatJSONObject = "json_object"
	ResponseFormatNone       = "none"
)

// RetryConfig controls per-row retries of retriable provider errors.
type RetryConfig struct {
	Enabled      bool
	Attempts     uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Config configures an Orchestrator.
type Config struct {
	Client      providers.LLMClient
	Model       string
	Temperature float64

	// Workers bounds concurrent requests. 0 or 1 sends rows one at a time.
	Workers int
	// RequestTimeout bounds each row's model call, including retries.
	RequestTimeout time.Duration
	// RateLimiter paces requests; nil means unlimited.
	RateLimiter *providers.RateLimiter
	Retry       RetryConfig

	// ResponseFormat selects native structured output when an output format
	// is declared: "none" (default), "json_object" or "json_schema". The
	// format text is always in the prompt; json_schema needs a model that
	// supports strict structured outputs.
	ResponseFormat string
	Renderer       *structured.Renderer

	Logger *slog.Logger
}

// Orchestrator runs extractions. It is safe for concurrent use.
type Orchestrator struct {
	client         providers.LLMClient
	model          string
	temperature    float64
	workers        int
	requestTimeout time.Duration
	limiter        *providers.RateLimiter
	retry          RetryConfig
	responseFormat string
	renderer       *structured.Renderer
	logger         *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("LLM client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = structured.NewRenderer("", "")
	}

	switch cfg.ResponseFormat {
	case "":
		cfg.ResponseFormat = ResponseFormatNone
	case ResponseFormatJSONSchema, ResponseFormatJSONObject, ResponseFormatNone:
	default:
		return nil, fmt.Errorf("unknown response format %q", cfg.ResponseFormat)
	}

	rc := cfg.Retry
	if rc.Attempts == 0 {
		rc.Attempts = 3
	}
	if rc.InitialDelay <= 0 {
		rc.InitialDelay = time.Second
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = 30 * time.Second
	}

	return &Orchestrator{
		client:         cfg.Client,
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		workers:        workers,
		requestTimeout: cfg.RequestTimeout,
		limiter:        cfg.RateLimiter,
		retry:          rc,
		responseFormat: cfg.ResponseFormat,
		renderer:       renderer,
		logger:         logger.With("provider", cfg.Client.Name(), "model", cfg.Model, "workers", workers),
	}, nil
}

// task is the per-row unit handed to the pool.
type task struct {
	req    Request
	parser structured.Parser
	format *providers.ResponseFormat
}

// Run sends every request and returns once all of them have finished.
//
// The returned Run always holds one Response per request, in request order.
// On a fatal provider error the rows not yet sent keep the empty placeholder
// and the error wraps both ErrFatal and the cause. If ctx is cancelled the
// unsent rows are likewise skipped and ctx.Err() is returned.
func (o *Orchestrator) Run(ctx context.Context, reqs []Request, progress ProgressFunc) (*Run, error) {
	start := time.Now()
	total := len(reqs)
	run := &Run{
		Responses: make([]Response, total),
		Total:     total,
	}
	for i, req := range reqs {
		run.Responses[i] = Response{ID: req.ID, Result: structured.Empty(), State: StatePending}
	}
	if total == 0 {
		return run, nil
	}

	tasks, err := o.prepare(reqs)
	if err != nil {
		return nil, err
	}

	o.logger.Info("extraction started", "rows", total)

	var (
		mu        sync.Mutex
		completed int
	)
	finish := func(i int, resp Response) {
		mu.Lock()
		defer mu.Unlock()
		run.Responses[i] = resp
		completed++
		if progress != nil {
			progress(completed, total)
		}
	}

	// abort is cancelled by the first fatal error. In-flight requests keep
	// the caller's context so they complete normally.
	g, abort := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i := range tasks {
		t := tasks[i]
		g.Go(func() error {
			if abort.Err() != nil {
				finish(t.req.Index, Response{ID: t.req.ID, Result: structured.Empty(), State: StatePending})
				return nil
			}
			resp, err := o.process(ctx, t)
			finish(t.req.Index, resp)
			if err != nil && providers.IsFatal(err) {
				return err
			}
			return nil
		})
	}
	fatal := g.Wait()

	for _, resp := range run.Responses {
		switch resp.State {
		case StateSucceeded:
			run.Succeeded++
		case StateFailed:
			run.Failed++
		default:
			run.Skipped++
		}
		run.TotalTokens += resp.Tokens
	}
	run.Elapsed = time.Since(start)

	logger := o.logger.With(
		"succeeded", run.Succeeded,
		"failed", run.Failed,
		"skipped", run.Skipped,
		"elapsed", run.Elapsed.Round(time.Millisecond),
	)
	switch {
	case fatal != nil:
		logger.Error("extraction aborted", "error", fatal)
		return run, fmt.Errorf("%w: %w", ErrFatal, fatal)
	case ctx.Err() != nil:
		logger.Warn("extraction cancelled")
		return run, ctx.Err()
	}
	logger.Info("extraction finished", "tokens", run.TotalTokens)
	return run, nil
}

// prepare builds one parser per distinct output format before any row is
// dispatched, so workers only read shared state.
func (o *Orchestrator) prepare(reqs []Request) ([]task, error) {
	type compiled struct {
		parser structured.Parser
		format *providers.ResponseFormat
	}
	cache := make(map[string]compiled)
	passthrough := compiled{parser: structured.Passthrough{}}

	tasks := make([]task, len(reqs))
	for i, req := range reqs {
		req.Index = i
		c := passthrough
		if req.OutputFormatPrompt != nil {
			key := *req.OutputFormatPrompt
			var ok bool
			c, ok = cache[key]
			if !ok {
				spec := outfmt.Parse(key)
				if spec.Empty() {
					o.logger.Warn("output format declares no fields, replies will be kept as raw text")
					c = passthrough
				} else {
					schema, err := structured.NewSchema(spec)
					if err != nil {
						return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
					}
					c = compiled{parser: schema, format: o.nativeFormat(schema)}
				}
				cache[key] = c
			}
		}
		tasks[i] = task{req: req, parser: c.parser, format: c.format}
	}
	return tasks, nil
}

func (o *Orchestrator) nativeFormat(schema *structured.Schema) *providers.ResponseFormat {
	switch o.responseFormat {
	case ResponseFormatNone:
		return nil
	case ResponseFormatJSONObject:
		return &providers.ResponseFormat{Mode: providers.FormatJSONObject}
	default:
		return schema.ResponseFormat()
	}
}

// process runs one row to completion. The returned error is the provider
// error, if any, for fatal classification; the Response already records it.
func (o *Orchestrator) process(ctx context.Context, t task) (Response, error) {
	start := time.Now()
	requestID := uuid.New().String()
	resp := Response{ID: t.req.ID, State: StateSent, RequestID: requestID}
	logger := o.logger.With("row", t.req.Index, "request_id", requestID)

	fail := func(err error) (Response, error) {
		mre := &ModelRequestError{Index: t.req.Index, ID: t.req.ID, Err: err}
		resp.State = StateFailed
		resp.Result = structured.Failure(mre.Error())
		resp.Duration = time.Since(start)
		logger.Warn("row failed", "error", err)
		return resp, err
	}

	prompt, err := o.renderer.Render(t.req.InstructionPrompt, t.req.InputData, t.req.OutputFormatPrompt)
	if err != nil {
		return fail(err)
	}

	if o.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.requestTimeout)
		defer cancel()
	}

	chatReq := &providers.ChatRequest{
		Messages:       providers.UserMessage(prompt),
		Model:          o.model,
		Temperature:    o.temperature,
		ResponseFormat: t.format,
		RequestID:      requestID,
	}

	result, attempts, err := o.send(ctx, chatReq, logger)
	resp.Attempts = attempts
	if err != nil {
		return fail(err)
	}
	resp.Tokens = result.TotalTokens

	parsed := t.parser.Parse(result.Content)
	if parsed.Kind() == structured.KindError {
		return fail(errors.New(parsed.Err()))
	}

	resp.Result = parsed
	resp.State = StateSucceeded
	resp.Duration = time.Since(start)
	if t.req.Index == 0 {
		logger.Debug("first response", "content", result.Content)
	}
	logger.Debug("row succeeded", "attempts", attempts, "tokens", result.TotalTokens, "duration", resp.Duration)
	return resp, nil
}

// send performs the chat call, retrying retriable errors when enabled.
func (o *Orchestrator) send(ctx context.Context, req *providers.ChatRequest, logger *slog.Logger) (*providers.ChatResult, int, error) {
	attempts := 0
	call := func() (*providers.ChatResult, error) {
		attempts++
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		result, err := o.client.Chat(ctx, req)
		if rle, ok := providers.IsRateLimitError(err); ok {
			o.limiter.Record429(rle.RetryAfter)
		}
		return result, err
	}

	if !o.retry.Enabled {
		result, err := call()
		return result, attempts, err
	}

	result, err := retry.DoWithData(
		call,
		retry.Context(ctx),
		retry.Attempts(o.retry.Attempts),
		retry.Delay(o.retry.InitialDelay),
		retry.MaxDelay(o.retry.MaxDelay),
		retry.DelayType(retryDelay),
		retry.RetryIf(providers.IsRetriable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("retrying request", "attempt", n+1, "error", err)
		}),
	)
	return result, attempts, err
}

// retryDelay honours a rate-limit Retry-After and otherwise backs off
// exponentially.
func retryDelay(n uint, err error, config *retry.Config) time.Duration {
	if rle, ok := providers.IsRateLimitError(err); ok && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	return retry.BackOffDelay(n, err, config)
}
