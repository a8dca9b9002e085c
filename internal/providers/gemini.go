package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	GeminiName         = "gemini"
	GeminiDefaultModel = "gemini-2.0-flash"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	Timeout      time.Duration
	BaseURL      string       // Optional (tests)
	HTTPClient   *http.Client // Optional (tests)
}

// GeminiClient implements LLMClient on the Gemini API.
type GeminiClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *genai.Client
}

// NewGeminiClient creates a Gemini client. No request is made.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = GeminiDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		client:       client,
	}, nil
}

// Name returns the client identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Model returns the configured default model.
func (c *GeminiClient) Model() string {
	return c.defaultModel
}

// Chat sends a generateContent request.
func (c *GeminiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	temp := float32(req.Temperature)
	config := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if rf := req.ResponseFormat; rf != nil {
		config.ResponseMIMEType = "application/json"
		if rf.Mode != FormatJSONObject && len(rf.Schema) > 0 {
			schema, err := toGeminiSchema(rf.Schema)
			if err != nil {
				return nil, err
			}
			config.ResponseSchema = schema
		}
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, mapGeminiError(err)
	}

	text, err := geminiText(resp)
	if err != nil {
		return nil, err
	}

	result := &ChatResult{
		Content:       text,
		ExecutionTime: time.Since(start),
		Provider:      GeminiName,
		ModelUsed:     model,
		RequestID:     req.RequestID,
	}
	if resp.ModelVersion != "" {
		result.ModelUsed = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		result.PromptTokens = int(u.PromptTokenCount)
		result.CompletionTokens = int(u.CandidatesTokenCount)
		result.TotalTokens = int(u.TotalTokenCount)
	}
	return result, nil
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("Gemini returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// toGeminiSchema converts a JSON Schema document into the OpenAPI subset
// Gemini accepts. Type unions with "null" become Nullable.
func toGeminiSchema(raw json.RawMessage) (*genai.Schema, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}
	return convertSchemaNode(doc), nil
}

func convertSchemaNode(node map[string]any) *genai.Schema {
	s := &genai.Schema{}

	switch t := node["type"].(type) {
	case string:
		s.Type = geminiType(t)
	case []any:
		for _, v := range t {
			name, _ := v.(string)
			if name == "null" {
				nullable := true
				s.Nullable = &nullable
				continue
			}
			if s.Type == "" {
				s.Type = geminiType(name)
			}
		}
	}

	if desc, ok := node["description"].(string); ok {
		s.Description = desc
	}
	if enum, ok := node["enum"].([]any); ok {
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
		if len(s.Enum) > 0 {
			s.Format = "enum"
		}
	}

	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, child := range props {
			if childMap, ok := child.(map[string]any); ok {
				s.Properties[name] = convertSchemaNode(childMap)
			}
		}
	}
	if required, ok := node["required"].([]any); ok {
		for _, v := range required {
			if name, ok := v.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
		s.PropertyOrdering = append([]string(nil), s.Required...)
	} else if len(s.Properties) > 0 {
		for name := range s.Properties {
			s.PropertyOrdering = append(s.PropertyOrdering, name)
		}
		sort.Strings(s.PropertyOrdering)
	}
	if items, ok := node["items"].(map[string]any); ok {
		s.Items = convertSchemaNode(items)
	}

	return s
}

func geminiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func mapGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) || apiErrPtr == nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		apiErr = *apiErrPtr
	}

	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.Code)
	}

	switch {
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: Gemini rejected credentials (status %d): %s", ErrUnauthorized, apiErr.Code, msg)
	case apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "api key"):
		return fmt.Errorf("%w: Gemini rejected credentials: %s", ErrUnauthorized, msg)
	case apiErr.Code == http.StatusTooManyRequests:
		return &RateLimitError{
			Message:    fmt.Sprintf("Gemini rate limited: %s", msg),
			StatusCode: apiErr.Code,
		}
	case apiErr.Code >= 500:
		return fmt.Errorf("%w: Gemini error (status %d): %s", ErrUnavailable, apiErr.Code, msg)
	default:
		return fmt.Errorf("Gemini error (status %d): %s", apiErr.Code, msg)
	}
}

var _ LLMClient = (*GeminiClient)(nil)
