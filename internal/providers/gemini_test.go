package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestGeminiChat(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"{\"Age\":"},{"text":"3}"}]}}],
			"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3,"totalTokenCount":10}
		}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient(context.Background(), GeminiConfig{
		APIKey:       "test-key",
		DefaultModel: "gemini-test",
		BaseURL:      server.URL,
	})
	if err != nil {
		t.Fatalf("NewGeminiClient() error = %v", err)
	}

	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages: UserMessage("how old"),
		ResponseFormat: &ResponseFormat{
			Mode:   FormatJSONSchema,
			Schema: json.RawMessage(`{"type":"object","properties":{"Age":{"type":["integer","null"]}},"required":["Age"]}`),
		},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.Content != `{"Age":3}` {
		t.Errorf("Content = %q", result.Content)
	}
	if result.TotalTokens != 10 || result.PromptTokens != 7 {
		t.Errorf("tokens = %d/%d", result.PromptTokens, result.TotalTokens)
	}

	cfg, _ := payload["generationConfig"].(map[string]any)
	if cfg["responseMimeType"] != "application/json" {
		t.Errorf("generationConfig = %#v", cfg)
	}
}

func TestGeminiChatUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"permission denied","status":"PERMISSION_DENIED"}}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "bad", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewGeminiClient() error = %v", err)
	}
	_, err = client.Chat(context.Background(), &ChatRequest{Messages: UserMessage("x")})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestToGeminiSchema(t *testing.T) {
	raw := json.RawMessage(`{
		"type":"object",
		"properties":{
			"Blood type":{"type":["string","null"],"enum":["A","B",null],"description":"A,B"},
			"Height":{"type":["number","null"]}
		},
		"required":["Blood type","Height"],
		"additionalProperties":false
	}`)

	s, err := toGeminiSchema(raw)
	if err != nil {
		t.Fatalf("toGeminiSchema() error = %v", err)
	}
	if s.Type != genai.TypeObject {
		t.Errorf("Type = %v", s.Type)
	}
	blood := s.Properties["Blood type"]
	if blood == nil || blood.Type != genai.TypeString {
		t.Fatalf("Blood type = %#v", blood)
	}
	if blood.Nullable == nil || !*blood.Nullable {
		t.Error("expected nullable")
	}
	if strings.Join(blood.Enum, ",") != "A,B" {
		t.Errorf("Enum = %v", blood.Enum)
	}
	if s.Properties["Height"].Type != genai.TypeNumber {
		t.Errorf("Height type = %v", s.Properties["Height"].Type)
	}
	if strings.Join(s.PropertyOrdering, "|") != "Blood type|Height" {
		t.Errorf("PropertyOrdering = %v", s.PropertyOrdering)
	}
}
