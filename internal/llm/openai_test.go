package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/snsanalyzer/snsqa/internal/config"
	"github.com/snsanalyzer/snsqa/internal/failure"
)

func TestOpenAIClientComplete(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  SELECT 1  "}}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key", Model: "default-model"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	got, err := client.Complete(context.Background(), Request{System: "sys", User: "hello", Temperature: 0, MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SELECT 1" {
		t.Fatalf("Complete() = %q", got)
	}
	if captured["model"] != "default-model" {
		t.Fatalf("model = %v", captured["model"])
	}
	if messages, _ := captured["messages"].([]any); len(messages) != 2 {
		t.Fatalf("messages = %#v", captured["messages"])
	}
	if captured["temperature"] != float64(0) {
		t.Fatalf("temperature = %v", captured["temperature"])
	}
}

func TestOpenAIClientTagsThrottling(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	_, err = client.Complete(context.Background(), Request{User: "q"})
	if !failure.IsRateLimit(err) {
		t.Fatalf("expected rate limit kind, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("client must not retry on its own, calls = %d", calls.Load())
	}
}

func TestOpenAIClientServerErrorIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client, _ := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "k", Model: "m"})
	_, err := client.Complete(context.Background(), Request{User: "q"})
	if err == nil || failure.KindOf(err) != failure.KindUnknown {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}

func TestNewOpenAIClientValidates(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", Model: "m"}); err == nil {
		t.Fatal("expected base URL error")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x", Model: "m"}); err == nil {
		t.Fatal("expected api key error")
	}
}

func TestNewFromConfigSelectsBackend(t *testing.T) {
	base := config.LLMConfig{
		Provider:        "groq",
		BaseURL:         "https://api.groq.com/openai/v1",
		SQLModel:        "llama-3.1-8b-instant",
		FallbackBaseURL: "http://localhost:11434/v1",
		FallbackModel:   "gemma2:2b",
	}

	withKey := base
	withKey.APIKey = "gsk_test"
	backend, err := NewFromConfig(withKey)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if backend.Name != "groq" || backend.SQLModel != "llama-3.1-8b-instant" || backend.AnswerModel != "llama-3.1-8b-instant" {
		t.Fatalf("unexpected backend %+v", backend)
	}

	backend, err = NewFromConfig(base)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if backend.Name != "ollama" || backend.SQLModel != "gemma2:2b" {
		t.Fatalf("expected local fallback, got %+v", backend)
	}

	noFallback := base
	noFallback.FallbackBaseURL = ""
	backend, err = NewFromConfig(noFallback)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	_, err = backend.Completer.Complete(context.Background(), Request{User: "q"})
	if !errors.Is(err, failure.ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
}
