// Package llm is the completion backend boundary. Everything past Completer is
// an OpenAI-compatible chat endpoint (Groq, OpenAI or a local Ollama).
package llm

import (
	"context"
	"strings"

	"github.com/snsanalyzer/snsqa/internal/config"
	"github.com/snsanalyzer/snsqa/internal/failure"
)

type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	Model       string
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Backend is the completer chosen from configuration along with the models
// each pipeline stage should request from it.
type Backend struct {
	Completer   Completer
	Name        string
	SQLModel    string
	AnswerModel string
}

func NewFromConfig(cfg config.LLMConfig) (Backend, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	apiKey := strings.TrimSpace(cfg.APIKey)

	if provider == "ollama" || (apiKey == "" && strings.TrimSpace(cfg.FallbackBaseURL) != "") {
		client, err := NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.FallbackBaseURL,
			APIKey:  "ollama",
			Model:   cfg.FallbackModel,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return Backend{}, err
		}
		return Backend{Completer: client, Name: "ollama", SQLModel: cfg.FallbackModel, AnswerModel: cfg.FallbackModel}, nil
	}
	if apiKey == "" {
		return Backend{Completer: Unconfigured{}, Name: "unconfigured"}, nil
	}

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  apiKey,
		Model:   cfg.SQLModel,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return Backend{}, err
	}
	answerModel := cfg.AnswerModel
	if strings.TrimSpace(answerModel) == "" {
		answerModel = cfg.SQLModel
	}
	return Backend{Completer: client, Name: provider, SQLModel: cfg.SQLModel, AnswerModel: answerModel}, nil
}

// Unconfigured fails every request with failure.ErrMissingCredentials.
type Unconfigured struct{}

func (Unconfigured) Complete(context.Context, Request) (string, error) {
	return "", failure.New(failure.KindUnknown, "complete", failure.ErrMissingCredentials)
}
