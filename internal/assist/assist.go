// Package assist rewrites free text through the completion backend. It is a
// single-shot request with no conversation state.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/snsanalyzer/snsqa/internal/failure"
	"github.com/snsanalyzer/snsqa/internal/llm"
	"github.com/snsanalyzer/snsqa/internal/prompts"
)

const maxSuggestions = 3

const (
	unavailableMessage = "AI 서비스가 일시적으로 사용할 수 없습니다. 잠시 후 다시 시도해주세요."
	improveTemperature = 0.7
	improveMaxTokens   = 1000
)

type ImproveRequest struct {
	Text        string `json:"text"`
	Tone        string `json:"tone"`
	Language    string `json:"language"`
	Instruction string `json:"instruction,omitempty"`
}

type Suggestion struct {
	Version    int     `json:"version"`
	Text       string  `json:"text"`
	Tone       string  `json:"tone"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

type Response struct {
	Success          bool         `json:"success"`
	Suggestions      []Suggestion `json:"suggestions"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	ModelUsed        string       `json:"model_used"`
}

type Service struct {
	completer llm.Completer
	template  prompts.Template
	messages  prompts.Messages
	model     string
	logger    *slog.Logger
}

func NewService(completer llm.Completer, set prompts.Set, model string, logger *slog.Logger) (*Service, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{completer: completer, template: set.TextImprovement, messages: set.Messages, model: model, logger: logger}, nil
}

// Improve never fails on backend errors; it returns an unsuccessful response
// with one explanatory suggestion instead.
func (s *Service) Improve(ctx context.Context, req ImproveRequest) (Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Response{}, fmt.Errorf("text is required")
	}
	tone := strings.TrimSpace(req.Tone)
	if tone == "" {
		tone = "polite"
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = "ko"
	}
	instruction := ""
	if strings.TrimSpace(req.Instruction) != "" {
		instruction = "\nAdditional instruction: " + strings.TrimSpace(req.Instruction)
	}

	start := time.Now()
	system, user, err := s.template.Render(map[string]any{
		"tone":        tone,
		"language":    language,
		"text":        text,
		"instruction": instruction,
	})
	if err != nil {
		return Response{}, fmt.Errorf("build improvement prompt: %w", err)
	}

	reply, err := s.completer.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		Temperature: improveTemperature,
		MaxTokens:   improveMaxTokens,
		Model:       s.model,
	})
	if err != nil {
		s.logger.Warn("text improvement failed", "error", err)
		return s.fallback(err, start), nil
	}

	var parsed struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := llm.ExtractJSON(reply, &parsed); err != nil || len(parsed.Suggestions) == 0 {
		s.logger.Warn("text improvement reply has no suggestions", "error", err)
		return s.fallback(nil, start), nil
	}
	if len(parsed.Suggestions) > maxSuggestions {
		parsed.Suggestions = parsed.Suggestions[:maxSuggestions]
	}
	return Response{
		Success:          true,
		Suggestions:      parsed.Suggestions,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		ModelUsed:        s.model,
	}, nil
}

func (s *Service) fallback(err error, start time.Time) Response {
	message := unavailableMessage
	if errors.Is(err, failure.ErrMissingCredentials) {
		message = s.messages.MissingCredentials
	}
	return Response{
		Success: false,
		Suggestions: []Suggestion{{
			Version:    1,
			Text:       message,
			Tone:       "neutral",
			Reasoning:  "fallback response",
			Confidence: 0,
		}},
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		ModelUsed:        "fallback",
	}
}
