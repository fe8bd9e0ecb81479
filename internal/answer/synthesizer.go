// Package answer turns a question, its query and the query result into the
// final natural-language reply.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/snsanalyzer/snsqa/internal/failure"
	"github.com/snsanalyzer/snsqa/internal/llm"
	"github.com/snsanalyzer/snsqa/internal/prompts"
)

type Input struct {
	Question   string
	SQL        string
	Result     string
	History    string
	Schema     string
	TableNames []string
}

type Config struct {
	Completer   llm.Completer
	Template    prompts.Template
	Model       string
	Temperature float64
	MaxTokens   int
}

// Synthesizer only requests the formatting and grounding rules from the
// model. Its output is untrusted text.
type Synthesizer struct {
	completer   llm.Completer
	template    prompts.Template
	model       string
	temperature float64
	maxTokens   int
}

func NewSynthesizer(cfg Config) (*Synthesizer, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if strings.TrimSpace(cfg.Template.System) == "" && strings.TrimSpace(cfg.Template.User) == "" {
		return nil, fmt.Errorf("answer template is required")
	}
	return &Synthesizer{
		completer:   cfg.Completer,
		template:    cfg.Template,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (string, error) {
	system, user, err := s.template.Render(map[string]any{
		"table_names": strings.Join(in.TableNames, ", "),
		"table_info":  in.Schema,
		"history":     in.History,
		"question":    strings.TrimSpace(in.Question),
		"query":       in.SQL,
		"result":      in.Result,
	})
	if err != nil {
		return "", failure.New(failure.KindUnknown, "build answer prompt", err)
	}

	text, err := s.completer.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Model:       s.model,
	})
	if err != nil {
		return "", failure.Classify("synthesize answer", err, failure.KindUnknown)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", failure.New(failure.KindUnknown, "synthesize answer", fmt.Errorf("model returned an empty answer"))
	}
	return text, nil
}
