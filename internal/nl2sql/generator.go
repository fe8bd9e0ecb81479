package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/snsanalyzer/snsqa/internal/failure"
	"github.com/snsanalyzer/snsqa/internal/llm"
	"github.com/snsanalyzer/snsqa/internal/prompts"
)

type GeneratorConfig struct {
	Completer   llm.Completer
	Template    prompts.Template
	Dialect     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator asks the completion backend for one read-only query and sanitizes
// the reply. It never validates or runs the SQL.
type Generator struct {
	completer   llm.Completer
	template    prompts.Template
	dialect     string
	model       string
	temperature float64
	maxTokens   int
}

var _ Translator = (*Generator)(nil)

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if strings.TrimSpace(cfg.Template.System) == "" && strings.TrimSpace(cfg.Template.User) == "" {
		return nil, fmt.Errorf("sql generation template is required")
	}
	dialect := strings.TrimSpace(cfg.Dialect)
	if dialect == "" {
		dialect = "MySQL"
	}
	return &Generator{
		completer:   cfg.Completer,
		template:    cfg.Template,
		dialect:     dialect,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (g *Generator) Translate(ctx context.Context, req Request) (Result, error) {
	return g.Generate(ctx, req)
}

func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	rowLimit := req.RowLimit
	if rowLimit <= 0 {
		rowLimit = 5
	}
	system, user, err := g.template.Render(map[string]any{
		"dialect":    g.dialect,
		"top_k":      rowLimit,
		"table_info": req.Schema,
		"history":    req.History,
		"input":      strings.TrimSpace(req.Question),
	})
	if err != nil {
		return Result{}, failure.New(failure.KindUnknown, "build sql prompt", err)
	}

	raw, err := g.completer.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Model:       g.model,
	})
	if err != nil {
		return Result{}, failure.Classify("generate sql", err, failure.KindUnknown)
	}

	sql, err := Sanitize(raw)
	if err != nil {
		return Result{Raw: raw, Model: g.model}, err
	}
	return Result{SQL: sql, Raw: raw, Model: g.model}, nil
}
