package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/snsanalyzer/snsqa/internal/failure"
	"github.com/snsanalyzer/snsqa/internal/llm"
	"github.com/snsanalyzer/snsqa/internal/prompts"
)

type fakeCompleter struct {
	reply string
	err   error
	last  llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.reply, f.err
}

func TestGeneratorBuildsConstrainedRequest(t *testing.T) {
	completer := &fakeCompleter{reply: "```sql\nSELECT category FROM analysis_results LIMIT 3\n```"}
	generator, err := NewGenerator(GeneratorConfig{
		Completer: completer,
		Template:  prompts.Default().SQLGeneration,
		Dialect:   "MySQL",
		Model:     "llama-3.1-8b-instant",
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	result, err := generator.Generate(context.Background(), Request{
		Question: "카테고리 3개만 보여줘",
		History:  "User: 안녕\nAI: 안녕하세요",
		Schema:   "CREATE TABLE analysis_results (\n\tcategory VARCHAR(50)\n)",
		RowLimit: 5,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.SQL != "SELECT category FROM analysis_results LIMIT 3" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if completer.last.Temperature != 0 || completer.last.Model != "llama-3.1-8b-instant" || completer.last.MaxTokens != 256 {
		t.Fatalf("unexpected request %+v", completer.last)
	}
	for _, want := range []string{"MySQL expert", "at most 5 results", "Never query for all columns", "CREATE TABLE analysis_results"} {
		if !strings.Contains(completer.last.System, want) {
			t.Fatalf("system prompt missing %q: %q", want, completer.last.System)
		}
	}
	if !strings.Contains(completer.last.User, "User: 안녕\nAI: 안녕하세요") || !strings.Contains(completer.last.User, "카테고리 3개만 보여줘") {
		t.Fatalf("user prompt = %q", completer.last.User)
	}
}

func TestGeneratorSurfacesParseFailure(t *testing.T) {
	generator, _ := NewGenerator(GeneratorConfig{
		Completer: &fakeCompleter{reply: "그 질문에는 답할 수 없습니다."},
		Template:  prompts.Default().SQLGeneration,
	})
	result, err := generator.Generate(context.Background(), Request{Question: "?"})
	if failure.KindOf(err) != failure.KindGenerationParse {
		t.Fatalf("expected parse failure, got %v", err)
	}
	if result.Raw == "" {
		t.Fatal("raw reply should be kept for diagnostics")
	}
}

func TestGeneratorClassifiesBackendErrors(t *testing.T) {
	generator, _ := NewGenerator(GeneratorConfig{
		Completer: &fakeCompleter{err: errors.New("Error code: 429 - rate_limit_exceeded")},
		Template:  prompts.Default().SQLGeneration,
	})
	_, err := generator.Generate(context.Background(), Request{Question: "q"})
	if !failure.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestNewGeneratorRequiresCompleter(t *testing.T) {
	if _, err := NewGenerator(GeneratorConfig{Template: prompts.Default().SQLGeneration}); err == nil {
		t.Fatal("expected error without completer")
	}
}
