package answer

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

func TestSynthesizeGroundsPromptInSchema(t *testing.T) {
	completer := &fakeCompleter{reply: "  - **욕설**: 2건\n  "}
	synth, err := NewSynthesizer(Config{
		Completer:   completer,
		Template:    prompts.Default().AnswerSynthesis,
		Model:       "llama-3.1-8b-instant",
		Temperature: 0,
	})
	if err != nil {
		t.Fatalf("NewSynthesizer() error = %v", err)
	}

	got, err := synth.Synthesize(context.Background(), Input{
		Question:   "가장 많이 차단된 단어 알려줘",
		SQL:        "SELECT detected_keywords FROM analysis_results LIMIT 5",
		Result:     "[('바보',)]",
		History:    "User: 안녕\nAI: 안녕하세요",
		Schema:     "CREATE TABLE analysis_results (\n\tdetected_keywords TEXT\n)",
		TableNames: []string{"analysis_results"},
	})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got != "- **욕설**: 2건" {
		t.Fatalf("Synthesize() = %q", got)
	}
	for _, want := range []string{"Use only the provided tables: analysis_results", "Korean", "Markdown", "Do not show the raw SQL", "paraphrase"} {
		if !strings.Contains(completer.last.System, want) {
			t.Fatalf("system prompt missing %q", want)
		}
	}
	for _, want := range []string{"Question: 가장 많이 차단된 단어 알려줘", "SQL Result: [('바보',)]", "SQL Query: SELECT detected_keywords"} {
		if !strings.Contains(completer.last.User, want) {
			t.Fatalf("user prompt missing %q: %q", want, completer.last.User)
		}
	}
}

func TestSynthesizeClassifiesErrors(t *testing.T) {
	synth, _ := NewSynthesizer(Config{
		Completer: &fakeCompleter{err: errors.New("status 429 Too Many Requests")},
		Template:  prompts.Default().AnswerSynthesis,
	})
	if _, err := synth.Synthesize(context.Background(), Input{Question: "q"}); !failure.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestSynthesizeRejectsEmptyAnswer(t *testing.T) {
	synth, _ := NewSynthesizer(Config{
		Completer: &fakeCompleter{reply: "   "},
		Template:  prompts.Default().AnswerSynthesis,
	})
	if _, err := synth.Synthesize(context.Background(), Input{Question: "q"}); err == nil {
		t.Fatal("expected error for empty answer")
	}
}
