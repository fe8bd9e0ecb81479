// Package prompts holds the instruction templates and user-facing messages.
// Templates use Go template syntax with named slots and are rendered through
// langchaingo.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	lcprompts "github.com/tmc/langchaingo/prompts"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type Messages struct {
	NotConnected       string `yaml:"not_connected"`
	CouldNotUnderstand string `yaml:"could_not_understand"`
	Overloaded         string `yaml:"overloaded"`
	GenericError       string `yaml:"generic_error"`
	MissingCredentials string `yaml:"missing_credentials"`
}

type Set struct {
	SQLGeneration   Template `yaml:"sql_generation"`
	AnswerSynthesis Template `yaml:"answer_synthesis"`
	TextImprovement Template `yaml:"text_improvement"`
	Messages        Messages `yaml:"messages"`
}

// Default returns the embedded prompt set.
func Default() Set {
	set, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return set
}

// Load reads a prompt file. Sections missing from the file keep the embedded
// defaults. An empty path returns Default().
func Load(path string) (Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read prompt file: %w", err)
	}
	override, err := Parse(raw)
	if err != nil {
		return Set{}, fmt.Errorf("parse prompt file %s: %w", path, err)
	}
	return Default().merge(override), nil
}

func Parse(raw []byte) (Set, error) {
	var set Set
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return Set{}, fmt.Errorf("decode prompts: %w", err)
	}
	return set, nil
}

func (s Set) merge(o Set) Set {
	pick := func(base, override string) string {
		if strings.TrimSpace(override) != "" {
			return override
		}
		return base
	}
	s.SQLGeneration.System = pick(s.SQLGeneration.System, o.SQLGeneration.System)
	s.SQLGeneration.User = pick(s.SQLGeneration.User, o.SQLGeneration.User)
	s.AnswerSynthesis.System = pick(s.AnswerSynthesis.System, o.AnswerSynthesis.System)
	s.AnswerSynthesis.User = pick(s.AnswerSynthesis.User, o.AnswerSynthesis.User)
	s.TextImprovement.System = pick(s.TextImprovement.System, o.TextImprovement.System)
	s.TextImprovement.User = pick(s.TextImprovement.User, o.TextImprovement.User)
	s.Messages.NotConnected = pick(s.Messages.NotConnected, o.Messages.NotConnected)
	s.Messages.CouldNotUnderstand = pick(s.Messages.CouldNotUnderstand, o.Messages.CouldNotUnderstand)
	s.Messages.Overloaded = pick(s.Messages.Overloaded, o.Messages.Overloaded)
	s.Messages.GenericError = pick(s.Messages.GenericError, o.Messages.GenericError)
	s.Messages.MissingCredentials = pick(s.Messages.MissingCredentials, o.Messages.MissingCredentials)
	return s
}

// Render fills both halves of the template.
func (t Template) Render(values map[string]any) (system string, user string, err error) {
	system, err = render(t.System, values)
	if err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}
	user, err = render(t.User, values)
	if err != nil {
		return "", "", fmt.Errorf("render user prompt: %w", err)
	}
	return strings.TrimSpace(system), strings.TrimSpace(user), nil
}

// GenericErrorFor renders the generic failure message for the given description.
func (m Messages) GenericErrorFor(description string) string {
	out, err := render(m.GenericError, map[string]any{"error": description})
	if err != nil {
		return m.GenericError
	}
	return out
}

func render(text string, values map[string]any) (string, error) {
	if text == "" {
		return "", nil
	}
	vars := make([]string, 0, len(values))
	for key := range values {
		vars = append(vars, key)
	}
	tpl := lcprompts.NewPromptTemplate(text, vars)
	return tpl.Format(values)
}
