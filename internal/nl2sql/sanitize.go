package nl2sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/snsanalyzer/snsqa/internal/failure"
)

var (
	fenceReplacer = strings.NewReplacer("```sql", "", "```SQL", "", "```", "")
	selectKeyword = regexp.MustCompile(`(?i)\bselect\b`)
)

// Sanitize extracts the SQL statement from a model reply: code fences are
// removed, and prose before the first SELECT is dropped. A reply without
// SELECT is a generation parse failure. This is keyword extraction only and
// gives no protection against a hostile statement.
func Sanitize(raw string) (string, error) {
	cleaned := strings.TrimSpace(fenceReplacer.Replace(raw))
	loc := selectKeyword.FindStringIndex(cleaned)
	if loc == nil {
		return "", failure.New(failure.KindGenerationParse, "sanitize sql", fmt.Errorf("model reply contains no SELECT statement"))
	}
	cleaned = cleaned[loc[0]:]
	cleaned = strings.TrimSpace(strings.TrimRight(cleaned, "; \t\n"))
	return cleaned, nil
}
