package query

import (
	"fmt"
	"strings"
)

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// checkStatement accepts a single SELECT or WITH statement. Semicolons inside
// quoted literals and identifiers are ignored.
func checkStatement(sqlText string) error {
	normalized := strings.ToLower(sqlText)
	if normalized == "" {
		return fmt.Errorf("sql is required")
	}
	if !strings.HasPrefix(normalized, "select") && !strings.HasPrefix(normalized, "with") {
		return fmt.Errorf("only SELECT statements are allowed")
	}
	var quote rune
	for _, r := range sqlText {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == ';':
			return fmt.Errorf("multiple statements are not allowed")
		}
	}
	return nil
}
