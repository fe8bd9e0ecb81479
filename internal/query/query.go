// Package query runs generated SQL against the store and renders the rows as
// bounded text for answer synthesis.
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// TruncationMarker is appended to result text cut at the character cap.
const TruncationMarker = "... (truncated)"

type Result struct {
	Columns  []string
	Rows     [][]any
	Capped   bool
	Duration time.Duration
}

// Text renders rows as a list of tuples, e.g. [(1, 'spam'), (2, NULL)].
func (r Result) Text() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, row := range r.Rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, value := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(formatValue(value))
		}
		if len(row) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	}
	b.WriteByte(']')
	return b.String()
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(typed, "'", `\'`) + "'"
	case []byte:
		return "'" + strings.ReplaceAll(string(typed), "'", `\'`) + "'"
	case time.Time:
		return "'" + typed.Format(time.DateTime) + "'"
	case bool:
		return strconv.FormatBool(typed)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

// Truncate limits text to limit characters. Longer text keeps its first limit
// characters followed by TruncationMarker.
func Truncate(text string, limit int) (string, bool) {
	if limit < 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:limit]) + TruncationMarker, true
}
