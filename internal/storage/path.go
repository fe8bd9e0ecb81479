package storage

import (
	"fmt"
	"path"
	"time"
)

const historyRoot = "history"

// BuildHistoryPartPath names one archived batch of query-history entries
// recorded on day. The part name carries the flush time and sequence.
func BuildHistoryPartPath(day, flushedAt time.Time, sequence int) (string, error) {
	if day.IsZero() || flushedAt.IsZero() {
		return "", fmt.Errorf("day and flush time are required")
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	return path.Join(
		HistoryDatePrefix(day),
		fmt.Sprintf("part-%d-%05d.parquet", flushedAt.UnixMilli(), sequence),
	), nil
}

// HistoryDatePrefix is the key prefix holding every part recorded on the UTC day.
func HistoryDatePrefix(day time.Time) string {
	ts := day.UTC()
	return path.Join(historyRoot, fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()))
}
