package history

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
)

type parquetEntry struct {
	ID              string `parquet:"id"`
	SessionID       string `parquet:"session_id"`
	Question        string `parquet:"question"`
	SQL             string `parquet:"sql"`
	Outcome         string `parquet:"outcome"`
	Retried         bool   `parquet:"retried"`
	Error           string `parquet:"error"`
	DurationMs      int64  `parquet:"duration_ms"`
	CreatedAtUnixMs int64  `parquet:"created_at_unix_ms"`
}

func EncodeEntries(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("entries are required")
	}
	rows := make([]parquetEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, parquetEntry{
			ID:              entry.ID,
			SessionID:       entry.SessionID,
			Question:        entry.Question,
			SQL:             entry.SQL,
			Outcome:         entry.Outcome,
			Retried:         entry.Retried,
			Error:           entry.Error,
			DurationMs:      entry.DurationMs,
			CreatedAtUnixMs: entry.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEntry](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func fromParquet(row parquetEntry) Entry {
	return Entry{
		ID:         row.ID,
		SessionID:  row.SessionID,
		Question:   row.Question,
		SQL:        row.SQL,
		Outcome:    row.Outcome,
		Retried:    row.Retried,
		Error:      row.Error,
		DurationMs: row.DurationMs,
		CreatedAt:  time.UnixMilli(row.CreatedAtUnixMs).UTC(),
	}
}
