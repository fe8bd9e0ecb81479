package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/snsanalyzer/snsqa/internal/query/duckdb"
	"github.com/snsanalyzer/snsqa/internal/storage"
)

const archiveScanSQL = `
SELECT id, session_id, question, "sql", outcome, retried, "error", duration_ms, created_at_unix_ms
FROM history
ORDER BY created_at_unix_ms DESC`

// ArchiveReader reads archived entries back for one UTC day.
type ArchiveReader struct {
	store  storage.ObjectStore
	engine *duckdb.Engine
}

func NewArchiveReader(store storage.ObjectStore) *ArchiveReader {
	return &ArchiveReader{store: store, engine: duckdb.NewEngine(store)}
}

// Read returns up to limit entries archived on day, newest first.
func (r *ArchiveReader) Read(ctx context.Context, day time.Time, limit int) ([]Entry, error) {
	objects, err := r.store.List(ctx, storage.HistoryDatePrefix(day)+"/")
	if err != nil {
		return nil, fmt.Errorf("list history parts: %w", err)
	}
	files := make([]duckdb.TableFile, 0, len(objects))
	for _, object := range objects {
		if strings.HasSuffix(object.Key, ".parquet") {
			files = append(files, duckdb.TableFile{TableName: "history", ObjectPath: object.Key})
		}
	}
	if len(files) == 0 {
		return []Entry{}, nil
	}

	result, err := r.engine.Execute(ctx, duckdb.Request{SQL: archiveScanSQL, RowLimit: limit, Files: files})
	if err != nil {
		return nil, fmt.Errorf("scan history parts: %w", err)
	}
	entries := make([]Entry, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) != 9 {
			return nil, fmt.Errorf("unexpected history row width %d", len(row))
		}
		entries = append(entries, fromParquet(parquetEntry{
			ID:              asString(row[0]),
			SessionID:       asString(row[1]),
			Question:        asString(row[2]),
			SQL:             asString(row[3]),
			Outcome:         asString(row[4]),
			Retried:         row[5] == true,
			Error:           asString(row[6]),
			DurationMs:      asInt64(row[7]),
			CreatedAtUnixMs: asInt64(row[8]),
		}))
	}
	return entries, nil
}

func asString(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

func asInt64(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int32:
		return int64(typed)
	case int:
		return int64(typed)
	default:
		return 0
	}
}
