package api

import (
	"net/http"
	"strings"

	"github.com/snsanalyzer/snsqa/internal/failure"
	"github.com/snsanalyzer/snsqa/internal/nl2sql"
	"github.com/snsanalyzer/snsqa/internal/schema"
)

type SchemaSource interface {
	TableNames() []string
	Columns() []schema.Column
	Describe() string
}

type translateRequest struct {
	Question string `json:"question"`
	History  string `json:"history,omitempty"`
}

type schemaTable struct {
	Name    string         `json:"name"`
	Columns []schemaColumn `json:"columns"`
}

type schemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_CONNECTED", "store is not connected", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": buildSchemaTables(deps.Schema)})
}

// handleTranslate returns the generated SQL without executing it.
func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATOR_NOT_CONFIGURED", "sql translator is not configured", false, nil)
		return
	}
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_CONNECTED", "store is not connected", true, nil)
		return
	}
	var req translateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translate request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	result, err := deps.Translator.Translate(r.Context(), nl2sql.Request{
		Question: question,
		History:  req.History,
		Schema:   deps.Schema.Describe(),
	})
	if err != nil {
		switch failure.KindOf(err) {
		case failure.KindGenerationParse:
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "TRANSLATION_FAILED", err.Error(), false, map[string]any{"raw": result.Raw})
		case failure.KindRateLimit:
			writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error(), true, nil)
		default:
			writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATION_FAILED", err.Error(), true, nil)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sql": result.SQL, "model": result.Model})
}

func buildSchemaTables(source SchemaSource) []schemaTable {
	names := source.TableNames()
	index := make(map[string]int, len(names))
	tables := make([]schemaTable, 0, len(names))
	for i, name := range names {
		index[name] = i
		tables = append(tables, schemaTable{Name: name, Columns: []schemaColumn{}})
	}
	for _, col := range source.Columns() {
		i, ok := index[col.Table]
		if !ok {
			continue
		}
		tables[i].Columns = append(tables[i].Columns, schemaColumn{Name: col.Name, Type: col.Type})
	}
	return tables
}
