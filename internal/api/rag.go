package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	maxQuestionLength   = 2000
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

type clearHistoryRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if len([]rune(question)) > maxQuestionLength {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question is too long", false, map[string]any{"max_length": maxQuestionLength})
		return
	}

	writeJSON(w, http.StatusOK, deps.Pipeline.Query(r.Context(), question, req.SessionID))
}

func handleClearHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	var req clearHistoryRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid clear-history request body", false, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": deps.Pipeline.ClearHistory(req.SessionID)})
}

func handleStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Pipeline.Health(r.Context()))
}

// handleHistory serves recent calls from memory, or one archived UTC day when
// the date parameter is set.
func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		day, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD", false, nil)
			return
		}
		if deps.Archive == nil {
			writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "history archive is not configured", false, nil)
			return
		}
		entries, err := deps.Archive.Read(r.Context(), day, limit)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadGateway, "ARCHIVE_READ_FAILED", "failed to read history archive", true, map[string]any{"details": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"date": raw, "entries": entries})
		return
	}

	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": deps.History.Recent(limit)})
}
