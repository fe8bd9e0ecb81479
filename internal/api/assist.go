package api

import (
	"net/http"
	"strings"

	"github.com/snsanalyzer/snsqa/internal/assist"
)

const maxImproveTextLength = 5000

func handleImprove(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "writing assistant is not configured", false, nil)
		return
	}
	var req assist.ImproveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid improve request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TEXT_REQUIRED", "text is required", false, nil)
		return
	}
	if len([]rune(req.Text)) > maxImproveTextLength {
		writeError(r.Context(), w, http.StatusBadRequest, "TEXT_TOO_LONG", "text is too long", false, map[string]any{"max_length": maxImproveTextLength})
		return
	}

	resp, err := deps.Assistant.Improve(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
