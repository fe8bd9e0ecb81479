// Package api exposes the question pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snsanalyzer/snsqa/internal/assist"
	"github.com/snsanalyzer/snsqa/internal/config"
	"github.com/snsanalyzer/snsqa/internal/history"
	"github.com/snsanalyzer/snsqa/internal/nl2sql"
	"github.com/snsanalyzer/snsqa/internal/observability"
	"github.com/snsanalyzer/snsqa/internal/pipeline"
)

type ReadinessCheck func(ctx context.Context) error

type QuestionPipeline interface {
	Query(ctx context.Context, question, sessionID string) pipeline.Outcome
	ClearHistory(sessionID string) bool
	Health(ctx context.Context) pipeline.Health
}

type RecentHistory interface {
	Recent(n int) []history.Entry
}

type ArchivedHistory interface {
	Read(ctx context.Context, day time.Time, limit int) ([]history.Entry, error)
}

type TextImprover interface {
	Improve(ctx context.Context, req assist.ImproveRequest) (assist.Response, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Pipeline          QuestionPipeline
	History           RecentHistory
	Archive           ArchivedHistory
	Translator        nl2sql.Translator
	Schema            SchemaSource
	Assistant         TextImprover
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(observability.TraceMiddleware, observability.MetricsMiddleware)
	if deps.Logger != nil {
		r.Use(observability.LoggingMiddleware(deps.Logger))
	}

	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})
	r.Get("/v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})
	r.Method(http.MethodGet, "/v1/metrics", promhttp.Handler())

	r.Route("/v1/rag", func(r chi.Router) {
		r.Post("/chat", func(w http.ResponseWriter, r *http.Request) {
			handleChat(deps, w, r)
		})
		r.Post("/clear-history", func(w http.ResponseWriter, r *http.Request) {
			handleClearHistory(deps, w, r)
		})
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			handleStatus(deps, w, r)
		})
		r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
			handleHistory(deps, w, r)
		})
		r.Get("/schema", func(w http.ResponseWriter, r *http.Request) {
			handleSchema(deps, w, r)
		})
		r.Post("/translate", func(w http.ResponseWriter, r *http.Request) {
			handleTranslate(deps, w, r)
		})
	})
	r.Post("/v1/assist/improve", func(w http.ResponseWriter, r *http.Request) {
		handleImprove(deps, w, r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "route not found", false, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", false, nil)
	})
	return r
}

// CheckPipelineConnected fails while the store is unreachable.
func CheckPipelineConnected(p QuestionPipeline) ReadinessCheck {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("question pipeline is not configured")
		}
		if !p.Health(ctx).Connected {
			return errors.New("store is not connected")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.History.ArchiveEnabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
