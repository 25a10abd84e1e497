// Package httpapi serves the read and control HTTP API of a workflow:
// context lookup, status, start, delete, worker monitoring and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alexedwards/flow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petrijr/disturb/internal/monitoring"
	"github.com/petrijr/disturb/internal/persistence"
	"github.com/petrijr/disturb/pkg/api"
)

// Workflows is the part of the engine the API reads and deletes through.
type Workflows interface {
	Context(ctx context.Context, id string) (*api.WorkflowContext, error)
	CurrentStepStatus(ctx context.Context, id string) (api.Status, error)
	Delete(ctx context.Context, id string) error
}

// Starter publishes the start message of a workflow.
type Starter interface {
	Start(ctx context.Context, id string, payload api.Payload) error
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(ctx context.Context, id string, payload api.Payload) error

func (f StarterFunc) Start(ctx context.Context, id string, payload api.Payload) error {
	return f(ctx, id, payload)
}

// Workers returns worker monitoring documents.
type Workers interface {
	WorkerInfo(ctx context.Context, code string) (*monitoring.WorkerInfo, error)
}

// Config holds the collaborators of the API. Nil collaborators disable their
// routes.
type Config struct {
	Workflows Workflows
	Starter   Starter
	Workers   Workers
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// StatusResponse is the body of the status route.
type StatusResponse struct {
	Status            api.Status `json:"status"`
	CurrentStepStatus api.Status `json:"currentStepStatus"`
}

// NewHandler builds the API router.
func NewHandler(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mux := flow.New()

	if cfg.Workflows != nil {
		mux.Handle("/v1/workflows/:id", getContextHandler(cfg.Workflows, logger.With("handler", "get context")), "GET")
		mux.Handle("/v1/workflows/:id/status", statusHandler(cfg.Workflows, logger.With("handler", "status")), "GET")
		mux.Handle("/v1/workflows/:id", deleteHandler(cfg.Workflows, logger.With("handler", "delete")), "DELETE")
	}
	if cfg.Starter != nil {
		mux.Handle("/v1/workflows/:id/start", startHandler(cfg.Starter, logger.With("handler", "start")), "POST")
	}
	if cfg.Workers != nil {
		mux.Handle("/v1/workers/:code", workerHandler(cfg.Workers, logger.With("handler", "worker info")), "GET")
	}
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}), "GET")
	}
	return mux
}

// jsonError encodes err as JSON to w.
func jsonError(w http.ResponseWriter, err error, statusCode int) {
	if statusCode < 1 {
		statusCode = statusFor(err)
	}
	writeJSON(w, statusCode, &struct {
		Err string `json:"error"`
	}{Err: err.Error()})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, api.ErrContextNotFound), errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrDuplicateContext):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func getContextHandler(wf Workflows, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		wc, err := wf.Context(r.Context(), id)
		if err != nil {
			logger.InfoContext(r.Context(), "get context", slog.String("workflow_process_id", id), slog.Any("error", err))
			jsonError(w, err, 0)
			return
		}
		writeJSON(w, http.StatusOK, wc)
	}
}

func statusHandler(wf Workflows, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		wc, err := wf.Context(r.Context(), id)
		if err != nil {
			logger.InfoContext(r.Context(), "get status", slog.String("workflow_process_id", id), slog.Any("error", err))
			jsonError(w, err, 0)
			return
		}
		current, err := wf.CurrentStepStatus(r.Context(), id)
		if err != nil {
			logger.InfoContext(r.Context(), "get current step status", slog.String("workflow_process_id", id), slog.Any("error", err))
			jsonError(w, err, 0)
			return
		}
		writeJSON(w, http.StatusOK, &StatusResponse{Status: wc.Status, CurrentStepStatus: current})
	}
}

func deleteHandler(wf Workflows, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		if err := wf.Delete(r.Context(), id); err != nil {
			logger.InfoContext(r.Context(), "delete context", slog.String("workflow_process_id", id), slog.Any("error", err))
			jsonError(w, err, 0)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func startHandler(starter Starter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		payload := api.Payload{}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			jsonError(w, err, http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				jsonError(w, errors.New("payload must be a JSON object"), http.StatusBadRequest)
				return
			}
		}
		if err := starter.Start(r.Context(), id, payload); err != nil {
			logger.InfoContext(r.Context(), "start workflow", slog.String("workflow_process_id", id), slog.Any("error", err))
			jsonError(w, err, 0)
			return
		}
		logger.DebugContext(r.Context(), "start requested", slog.String("workflow_process_id", id))
		writeJSON(w, http.StatusAccepted, &struct {
			ID string `json:"id"`
		}{ID: id})
	}
}

func workerHandler(workers Workers, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := flow.Param(r.Context(), "code")
		info, err := workers.WorkerInfo(r.Context(), code)
		if err != nil {
			logger.InfoContext(r.Context(), "worker info", slog.String("worker", code), slog.Any("error", err))
			jsonError(w, err, 0)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}
