package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/flexinfer/datapipe/internal/config"
	"github.com/flexinfer/datapipe/internal/pipeline"
	"github.com/flexinfer/datapipe/internal/resultstore"
	"github.com/flexinfer/datapipe/internal/transform"
	"github.com/flexinfer/datapipe/internal/validator"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	manager    *pipeline.Manager
	store      resultstore.Store
	transforms *transform.Registry
	validator  *validator.Validator
	config     *config.Config
	logger     *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(manager *pipeline.Manager, store resultstore.Store, transforms *transform.Registry, v *validator.Validator, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		manager:    manager,
		store:      store,
		transforms: transforms,
		validator:  v,
		config:     cfg,
		logger:     logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking dependencies.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.store.AdapterInfo(ctx)
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "result store unhealthy", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ready",
		"resultstore": info,
		"pipelines":   len(h.manager.Names()),
	})
}

// --- Pipeline Management ---

// PipelineSummary is the list representation of a registered pipeline.
type PipelineSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Engine      string `json:"engine,omitempty"`
	Nodes       int    `json:"nodes"`
	Parallel    bool   `json:"parallel,omitempty"`
}

// ListPipelines handles GET /api/v1/pipelines
func (h *Handlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	names := h.manager.Names()
	out := make([]PipelineSummary, 0, len(names))
	for _, name := range names {
		p, ok := h.manager.Get(name)
		if !ok {
			continue
		}
		cfg := p.Config()
		out = append(out, PipelineSummary{
			Name:        cfg.Name,
			Description: cfg.Description,
			Engine:      string(cfg.Engine),
			Nodes:       len(cfg.Nodes),
			Parallel:    cfg.Parallel,
		})
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"pipelines": out})
}

// GetPipeline handles GET /api/v1/pipelines/{name}
func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	p, ok := h.manager.Get(name)
	if !ok {
		h.respondError(w, http.StatusNotFound, "pipeline not found", errors.New("unknown pipeline "+name))
		return
	}
	h.respondJSON(w, http.StatusOK, p.Config())
}

// RunPipelineResponse is the response body after triggering a run.
type RunPipelineResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	SSEURL string `json:"sse_url"`
}

// RunPipeline handles POST /api/v1/pipelines/{name}/run. The run
// executes in the background; the response carries the run ID and the
// SSE URL to follow it.
func (h *Handlers) RunPipeline(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	p, ok := h.manager.Get(name)
	if !ok {
		h.respondError(w, http.StatusNotFound, "pipeline not found", errors.New("unknown pipeline "+name))
		return
	}

	runID := uuid.New().String()
	go func() {
		// Detached from the request context: the run outlives the
		// HTTP exchange that triggered it.
		if _, err := p.RunWithID(context.Background(), runID); err != nil {
			h.logger.Error("pipeline run failed to start",
				"error", err, "pipeline", name, "run_id", runID)
		}
	}()

	h.respondJSON(w, http.StatusAccepted, RunPipelineResponse{
		RunID:  runID,
		Status: "queued",
		SSEURL: "/api/v1/runs/" + runID + "/events",
	})
}

// ValidatePipeline handles POST /api/v1/pipelines/validate. It accepts a
// pipeline definition as JSON or YAML and returns the validation result.
func (h *Handlers) ValidatePipeline(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "read request body", err)
		return
	}

	var result *validator.ValidationResult
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "yaml") {
		result = h.validator.ValidatePipelineYAML(body)
	} else {
		result = h.validator.ValidatePipelineJSON(body)
	}
	h.respondJSON(w, http.StatusOK, result)
}

// TransformSummary is the list representation of a registered transform.
type TransformSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ListTransforms handles GET /api/v1/transforms
func (h *Handlers) ListTransforms(w http.ResponseWriter, r *http.Request) {
	entries := h.transforms.List()
	out := make([]TransformSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, TransformSummary{Name: e.Name, Description: e.Description})
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"transforms": out})
}

// --- Run Management ---

// ListRuns handles GET /api/v1/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runs, err := h.store.ListRuns(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun handles GET /api/v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	runID := vars["id"]

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, resultstore.ErrRunNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get run", err)
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

// --- ResultStore Diagnostics ---

// ResultStoreInfo handles GET /api/v1/resultstore/info
func (h *Handlers) ResultStoreInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.store.AdapterInfo(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get resultstore info", err)
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

// --- Helper Methods ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string, err error) {
	h.logger.Error(message, "error", err, "status", status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{"error": message}
	if err != nil {
		resp["details"] = err.Error()
	}
	json.NewEncoder(w).Encode(resp)
}
