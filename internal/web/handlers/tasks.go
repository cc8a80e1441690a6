package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/camflow/internal/delivery"
	"github.com/kozaktomas/camflow/internal/handoff"
	"github.com/kozaktomas/camflow/internal/logger"
	"github.com/kozaktomas/camflow/internal/pipeline"
	"github.com/kozaktomas/camflow/internal/runner"
	"go.uber.org/zap"
)

// TaskRunner submits tasks and reports their status.
type TaskRunner interface {
	Submit(ctx context.Context, spec handoff.TaskSpec) (string, error)
	Status(ctx context.Context, id string) (runner.TaskStatus, error)
}

// TasksHandler handles task submission and polling
type TasksHandler struct {
	runner TaskRunner
}

// NewTasksHandler creates a new tasks handler
func NewTasksHandler(r TaskRunner) *TasksHandler {
	return &TasksHandler{runner: r}
}

// CreateTaskRequest represents a task submission
type CreateTaskRequest struct {
	Images          []string             `json:"images"`
	Prompt          string               `json:"prompt"`
	Mode            pipeline.Mode        `json:"mode"`
	Model           string               `json:"model"`
	Destination     delivery.Destination `json:"destination"`
	AttachOriginals bool                 `json:"attach_originals"`
}

// CreateTaskResponse represents the submitted task
type CreateTaskResponse struct {
	ID string `json:"id"`
}

// Create validates the request, registers the task and starts it
func (h *TasksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if len(req.Images) == 0 {
		respondError(w, http.StatusBadRequest, "images are required")
		return
	}
	if req.Mode == "" {
		req.Mode = pipeline.ModeAnalyze
	}
	if req.Mode != pipeline.ModeAnalyze && req.Mode != pipeline.ModeRecognize {
		respondError(w, http.StatusBadRequest, "mode must be analyze or recognize")
		return
	}
	if req.Mode == pipeline.ModeAnalyze && strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if err := req.Destination.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.runner.Submit(r.Context(), handoff.TaskSpec{
		ModelName:       req.Model,
		Images:          req.Images,
		Prompt:          req.Prompt,
		Mode:            req.Mode,
		Destination:     req.Destination,
		AttachOriginals: req.AttachOriginals,
	})
	if err != nil {
		logger.FromContext(r.Context()).Error("task submission failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	respondJSON(w, http.StatusAccepted, CreateTaskResponse{ID: id})
}

// Status returns the current state and progress of a task
func (h *TasksHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing task ID")
		return
	}

	st, err := h.runner.Status(r.Context(), id)
	if errors.Is(err, runner.ErrUnknownTask) {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("task status failed", zap.String(logger.TaskIDKey, sanitizeForLog(id)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read task status")
		return
	}

	respondJSON(w, http.StatusOK, st)
}
