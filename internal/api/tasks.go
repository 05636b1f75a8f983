package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/store"
)

const (
	defaultTaskLimit = 50
	maxTaskLimit     = 500
	taskTimeout      = 3 * time.Second
)

// TaskHandler exposes read-only download-task endpoints.
type TaskHandler struct {
	tasks   edgar.TaskStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewTaskHandler wires the task store and logger.
func NewTaskHandler(tasks edgar.TaskStore, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{tasks: tasks, timeout: taskTimeout, logger: logger}
}

// ListTasks handles GET /v1/tasks?status=&limit=. It returns a JSON
// object {"tasks": [...]} on success, 400 for invalid filters, 503 when
// the task store is unavailable, or 500 if the store call fails.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task store unavailable")
		return
	}
	limit, err := parseTaskLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseTaskStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tasks, err := h.tasks.ListTasks(ctx, status, limit)
	if err != nil {
		h.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// GetTask handles GET /v1/tasks/{task_id}. It returns the task together
// with its ordered log lines, 404 when the task does not exist, 503 when
// the store is unavailable, or 500 otherwise.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task store unavailable")
		return
	}
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	task, err := h.tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("get task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	logs, err := h.tasks.TaskLogs(ctx, taskID)
	if err != nil {
		h.logger.Error("task logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "logs": logs})
}

func parseTaskLimit(r *http.Request) (int, error) {
	limit := defaultTaskLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, errors.New("invalid limit")
		}
		if val > maxTaskLimit {
			val = maxTaskLimit
		}
		limit = val
	}
	return limit, nil
}

func parseTaskStatus(input string) (edgar.TaskStatus, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return "", nil
	case "pending":
		return edgar.TaskStatusPending, nil
	case "running":
		return edgar.TaskStatusRunning, nil
	case "completed":
		return edgar.TaskStatusCompleted, nil
	case "failed":
		return edgar.TaskStatusFailed, nil
	case "cancelled", "canceled":
		return edgar.TaskStatusCancelled, nil
	default:
		return "", errors.New("invalid status")
	}
}
