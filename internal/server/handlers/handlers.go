// Package handlers contains the HTTP handlers for the cubqueue API.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"cubqueue/internal/config"
	"cubqueue/internal/logger"
	"cubqueue/internal/store"
	"cubqueue/internal/workspace"
	"cubqueue/pkg/api"
)

// Store combines the persistence interfaces the handlers depend on.
type Store interface {
	store.ScriptStore
	store.TaskStore
	store.TaskFileStore
	Ping(ctx context.Context) error
}

// Runner is the slice of the task runner driven by the API.
type Runner interface {
	CreateTask(taskID string, script *store.Script, args any, fileTokens map[string]string) error
	StartTask(taskID string) error
	CancelTask(ctx context.Context, taskID string) error
	TaskLog(taskID string, lines int) (string, error)
	MetadataArchive(taskID string) (string, error)
	ResultArchive(taskID string) (string, error)
}

// Workspace is the slice of the workspace store the handlers touch
// directly; everything under a job directory goes through the runner.
type Workspace interface {
	SaveScript(name, ext string, src io.Reader, description string) (string, error)
	DeleteScript(name, ext string) error
	StageFile(jobID, filename string, content io.Reader) (string, int64, error)
	DeleteJobDir(jobID string) error
	DiskUsage() workspace.Usage
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store  Store
	runner Runner
	ws     Workspace
	cfg    *config.Config
	log    *slog.Logger
}

// New creates a Handlers instance with the given dependencies.
func New(s Store, r Runner, ws Workspace, cfg *config.Config, log *slog.Logger) *Handlers {
	return &Handlers{store: s, runner: r, ws: ws, cfg: cfg, log: log}
}

// respondJson writes a standard JSON response.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.log.Error("failed to encode response", "error", err)
		}
	}
}

// httpError writes the standard error document.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// requestLog returns the request-scoped logger.
func (h *Handlers) requestLog(r *http.Request) *slog.Logger {
	return logger.FromContext(r.Context(), h.log)
}
