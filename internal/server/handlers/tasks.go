package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"cubqueue/internal/store"
	"cubqueue/internal/workspace"
	"cubqueue/pkg/api"
)

// stagedUpload is one input file already written to the task's files
// directory, waiting for its database row.
type stagedUpload struct {
	filename string
	token    string
	size     int64
}

// SubmitTask handles POST /api/task: it stages the uploaded input
// files, records the task, prepares the job directory and starts
// execution. Input files are referenced from the parameter document
// with <file1>, <file2>, ... placeholders in upload order.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.httpError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	scriptName := r.FormValue(api.FormTaskScript)
	if scriptName == "" {
		h.httpError(w, "script_name is required", http.StatusBadRequest)
		return
	}

	script, err := h.store.GetScriptByName(ctx, scriptName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Script not found", http.StatusNotFound)
		} else {
			h.httpError(w, "Internal database error", http.StatusInternalServerError)
		}
		return
	}

	argFile, _, err := r.FormFile(api.FormTaskArgFile)
	if err != nil {
		h.httpError(w, "arg_file is required", http.StatusBadRequest)
		return
	}
	defer argFile.Close()

	rawArgs, err := io.ReadAll(argFile)
	if err != nil {
		h.httpError(w, "Failed to read arg_file", http.StatusInternalServerError)
		return
	}
	var args any
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		h.httpError(w, "arg_file is not valid JSON", http.StatusBadRequest)
		return
	}

	var description *string
	if d := r.FormValue(api.FormTaskDescription); d != "" {
		description = &d
	}

	taskID := uuid.New().String()

	var uploads []*multipart.FileHeader
	if r.MultipartForm != nil {
		uploads = r.MultipartForm.File[api.FormTaskFiles]
	}

	// Stage uploads before any database row exists: a rejected upload
	// leaves nothing behind but the job directory we remove here.
	staged, err := h.stageUploads(taskID, uploads)
	if err != nil {
		h.discardJobDir(r, taskID)
		var tooBig *uploadTooLargeError
		if errors.As(err, &tooBig) {
			h.httpError(w, tooBig.Error(), http.StatusBadRequest)
		} else {
			h.requestLog(r).Error("failed to stage uploads", "task_id", taskID, "error", err)
			h.httpError(w, "Failed to store uploaded file", http.StatusInternalServerError)
		}
		return
	}

	task := &store.Task{
		ID:          taskID,
		ScriptID:    script.ID,
		ScriptName:  script.Name,
		Status:      store.TaskPending,
		Args:        rawArgs,
		Description: description,
	}
	if err := h.store.CreateTask(ctx, task); err != nil {
		h.discardJobDir(r, taskID)
		h.requestLog(r).Error("failed to create task", "task_id", taskID, "error", err)
		h.httpError(w, "Failed to create task", http.StatusInternalServerError)
		return
	}

	fileTokens := make(map[string]string, len(staged))
	for i, up := range staged {
		record := &store.TaskFile{
			TaskID:   taskID,
			Filename: up.filename,
			FileUUID: up.token,
			FileSize: up.size,
		}
		if err := h.store.CreateTaskFile(ctx, record); err != nil {
			h.failSubmission(ctx, r, taskID, "failed to record uploaded file")
			h.httpError(w, "Failed to record uploaded file", http.StatusInternalServerError)
			return
		}
		// Placeholders are numbered by upload order, starting at 1.
		fileTokens[fmt.Sprintf("<file%d>", i+1)] = up.token
	}

	if err := h.runner.CreateTask(taskID, script, args, fileTokens); err != nil {
		h.failSubmission(ctx, r, taskID, "failed to prepare job directory")
		h.requestLog(r).Error("failed to prepare task", "task_id", taskID, "error", err)
		h.httpError(w, "Failed to prepare task", http.StatusInternalServerError)
		return
	}

	if err := h.runner.StartTask(taskID); err != nil {
		h.failSubmission(ctx, r, taskID, "failed to start task")
		h.requestLog(r).Error("failed to start task", "task_id", taskID, "error", err)
		h.httpError(w, "Failed to start task", http.StatusInternalServerError)
		return
	}

	h.requestLog(r).Info("task submitted", "task_id", taskID, "script", scriptName)
	h.respondJson(w, http.StatusOK, api.TaskResponse{
		ID:          taskID,
		ScriptName:  script.Name,
		Status:      string(store.TaskPending),
		Description: description,
		CreatedAt:   task.CreatedAt,
	})
}

// uploadTooLargeError marks a staged upload rejected for size, so the
// submit handler can answer 400 instead of 500.
type uploadTooLargeError struct {
	filename string
}

func (e *uploadTooLargeError) Error() string {
	return fmt.Sprintf("File %q exceeds the maximum allowed size", e.filename)
}

func (h *Handlers) stageUploads(taskID string, uploads []*multipart.FileHeader) ([]stagedUpload, error) {
	staged := make([]stagedUpload, 0, len(uploads))
	for _, header := range uploads {
		if header.Size > h.cfg.MaxFileSize {
			return nil, &uploadTooLargeError{filename: header.Filename}
		}

		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload %q: %w", header.Filename, err)
		}
		token, size, err := h.ws.StageFile(taskID, header.Filename, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to stage upload %q: %w", header.Filename, err)
		}

		staged = append(staged, stagedUpload{filename: header.Filename, token: token, size: size})
	}
	return staged, nil
}

// discardJobDir removes a job directory created during a submission
// that never produced a task row.
func (h *Handlers) discardJobDir(r *http.Request, taskID string) {
	if err := h.ws.DeleteJobDir(taskID); err != nil {
		h.requestLog(r).Error("failed to remove job directory", "task_id", taskID, "error", err)
	}
}

// failSubmission marks an already-recorded task as failed and removes
// its job directory before the error response goes out.
func (h *Handlers) failSubmission(ctx context.Context, r *http.Request, taskID, message string) {
	if _, err := h.store.FinishTask(ctx, taskID, store.TaskFailed, &message); err != nil {
		h.requestLog(r).Error("failed to record submission failure", "task_id", taskID, "error", err)
	}
	h.discardJobDir(r, taskID)
}

// ListTasks handles GET /api/task.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasks(r.Context())
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	resp := make([]api.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, api.TaskResponse{
			ID:          t.ID,
			ScriptName:  t.ScriptName,
			Status:      string(t.Status),
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetTaskStatus handles GET /api/task/{id}.
func (h *Handlers) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := h.lookupTask(w, r)
	if !ok {
		return
	}

	h.respondJson(w, http.StatusOK, api.TaskStatusResponse{
		ID:          task.ID,
		Status:      string(task.Status),
		Message:     task.Message,
		Description: task.Description,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		FinishedAt:  task.FinishedAt,
	})
}

// GetTaskLog handles GET /api/task/{id}/log?lines=N. lines defaults to
// 100; lines=0 returns the whole log.
func (h *Handlers) GetTaskLog(w http.ResponseWriter, r *http.Request) {
	task, ok := h.lookupTask(w, r)
	if !ok {
		return
	}

	lines := 100
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.httpError(w, "Invalid lines parameter", http.StatusBadRequest)
			return
		}
		lines = n
	}

	text, err := h.runner.TaskLog(task.ID, lines)
	if err != nil {
		h.requestLog(r).Error("failed to read task log", "task_id", task.ID, "error", err)
		h.httpError(w, "Failed to read task log", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.LogResponse{Log: text})
}

// DownloadMetadata handles GET /api/task/{id}/metadata.
func (h *Handlers) DownloadMetadata(w http.ResponseWriter, r *http.Request) {
	h.downloadArchive(w, r, "metadata", h.runner.MetadataArchive)
}

// DownloadResult handles GET /api/task/{id}/result.
func (h *Handlers) DownloadResult(w http.ResponseWriter, r *http.Request) {
	h.downloadArchive(w, r, "result", h.runner.ResultArchive)
}

func (h *Handlers) downloadArchive(w http.ResponseWriter, r *http.Request, kind string, build func(string) (string, error)) {
	task, ok := h.lookupTask(w, r)
	if !ok {
		return
	}

	archivePath, err := build(task.ID)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			h.httpError(w, "Task directory not found", http.StatusNotFound)
			return
		}
		h.requestLog(r).Error("failed to build archive", "task_id", task.ID, "kind", kind, "error", err)
		h.httpError(w, "Failed to build archive", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(archivePath)))
	http.ServeFile(w, r, archivePath)
}

// CancelTask handles DELETE /api/task/{id}. Cancelling a task that
// already reached a terminal state is an error.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.lookupTask(w, r)
	if !ok {
		return
	}

	if task.Status.Terminal() {
		h.httpError(w, "Task already finished", http.StatusBadRequest)
		return
	}

	if err := h.runner.CancelTask(r.Context(), task.ID); err != nil {
		h.requestLog(r).Error("failed to cancel task", "task_id", task.ID, "error", err)
		h.httpError(w, "Failed to cancel task", http.StatusInternalServerError)
		return
	}

	h.requestLog(r).Info("task cancelled", "task_id", task.ID)
	h.respondJson(w, http.StatusOK, api.MessageResponse{Message: "Task cancelled"})
}

// lookupTask resolves the {id} path value to a task, writing the error
// response itself when the task cannot be served.
func (h *Handlers) lookupTask(w http.ResponseWriter, r *http.Request) (*store.Task, bool) {
	id := r.PathValue("id")

	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Task not found", http.StatusNotFound)
		} else {
			h.httpError(w, "Internal database error", http.StatusInternalServerError)
		}
		return nil, false
	}
	return task, true
}
