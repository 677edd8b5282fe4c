package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"cubqueue/internal/store"
	"cubqueue/pkg/api"
)

// Script names become file names under the scripts directory, so the
// charset stays narrow.
var scriptNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// formOverhead is the slack allowed on top of the file size limit for
// the non-file parts of a multipart body.
const formOverhead = 1 << 20

// RegisterScript handles POST /api/script.
// The multipart form carries the script name, an optional description
// and the script file itself.
func (h *Handlers) RegisterScript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxScriptSize+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.httpError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	name := r.FormValue(api.FormScriptName)
	if !scriptNameRe.MatchString(name) {
		h.httpError(w, "Script name may only contain letters, digits, underscores and hyphens", http.StatusBadRequest)
		return
	}
	desc := r.FormValue(api.FormScriptDesc)

	file, header, err := r.FormFile(api.FormScriptFile)
	if err != nil {
		h.httpError(w, "Script file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := h.cfg.Interpreters[ext]; !ok {
		msg := fmt.Sprintf("Unsupported script extension %q (allowed: %s)",
			ext, strings.Join(h.cfg.AllowedExtensions(), ", "))
		h.httpError(w, msg, http.StatusBadRequest)
		return
	}
	if header.Size > h.cfg.MaxScriptSize {
		h.httpError(w, "Script exceeds the maximum allowed size", http.StatusBadRequest)
		return
	}

	// Check the name before touching the filesystem; SaveScript would
	// silently overwrite the existing source.
	if _, err := h.store.GetScriptByName(ctx, name); err == nil {
		h.httpError(w, "Script name already exists", http.StatusBadRequest)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	if _, err := h.ws.SaveScript(name, ext, file, desc); err != nil {
		h.requestLog(r).Error("failed to save script", "name", name, "error", err)
		h.httpError(w, "Failed to save script", http.StatusInternalServerError)
		return
	}

	script := &store.Script{
		Name:        name,
		Description: desc,
		Path:        filepath.Join("scripts", name+ext),
	}
	if err := h.store.CreateScript(ctx, script); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent registration of the same name.
			h.httpError(w, "Script name already exists", http.StatusBadRequest)
			return
		}
		h.requestLog(r).Error("failed to register script", "name", name, "error", err)
		h.httpError(w, "Failed to register script", http.StatusInternalServerError)
		return
	}

	h.requestLog(r).Info("script registered", "name", name, "id", script.ID)
	h.respondJson(w, http.StatusOK, scriptResponse(script))
}

// ListScripts handles GET /api/script.
func (h *Handlers) ListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := h.store.ListScripts(r.Context())
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	resp := make([]api.ScriptResponse, 0, len(scripts))
	for _, s := range scripts {
		resp = append(resp, scriptResponse(s))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// DeleteScript handles DELETE /api/script/{name}. The script file and
// its registration row go together; tasks that already ran keep their
// copy of the script.
func (h *Handlers) DeleteScript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	script, err := h.store.GetScriptByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Script not found", http.StatusNotFound)
		} else {
			h.httpError(w, "Internal database error", http.StatusInternalServerError)
		}
		return
	}

	if err := h.ws.DeleteScript(name, filepath.Ext(script.Path)); err != nil {
		h.requestLog(r).Error("failed to delete script file", "name", name, "error", err)
		h.httpError(w, "Failed to delete script", http.StatusInternalServerError)
		return
	}
	if err := h.store.DeleteScript(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Failed to delete script", http.StatusInternalServerError)
		return
	}

	h.requestLog(r).Info("script deleted", "name", name)
	h.respondJson(w, http.StatusOK, api.MessageResponse{Message: "Script deleted"})
}

func scriptResponse(s *store.Script) api.ScriptResponse {
	return api.ScriptResponse{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
	}
}
