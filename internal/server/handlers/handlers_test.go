package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cubqueue/internal/config"
	"cubqueue/internal/store"
	"cubqueue/internal/workspace"
)

var errDisk = errors.New("disk full")

// Mock store: lightweight in-memory state plus error hooks.
type mockStore struct {
	scripts   map[string]*store.Script
	tasks     map[string]*store.Task
	taskFiles []*store.TaskFile

	// Hooks
	createScriptErr   error
	listScriptsErr    error
	createTaskErr     error
	createTaskFileErr error
	pingErr           error

	// Spies
	finishedTask   string
	finishedStatus store.TaskStatus
	finishedMsg    *string
}

func newMockStore() *mockStore {
	return &mockStore{
		scripts: make(map[string]*store.Script),
		tasks:   make(map[string]*store.Task),
	}
}

func (m *mockStore) CreateScript(ctx context.Context, s *store.Script) error {
	if m.createScriptErr != nil {
		return m.createScriptErr
	}
	if _, ok := m.scripts[s.Name]; ok {
		return store.ErrDuplicate
	}
	s.ID = int64(len(m.scripts) + 1)
	s.CreatedAt = time.Now().UTC()
	m.scripts[s.Name] = s
	return nil
}

func (m *mockStore) GetScriptByName(ctx context.Context, name string) (*store.Script, error) {
	if s, ok := m.scripts[name]; ok {
		return s, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) GetScriptByID(ctx context.Context, id int64) (*store.Script, error) {
	for _, s := range m.scripts {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListScripts(ctx context.Context) ([]*store.Script, error) {
	if m.listScriptsErr != nil {
		return nil, m.listScriptsErr
	}
	out := make([]*store.Script, 0, len(m.scripts))
	for _, s := range m.scripts {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockStore) DeleteScript(ctx context.Context, name string) error {
	if _, ok := m.scripts[name]; !ok {
		return store.ErrNotFound
	}
	delete(m.scripts, name)
	return nil
}

func (m *mockStore) CreateTask(ctx context.Context, t *store.Task) error {
	if m.createTaskErr != nil {
		return m.createTaskErr
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) GetTask(ctx context.Context, id string) (*store.Task, error) {
	if t, ok := m.tasks[id]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListTasks(ctx context.Context) ([]*store.TaskSummary, error) {
	out := make([]*store.TaskSummary, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, &store.TaskSummary{
			ID:          t.ID,
			ScriptName:  t.ScriptName,
			Status:      t.Status,
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
		})
	}
	return out, nil
}

func (m *mockStore) MarkTaskRunning(ctx context.Context, id string) (bool, error) {
	t, ok := m.tasks[id]
	if !ok || t.Status != store.TaskPending {
		return false, nil
	}
	t.Status = store.TaskRunning
	return true, nil
}

func (m *mockStore) FinishTask(ctx context.Context, id string, status store.TaskStatus, message *string) (bool, error) {
	m.finishedTask = id
	m.finishedStatus = status
	m.finishedMsg = message
	t, ok := m.tasks[id]
	if !ok || t.Status.Terminal() {
		return false, nil
	}
	t.Status = status
	t.Message = message
	return true, nil
}

func (m *mockStore) FailRunningTasks(ctx context.Context, message string) (int64, error) {
	var n int64
	for _, t := range m.tasks {
		if t.Status == store.TaskRunning {
			t.Status = store.TaskFailed
			n++
		}
	}
	return n, nil
}

func (m *mockStore) CountTasksByStatus(ctx context.Context, status store.TaskStatus) (int64, error) {
	var n int64
	for _, t := range m.tasks {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) CreateTaskFile(ctx context.Context, f *store.TaskFile) error {
	if m.createTaskFileErr != nil {
		return m.createTaskFileErr
	}
	m.taskFiles = append(m.taskFiles, f)
	return nil
}

func (m *mockStore) ListTaskFiles(ctx context.Context, taskID string) ([]*store.TaskFile, error) {
	var out []*store.TaskFile
	for _, f := range m.taskFiles {
		if f.TaskID == taskID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

// Mock runner
type mockRunner struct {
	// Hooks
	createErr  error
	startErr   error
	cancelErr  error
	logText    string
	logErr     error
	archive    string
	archiveErr error

	// Spies
	createdTask   string
	createdTokens map[string]string
	startedTask   string
	cancelledTask string
	logLines      int
}

func (m *mockRunner) CreateTask(taskID string, script *store.Script, args any, fileTokens map[string]string) error {
	m.createdTask = taskID
	m.createdTokens = fileTokens
	return m.createErr
}

func (m *mockRunner) StartTask(taskID string) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.startedTask = taskID
	return nil
}

func (m *mockRunner) CancelTask(ctx context.Context, taskID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelledTask = taskID
	return nil
}

func (m *mockRunner) TaskLog(taskID string, lines int) (string, error) {
	m.logLines = lines
	return m.logText, m.logErr
}

func (m *mockRunner) MetadataArchive(taskID string) (string, error) {
	return m.archive, m.archiveErr
}

func (m *mockRunner) ResultArchive(taskID string) (string, error) {
	return m.archive, m.archiveErr
}

// Mock workspace
type mockWorkspace struct {
	// Hooks
	saveErr  error
	stageErr error
	usage    workspace.Usage

	// Spies
	savedScript   string
	savedExt      string
	stagedFiles   []string
	deletedScript string
	deletedJobDir string
}

func (m *mockWorkspace) SaveScript(name, ext string, src io.Reader, description string) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.savedScript = name
	m.savedExt = ext
	io.Copy(io.Discard, src)
	return "/tmp/" + name + ext, nil
}

func (m *mockWorkspace) DeleteScript(name, ext string) error {
	m.deletedScript = name
	return nil
}

func (m *mockWorkspace) StageFile(jobID, filename string, content io.Reader) (string, int64, error) {
	if m.stageErr != nil {
		return "", 0, m.stageErr
	}
	data, _ := io.ReadAll(content)
	m.stagedFiles = append(m.stagedFiles, filename)
	return fmt.Sprintf("token-%d", len(m.stagedFiles)), int64(len(data)), nil
}

func (m *mockWorkspace) DeleteJobDir(jobID string) error {
	m.deletedJobDir = jobID
	return nil
}

func (m *mockWorkspace) DiskUsage() workspace.Usage {
	return m.usage
}

func testConfig() *config.Config {
	return &config.Config{
		MaxFileSize:   1 << 20,
		MaxScriptSize: 1 << 20,
		Interpreters:  map[string]string{".py": "python3", ".sh": "sh"},
	}
}

func newTestHandlers(st *mockStore, run *mockRunner, ws *mockWorkspace) *Handlers {
	return New(st, run, ws, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// filePart describes one file to attach to a multipart test request.
type filePart struct {
	field    string
	filename string
	content  string
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files []filePart) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("failed to create form file %s: %v", f.filename, err)
		}
		if _, err := fw.Write([]byte(f.content)); err != nil {
			t.Fatalf("failed to write form file %s: %v", f.filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
