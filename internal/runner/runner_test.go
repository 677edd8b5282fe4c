package runner

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cubqueue/internal/store"
	"cubqueue/internal/workspace"
)

// memStates is an in-memory TaskStates with the same compare-and-swap
// semantics as the real store.
type memStates struct {
	mu       sync.Mutex
	statuses map[string]store.TaskStatus
	messages map[string]*string
}

func newMemStates() *memStates {
	return &memStates{
		statuses: make(map[string]store.TaskStatus),
		messages: make(map[string]*string),
	}
}

func (m *memStates) seed(id string, status store.TaskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
}

func (m *memStates) status(id string) store.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[id]
}

func (m *memStates) message(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.messages[id]; p != nil {
		return *p
	}
	return ""
}

func (m *memStates) MarkTaskRunning(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses[id] != store.TaskPending {
		return false, nil
	}
	m.statuses[id] = store.TaskRunning
	return true, nil
}

func (m *memStates) FinishTask(ctx context.Context, id string, status store.TaskStatus, message *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.statuses[id]
	if !ok || cur.Terminal() {
		return false, nil
	}
	m.statuses[id] = status
	m.messages[id] = message
	return true, nil
}

func (m *memStates) FailRunningTasks(ctx context.Context, message string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, st := range m.statuses {
		if st == store.TaskRunning {
			m.statuses[id] = store.TaskFailed
			msg := message
			m.messages[id] = &msg
			n++
		}
	}
	return n, nil
}

func newTestRunner(t *testing.T, cfg Config) (*Runner, *memStates, *workspace.Store) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ws, err := workspace.New(t.TempDir(), []string{".sh", ".py"}, log)
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	if cfg.Interpreters == nil {
		cfg.Interpreters = map[string]string{".sh": "sh"}
	}

	states := newMemStates()
	return New(cfg, states, ws, log), states, ws
}

// registerScript saves a shell script into the workspace and returns
// its registration record.
func registerScript(t *testing.T, ws *workspace.Store, name, body string) *store.Script {
	t.Helper()
	if _, err := ws.SaveScript(name, ".sh", strings.NewReader(body), ""); err != nil {
		t.Fatalf("failed to save script: %v", err)
	}
	return &store.Script{ID: 1, Name: name, Path: "scripts/" + name + ".sh"}
}

// submitTask prepares and starts one task.
func submitTask(t *testing.T, r *Runner, states *memStates, script *store.Script, taskID string) {
	t.Helper()
	states.seed(taskID, store.TaskPending)
	if err := r.CreateTask(taskID, script, map[string]any{}, nil); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := r.StartTask(taskID); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
}

func waitForStatus(t *testing.T, states *memStates, id string, want store.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if states.status(id) == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s (stuck at %s)", id, want, states.status(id))
}

func waitForTerminal(t *testing.T, states *memStates, id string) store.TaskStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if st := states.status(id); st.Terminal() {
			return st
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state (stuck at %s)", id, states.status(id))
	return ""
}

func TestCreateTask_PreparesJobDir(t *testing.T) {
	r, _, ws := newTestRunner(t, Config{})
	script := registerScript(t, ws, "analyze", "#!/bin/sh\necho hi\n")

	args := map[string]any{
		"input":  "<file1>",
		"count":  float64(2),
		"nested": []any{"<file2>", "x"},
	}
	tokens := map[string]string{"<file1>": "aaa-111", "<file2>": "bbb-222"}

	if err := r.CreateTask("task-1", script, args, tokens); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	jobDir := ws.JobDir("task-1")
	for _, sub := range []string{"files", "metadata", "output"} {
		if fi, err := os.Stat(filepath.Join(jobDir, sub)); err != nil || !fi.IsDir() {
			t.Errorf("expected %s directory in job dir", sub)
		}
	}

	// Script copy is executable.
	fi, err := os.Stat(filepath.Join(jobDir, "analyze.sh"))
	if err != nil {
		t.Fatalf("expected script copy: %v", err)
	}
	if fi.Mode().Perm()&0o100 == 0 {
		t.Error("expected script copy to be executable")
	}

	// Parameter document has placeholders resolved to relative paths.
	raw, err := os.ReadFile(ws.ArgFilePath("task-1"))
	if err != nil {
		t.Fatalf("expected parameter document: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parameter document is not valid JSON: %v", err)
	}
	if doc["input"] != "files/aaa-111" {
		t.Errorf("expected resolved input path, got %v", doc["input"])
	}
	if doc["count"] != float64(2) {
		t.Errorf("expected numeric arg preserved, got %v", doc["count"])
	}
	nested, _ := doc["nested"].([]any)
	if len(nested) != 2 || nested[0] != "files/bbb-222" {
		t.Errorf("expected nested placeholder resolved, got %v", doc["nested"])
	}
}

func TestCreateTask_MissingScript(t *testing.T) {
	r, _, _ := newTestRunner(t, Config{})

	script := &store.Script{ID: 9, Name: "ghost", Path: "scripts/ghost.sh"}
	err := r.CreateTask("task-1", script, map[string]any{}, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
}

func TestStartTask_UnknownTask(t *testing.T) {
	r, _, _ := newTestRunner(t, Config{})

	if err := r.StartTask("no-such-task"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("expected workspace.ErrNotFound, got %v", err)
	}
}

func TestRunTask_Completes(t *testing.T) {
	r, states, ws := newTestRunner(t, Config{MaxConcurrent: 2})
	script := registerScript(t, ws, "hello",
		"#!/bin/sh\necho \"hello from $CUBQUEUE_TASK_ID\"\necho done > output/result.txt\n")

	submitTask(t, r, states, script, "task-1")

	if st := waitForTerminal(t, states, "task-1"); st != store.TaskCompleted {
		t.Fatalf("expected completed, got %s (%s)", st, states.message("task-1"))
	}

	// Output went to the combined log; the env var was visible.
	text, err := r.TaskLog("task-1", 100)
	if err != nil {
		t.Fatalf("TaskLog failed: %v", err)
	}
	if !strings.Contains(text, "hello from task-1") {
		t.Errorf("expected env-tagged output in log, got %q", text)
	}

	// The script could write into its output directory.
	if _, err := os.Stat(filepath.Join(ws.OutputDir("task-1"), "result.txt")); err != nil {
		t.Errorf("expected result file in output dir: %v", err)
	}
}

// TestRunTask_StagedInputFlow walks the full submission path: an
// uploaded file is staged under a token, the placeholder in the
// parameter document resolves to its relative path, and the resolved
// document is what the script sees.
func TestRunTask_StagedInputFlow(t *testing.T) {
	r, states, ws := newTestRunner(t, Config{})
	script := registerScript(t, ws, "echo_args",
		"#!/bin/sh\ncp arg_file.json output/result.txt\n")

	token, size, err := ws.StageFile("task-1", "a.txt", strings.NewReader("staged input\n"))
	if err != nil {
		t.Fatalf("StageFile failed: %v", err)
	}
	if size != int64(len("staged input\n")) {
		t.Errorf("expected staged size %d, got %d", len("staged input\n"), size)
	}

	states.seed("task-1", store.TaskPending)
	args := map[string]any{"input_files": []any{"<file1>"}}
	if err := r.CreateTask("task-1", script, args, map[string]string{"<file1>": token}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := r.StartTask("task-1"); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}

	if st := waitForTerminal(t, states, "task-1"); st != store.TaskCompleted {
		t.Fatalf("expected completed, got %s (%s)", st, states.message("task-1"))
	}

	// result.txt is a verbatim copy of the resolved parameter document,
	// so the staged token's relative path must appear in it.
	raw, err := os.ReadFile(filepath.Join(ws.OutputDir("task-1"), "result.txt"))
	if err != nil {
		t.Fatalf("expected result file: %v", err)
	}
	if !strings.Contains(string(raw), "files/"+token) {
		t.Errorf("expected resolved path files/%s in result, got %q", token, raw)
	}

	// The staged content itself sits where the resolved path points.
	staged, err := os.ReadFile(filepath.Join(ws.JobDir("task-1"), "files", token))
	if err != nil {
		t.Fatalf("expected staged file: %v", err)
	}
	if string(staged) != "staged input\n" {
		t.Errorf("unexpected staged content %q", staged)
	}
}

func TestRunTask_ExitCodeFailure(t *testing.T) {
	r, states, ws := newTestRunner(t, Config{})
	script := registerScript(t, ws, "boom", "#!/bin/sh\necho about to fail\nexit 3\n")

	submitTask(t, r, states, script, "task-1")

	if st := waitForTerminal(t, states, "task-1"); st != store.TaskFailed {
		t.Fatalf("expected failed, got %s", st)
	}
	if msg := states.message("task-1"); !strings.Contains(msg, "exit code 3") {
		t.Errorf("expected exit code in message, got %q", msg)
	}
}

func TestRunTask_Timeout(t *testing.T) {
	r, states, ws := newTestRunner(t, Config{Timeout: 300 * time.Millisecond})
	script := registerScript(t, ws, "slow", "#!/bin/sh\nsleep 30\n")

	submitTask(t, r, states, script, "task-1")

	if st := waitForTerminal(t, states, "task-1"); st != store.TaskFailed {
		t.Fatalf("expected failed, got %s", st)
	}
	if msg := states.message("task-1"); !strings.Contains(msg, "timed out") {
		t.Errorf("expected timeout message, got %q", msg)
	}

	// The timeout is also appended to the task log.
	text, _ := r.TaskLog("task-1", 100)
	if !strings.Contains(text, "timed out") {
		t.Errorf("expected timeout note in log, got %q", text)
	}
}

func TestCancelTask_Running(t *testing.T) {
	r, states, ws := newTestRunner(t, Config{CancelGrace: 5 * time.Second})
	script := registerScript(t, ws, "long", "#!/bin/sh\nsleep 30\n")

	submitTask(t, r, states, script, "task-1")
	waitForStatus(t, states, "task-1", store.TaskRunning)

	start := time.Now()
	if err := r.CancelTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancel of a cooperative process took too long: %v", elapsed)
	}

	if st := states.status("task-1"); st != store.TaskCancelled {
		t.Errorf("expected cancelled, got %s", st)
	}
	if msg := states.message("task-1"); msg != "task cancelled" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestCancelTask_ForceKill(t *testing.T) {
	r, states, ws := newTestRunner(t, Config{CancelGrace: 300 * time.Millisecond})
	// Ignores SIGTERM; only SIGKILL stops it.
	script := registerScript(t, ws, "stubborn",
		"#!/bin/sh\ntrap '' TERM\nwhile :; do sleep 0.1; done\n")

	submitTask(t, r, states, script, "task-1")
	waitForStatus(t, states, "task-1", store.TaskRunning)

	if err := r.CancelTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}

	if st := states.status("task-1"); st != store.TaskCancelled {
		t.Errorf("expected cancelled, got %s", st)
	}
}

func TestCancelTask_QueuedNeverStarts(t *testing.T) {
	r, states, ws := newTestRunner(t, Config{})
	script := registerScript(t, ws, "later", "#!/bin/sh\necho ran > output/proof.txt\n")

	states.seed("task-1", store.TaskPending)
	if err := r.CreateTask("task-1", script, map[string]any{}, nil); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	// Cancel before the task was ever started.
	if err := r.CancelTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}
	if st := states.status("task-1"); st != store.TaskCancelled {
		t.Fatalf("expected cancelled, got %s", st)
	}

	// A late start must not resurrect it: admission loses the CAS.
	if err := r.StartTask("task-1"); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if st := states.status("task-1"); st != store.TaskCancelled {
		t.Errorf("expected task to stay cancelled, got %s", st)
	}
	if _, err := os.Stat(filepath.Join(ws.OutputDir("task-1"), "proof.txt")); err == nil {
		t.Error("expected the script never to run")
	}
}

func TestCancelTask_TerminalIsNoop(t *testing.T) {
	r, states, _ := newTestRunner(t, Config{})
	states.seed("task-1", store.TaskCompleted)

	if err := r.CancelTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}
	if st := states.status("task-1"); st != store.TaskCompleted {
		t.Errorf("expected completed to survive cancel, got %s", st)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	r, states, ws := newTestRunner(t, Config{MaxConcurrent: 1, CancelGrace: 5 * time.Second})
	long := registerScript(t, ws, "long", "#!/bin/sh\nsleep 30\n")
	quick := registerScript(t, ws, "quick", "#!/bin/sh\necho ok\n")

	submitTask(t, r, states, long, "task-a")
	waitForStatus(t, states, "task-a", store.TaskRunning)

	submitTask(t, r, states, quick, "task-b")

	// With one slot taken, the second task must stay queued.
	time.Sleep(300 * time.Millisecond)
	if st := states.status("task-b"); st != store.TaskPending {
		t.Fatalf("expected queued task to stay pending, got %s", st)
	}

	// Freeing the slot lets it through.
	if err := r.CancelTask(context.Background(), "task-a"); err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}
	if st := waitForTerminal(t, states, "task-b"); st != store.TaskCompleted {
		t.Errorf("expected queued task to complete, got %s", st)
	}
}

func TestShutdown_TerminatesRunningTasks(t *testing.T) {
	r, states, ws := newTestRunner(t, Config{})
	script := registerScript(t, ws, "long", "#!/bin/sh\nsleep 30\n")

	submitTask(t, r, states, script, "task-1")
	waitForStatus(t, states, "task-1", store.TaskRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if st := states.status("task-1"); !st.Terminal() {
		t.Errorf("expected a terminal state after shutdown, got %s", st)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	r, states, _ := newTestRunner(t, Config{})
	states.seed("task-1", store.TaskRunning)
	states.seed("task-2", store.TaskRunning)
	states.seed("task-3", store.TaskCompleted)

	count, err := r.RecoverInterrupted(context.Background())
	if err != nil {
		t.Fatalf("RecoverInterrupted failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 recovered tasks, got %d", count)
	}
	for _, id := range []string{"task-1", "task-2"} {
		if st := states.status(id); st != store.TaskFailed {
			t.Errorf("task %s: expected failed, got %s", id, st)
		}
		if msg := states.message(id); !strings.Contains(msg, "restart") {
			t.Errorf("task %s: expected restart message, got %q", id, msg)
		}
	}
	if st := states.status("task-3"); st != store.TaskCompleted {
		t.Errorf("expected completed task untouched, got %s", st)
	}
}

func TestArchives(t *testing.T) {
	r, _, ws := newTestRunner(t, Config{})
	script := registerScript(t, ws, "noop", "#!/bin/sh\ntrue\n")

	if err := r.CreateTask("task-1", script, map[string]any{}, nil); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.MetadataDir("task-1"), "run.json"), []byte(`{"ok":true}`), 0o644); err != nil {
		t.Fatalf("failed to write metadata file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.OutputDir("task-1"), "result.txt"), []byte("42"), 0o644); err != nil {
		t.Fatalf("failed to write output file: %v", err)
	}

	metaZip, err := r.MetadataArchive("task-1")
	if err != nil {
		t.Fatalf("MetadataArchive failed: %v", err)
	}
	if filepath.Base(metaZip) != "task-1_metadata.zip" {
		t.Errorf("unexpected metadata archive name %q", metaZip)
	}
	assertZipContains(t, metaZip, "run.json")

	resultZip, err := r.ResultArchive("task-1")
	if err != nil {
		t.Fatalf("ResultArchive failed: %v", err)
	}
	if filepath.Base(resultZip) != "task-1_result.zip" {
		t.Errorf("unexpected result archive name %q", resultZip)
	}
	assertZipContains(t, resultZip, "result.txt")
}

func TestArchives_MissingTask(t *testing.T) {
	r, _, _ := newTestRunner(t, Config{})

	if _, err := r.MetadataArchive("ghost"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("expected workspace.ErrNotFound, got %v", err)
	}
	if _, err := r.ResultArchive("ghost"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("expected workspace.ErrNotFound, got %v", err)
	}
}

func assertZipContains(t *testing.T, archivePath, name string) {
	t.Helper()

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		t.Fatalf("failed to open archive %s: %v", archivePath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name == name {
			return
		}
	}
	t.Errorf("archive %s does not contain %s", archivePath, name)
}
