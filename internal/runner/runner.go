// Package runner executes tasks as supervised subprocesses with
// bounded concurrency.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"cubqueue/internal/store"
	"cubqueue/internal/workspace"
)

// Task messages written to the terminal status.
const (
	cancelMessage  = "task cancelled"
	restartMessage = "task interrupted by server restart"
)

// TaskStates is the slice of the metadata store the runner needs to
// drive status transitions.
type TaskStates interface {
	MarkTaskRunning(ctx context.Context, id string) (bool, error)
	FinishTask(ctx context.Context, id string, status store.TaskStatus, message *string) (bool, error)
	FailRunningTasks(ctx context.Context, message string) (int64, error)
}

// Config holds runner tuning.
type Config struct {
	MaxConcurrent int
	CancelGrace   time.Duration
	Timeout       time.Duration // 0 disables the per-task deadline
	Interpreters  map[string]string
}

// procHandle tracks one live task process. All fields except done are
// guarded by the runner's mutex; done is closed exactly once, after
// the process is gone and the handle deregistered.
type procHandle struct {
	process   *os.Process
	cancelled bool
	done      chan struct{}
}

// Runner owns the process table and the admission semaphore.
type Runner struct {
	cfg    Config
	states TaskStates
	ws     *workspace.Store
	log    *slog.Logger

	mu    sync.Mutex
	procs map[string]*procHandle

	sem  chan struct{}
	wg   sync.WaitGroup
	quit chan struct{}
}

// New creates a runner. MaxConcurrent below 1 is raised to 1;
// CancelGrace defaults to 10 seconds.
func New(cfg Config, states TaskStates, ws *workspace.Store, log *slog.Logger) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 10 * time.Second
	}

	return &Runner{
		cfg:    cfg,
		states: states,
		ws:     ws,
		log:    log,
		procs:  make(map[string]*procHandle),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		quit:   make(chan struct{}),
	}
}

// CreateTask prepares the workspace of a new task: the directory tree,
// a copy of the script source, and the resolved parameter document.
// fileTokens maps each placeholder in the document to the token of the
// staged upload it refers to.
func (r *Runner) CreateTask(taskID string, script *store.Script, args any, fileTokens map[string]string) error {
	ext := filepath.Ext(script.Path)
	src := r.ws.ScriptPath(script.Name, ext)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("script source for %q: %w", script.Name, store.ErrNotFound)
		}
		return err
	}

	jobDir, err := r.ws.CreateJobDir(taskID)
	if err != nil {
		return err
	}

	if err := copyFile(src, filepath.Join(jobDir, script.Name+ext), 0o755); err != nil {
		return fmt.Errorf("failed to copy script: %w", err)
	}

	mappings := make(map[string]string, len(fileTokens))
	for placeholder, token := range fileTokens {
		mappings[placeholder] = "files/" + token
	}

	doc, err := json.MarshalIndent(resolvePlaceholders(args, mappings), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode parameter document: %w", err)
	}
	if err := os.WriteFile(r.ws.ArgFilePath(taskID), doc, 0o644); err != nil {
		return fmt.Errorf("failed to write parameter document: %w", err)
	}

	return nil
}

// StartTask begins asynchronous execution of a prepared task. It
// returns immediately; progress is recorded through the task's status.
func (r *Runner) StartTask(taskID string) error {
	if _, err := os.Stat(r.ws.JobDir(taskID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return workspace.ErrNotFound
		}
		return err
	}

	r.wg.Add(1)
	go r.supervise(taskID)

	return nil
}

// RecoverInterrupted sweeps tasks left in the running state by an
// unclean shutdown. Called once at startup, before any new task is
// admitted.
func (r *Runner) RecoverInterrupted(ctx context.Context) (int64, error) {
	count, err := r.states.FailRunningTasks(ctx, restartMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	if count > 0 {
		r.log.Info("recovered interrupted tasks", "count", count)
	}
	return count, nil
}

// Shutdown stops admitting queued tasks, signals every live process
// and waits for supervision to drain, bounded by ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	close(r.quit)

	r.mu.Lock()
	for _, h := range r.procs {
		if h.process != nil {
			h.process.Signal(syscall.SIGTERM)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) register(taskID string, h *procHandle) {
	r.mu.Lock()
	r.procs[taskID] = h
	r.mu.Unlock()
}

// release removes the handle from the process table and closes done.
// Must happen before the terminal status is written so cancellation
// never observes a dead handle as live.
func (r *Runner) release(taskID string, h *procHandle) {
	r.mu.Lock()
	delete(r.procs, taskID)
	r.mu.Unlock()
	close(h.done)
}

func (r *Runner) finish(taskID string, status store.TaskStatus, message *string) {
	ok, err := r.states.FinishTask(context.Background(), taskID, status, message)
	if err != nil {
		r.log.Error("failed to record terminal status", "task_id", taskID, "status", status, "error", err)
		return
	}
	if !ok {
		// A concurrent cancellation won the terminal write.
		r.log.Debug("terminal status already set", "task_id", taskID, "attempted", string(status))
	}
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
