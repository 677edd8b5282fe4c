package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cubqueue/internal/store"
)

// supervise carries one task from admission to its terminal state. It
// runs in its own goroutine; nothing it does is reported to the
// submitter directly, only through the task's status, message and log.
func (r *Runner) supervise(taskID string) {
	defer r.wg.Done()

	select {
	case r.sem <- struct{}{}:
	case <-r.quit:
		return
	}
	defer func() { <-r.sem }()

	select {
	case <-r.quit:
		return
	default:
	}

	// The handle goes into the table before the status transition so
	// that whenever a task is observably running, a canceller finds it.
	h := &procHandle{done: make(chan struct{})}
	r.register(taskID, h)

	ok, err := r.states.MarkTaskRunning(context.Background(), taskID)
	if err != nil {
		r.release(taskID, h)
		r.failTask(taskID, fmt.Sprintf("task failed: %v", err))
		return
	}
	if !ok {
		// The task reached a terminal state while queued.
		r.release(taskID, h)
		return
	}

	r.runTask(taskID, h)
}

func (r *Runner) runTask(taskID string, h *procHandle) {
	tracer := otel.Tracer("task-runner")
	ctx, span := tracer.Start(context.Background(), "run_task",
		trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	jobDir := r.ws.JobDir(taskID)

	scriptName, interpreter, err := r.findScript(jobDir)
	if err != nil {
		span.RecordError(err)
		r.release(taskID, h)
		r.failTask(taskID, fmt.Sprintf("task failed: %v", err))
		return
	}
	span.SetAttributes(attribute.String("task.script", scriptName))

	logFile, err := os.OpenFile(r.ws.LogPath(taskID), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		span.RecordError(err)
		r.release(taskID, h)
		r.failTask(taskID, fmt.Sprintf("task failed: %v", err))
		return
	}

	absDir, err := filepath.Abs(jobDir)
	if err != nil {
		span.RecordError(err)
		logFile.Close()
		r.release(taskID, h)
		r.failTask(taskID, fmt.Sprintf("task failed: %v", err))
		return
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, interpreter, scriptName)
	cmd.Dir = jobDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"CUBQUEUE_TASK_ID="+taskID,
		"CUBQUEUE_TASK_DIR="+absDir,
		"CUBQUEUE_FILES_DIR="+filepath.Join(absDir, "files"),
	)

	if err := cmd.Start(); err != nil {
		span.RecordError(err)
		logFile.Close()
		r.release(taskID, h)
		r.failTask(taskID, fmt.Sprintf("task failed: %v", err))
		return
	}

	r.log.Info("task started", "task_id", taskID, "script", scriptName, "interpreter", interpreter, "pid", cmd.Process.Pid)

	r.mu.Lock()
	h.process = cmd.Process
	cancelled := h.cancelled
	r.mu.Unlock()
	if cancelled {
		// The canceller got here before the process existed; deliver
		// the signal it could not send.
		cmd.Process.Signal(syscall.SIGTERM)
	}

	waitErr := cmd.Wait()
	logFile.Close()

	r.release(taskID, h)

	switch {
	case waitErr == nil:
		span.SetAttributes(attribute.Int("exit_code", 0))
		r.log.Info("task completed", "task_id", taskID)
		r.finish(taskID, store.TaskCompleted, nil)

	case ctx.Err() == context.DeadlineExceeded:
		span.RecordError(ctx.Err())
		msg := fmt.Sprintf("task timed out after %s", r.cfg.Timeout)
		r.log.Warn("task timed out", "task_id", taskID, "timeout", r.cfg.Timeout)
		r.appendLog(taskID, msg)
		r.finish(taskID, store.TaskFailed, &msg)

	default:
		span.RecordError(waitErr)
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			span.SetAttributes(attribute.Int("exit_code", exitErr.ExitCode()))
			msg := fmt.Sprintf("task failed with exit code %d", exitErr.ExitCode())
			r.log.Warn("task failed", "task_id", taskID, "exit_code", exitErr.ExitCode())
			r.finish(taskID, store.TaskFailed, &msg)
			return
		}
		r.failTask(taskID, fmt.Sprintf("task failed: %v", waitErr))
	}
}

// findScript locates the copied script inside the job directory by its
// registered extension.
func (r *Runner) findScript(jobDir string) (string, string, error) {
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		return "", "", err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if interpreter, ok := r.cfg.Interpreters[filepath.Ext(e.Name())]; ok {
			return e.Name(), interpreter, nil
		}
	}

	return "", "", errors.New("no runnable script in job directory")
}

// failTask records a supervision-phase failure: the text goes to both
// the task log and the terminal status message.
func (r *Runner) failTask(taskID, message string) {
	r.log.Error("task supervision failed", "task_id", taskID, "error", message)
	r.appendLog(taskID, message)
	r.finish(taskID, store.TaskFailed, &message)
}

func (r *Runner) appendLog(taskID, line string) {
	f, err := os.OpenFile(r.ws.LogPath(taskID), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		r.log.Error("failed to append to task log", "task_id", taskID, "error", err)
		return
	}
	defer f.Close()

	fmt.Fprintln(f, line)
}
