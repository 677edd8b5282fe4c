package runner

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"cubqueue/internal/store"
)

// CancelTask moves the task to cancelled and stops its process. The
// terminal state is written before any signal is sent, so a natural
// completion racing the cancel can never overwrite it. Cancelling a
// task that is already terminal is a no-op.
func (r *Runner) CancelTask(ctx context.Context, taskID string) error {
	msg := cancelMessage
	ok, err := r.states.FinishTask(ctx, taskID, store.TaskCancelled, &msg)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	if !ok {
		return nil
	}

	r.mu.Lock()
	h := r.procs[taskID]
	var proc *os.Process
	if h != nil {
		h.cancelled = true
		proc = h.process
	}
	r.mu.Unlock()

	if h == nil {
		// Still queued. Admission will see the terminal state and
		// never start it.
		r.log.Info("cancelled queued task", "task_id", taskID)
		return nil
	}

	r.log.Info("cancelling task", "task_id", taskID)
	if proc != nil {
		proc.Signal(syscall.SIGTERM)
	}

	select {
	case <-h.done:
	case <-time.After(r.cfg.CancelGrace):
		r.mu.Lock()
		proc = h.process
		r.mu.Unlock()
		if proc != nil {
			r.log.Warn("task ignored SIGTERM, killing", "task_id", taskID)
			proc.Kill()
		}
		<-h.done
	}

	return nil
}
