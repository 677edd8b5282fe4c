package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cubqueue/internal/store"
)

// CreateTask inserts a new task row in the pending state.
func (s *Store) CreateTask(ctx context.Context, task *store.Task) error {
	query := `
		INSERT INTO tasks (id, script_id, script_name, status, args, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if task.Status == "" {
		task.Status = store.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	args := task.Args
	if len(args) == 0 {
		args = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.ScriptID,
		task.ScriptName,
		task.Status,
		string(args),
		task.Description,
		task.CreatedAt,
	)
	return mapError(err)
}

func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	query := `
		SELECT id, script_id, script_name, status, args, message, description,
		       created_at, started_at, finished_at
		FROM tasks WHERE id = ?
	`

	var task store.Task
	var scriptID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&task.ID, &scriptID, &task.ScriptName, &task.Status, &task.Args,
		&task.Message, &task.Description,
		&task.CreatedAt, &task.StartedAt, &task.FinishedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	task.ScriptID = scriptID.Int64

	return &task, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]*store.TaskSummary, error) {
	query := `
		SELECT id, script_name, status, description, created_at
		FROM tasks ORDER BY created_at DESC, id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*store.TaskSummary
	for rows.Next() {
		var task store.TaskSummary
		if err := rows.Scan(
			&task.ID, &task.ScriptName, &task.Status,
			&task.Description, &task.CreatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

// MarkTaskRunning moves a pending task to running and stamps
// started_at. The WHERE clause makes the transition a compare-and-set:
// a task cancelled while queued stays cancelled and this reports false.
func (s *Store) MarkTaskRunning(ctx context.Context, id string) (bool, error) {
	query := "UPDATE tasks SET status = 'running', started_at = ? WHERE id = ? AND status = 'pending'"

	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// FinishTask moves a pending or running task to the given terminal
// status. Exactly one terminal writer wins; a lost race reports false
// and leaves the earlier terminal state untouched.
func (s *Store) FinishTask(ctx context.Context, id string, status store.TaskStatus, message *string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("cannot finish task with non-terminal status %q", status)
	}

	query := `
		UPDATE tasks SET status = ?, message = ?, finished_at = ?
		WHERE id = ? AND status IN ('pending', 'running')
	`

	res, err := s.db.ExecContext(ctx, query, status, message, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// FailRunningTasks marks every running task failed with the given
// message. Called once at startup to sweep tasks orphaned by a crash
// or restart.
func (s *Store) FailRunningTasks(ctx context.Context, message string) (int64, error) {
	query := "UPDATE tasks SET status = 'failed', message = ?, finished_at = ? WHERE status = 'running'"

	res, err := s.db.ExecContext(ctx, query, message, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (s *Store) CountTasksByStatus(ctx context.Context, status store.TaskStatus) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE status = ?", status).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}
