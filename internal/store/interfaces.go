package store

import "context"

// ScriptStore manages registered scripts.
type ScriptStore interface {
	CreateScript(ctx context.Context, script *Script) error
	GetScriptByName(ctx context.Context, name string) (*Script, error)
	GetScriptByID(ctx context.Context, id int64) (*Script, error)
	ListScripts(ctx context.Context) ([]*Script, error)
	DeleteScript(ctx context.Context, name string) error
}

// TaskStore manages task rows and their status transitions. The
// transition methods are compare-and-swap: they only apply when the
// row is still in the expected prior state, and report whether a row
// was updated.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context) ([]*TaskSummary, error)

	// MarkTaskRunning moves a pending task to running and stamps
	// started_at. Returns false if the task was no longer pending.
	MarkTaskRunning(ctx context.Context, id string) (bool, error)

	// FinishTask moves a pending or running task to the given terminal
	// status, recording message and finished_at. Returns false if the
	// task was already terminal.
	FinishTask(ctx context.Context, id string, status TaskStatus, message *string) (bool, error)

	// FailRunningTasks marks every running task failed with the given
	// message. Used on startup to sweep tasks orphaned by a crash.
	FailRunningTasks(ctx context.Context, message string) (int64, error)

	CountTasksByStatus(ctx context.Context, status TaskStatus) (int64, error)
}

// TaskFileStore tracks uploaded input files per task.
type TaskFileStore interface {
	CreateTaskFile(ctx context.Context, file *TaskFile) error
	ListTaskFiles(ctx context.Context, taskID string) ([]*TaskFile, error)
}

// Store is the full persistence surface.
type Store interface {
	ScriptStore
	TaskStore
	TaskFileStore

	Ping(ctx context.Context) error
	Close() error
}
