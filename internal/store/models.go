package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations. Callers use
// errors.Is to map them onto API responses.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal tasks never
// transition again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Script is a registered executable. The file itself lives under the
// scripts directory; Path is relative to the base directory.
type Script struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Task is one submitted run of a script.
type Task struct {
	ID          string          `json:"id"`
	ScriptID    int64           `json:"script_id"`
	ScriptName  string          `json:"script_name"`
	Status      TaskStatus      `json:"status"`
	Args        json.RawMessage `json:"args"`
	Message     *string         `json:"message,omitempty"`
	Description *string         `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// TaskFile records one uploaded input file for a task. FileUUID is the
// on-disk name under the task's files directory; Filename is what the
// client called it.
type TaskFile struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Filename  string    `json:"filename"`
	FileUUID  string    `json:"file_uuid"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskSummary is the condensed row returned by list queries.
type TaskSummary struct {
	ID          string     `json:"id"`
	ScriptName  string     `json:"script_name"`
	Status      TaskStatus `json:"status"`
	Description *string    `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
