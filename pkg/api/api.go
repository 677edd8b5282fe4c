// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the server.
package api

import "time"

// Multipart form field names for POST /api/script.
const (
	FormScriptName = "name"
	FormScriptDesc = "desc"
	FormScriptFile = "script"
)

// Multipart form field names for POST /api/task.
const (
	FormTaskScript      = "script_name"
	FormTaskArgFile     = "arg_file"
	FormTaskFiles       = "files"
	FormTaskDescription = "description"
)

// ScriptResponse represents a registered script in API responses.
type ScriptResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskResponse is the summary view of a task, returned by submission and listing.
type TaskResponse struct {
	ID          string    `json:"id"`
	ScriptName  string    `json:"script_name"`
	Status      string    `json:"status"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskStatusResponse is the detailed view of a single task.
type TaskStatusResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Message     *string    `json:"message,omitempty"`
	Description *string    `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// LogResponse is the response body for task log queries.
type LogResponse struct {
	Log string `json:"log"`
}

// MessageResponse is a generic confirmation response.
type MessageResponse struct {
	Message string `json:"message"`
}

// UsageResponse reports disk consumption of the workspace tree.
type UsageResponse struct {
	ScriptsBytes int64 `json:"scripts_bytes"`
	JobsBytes    int64 `json:"jobs_bytes"`
	TotalBytes   int64 `json:"total_bytes"`
	ScriptsCount int   `json:"scripts_count"`
	JobsCount    int   `json:"jobs_count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// IsTerminalStatus reports whether a task status string names a state
// the task can never leave.
func IsTerminalStatus(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}
