package runner

import (
	"errors"
	"os"
	"strings"
)

// TaskLog returns the last lines of a task's combined output log.
// lines <= 0 returns the whole log; a log that does not exist yet
// reads as empty.
func (r *Runner) TaskLog(taskID string, lines int) (string, error) {
	data, err := os.ReadFile(r.ws.LogPath(taskID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	return tailLines(string(data), lines), nil
}

// tailLines keeps the last n newline-delimited lines of s, preserving
// a trailing newline if s had one.
func tailLines(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}

	trimmed := strings.TrimSuffix(s, "\n")
	parts := strings.Split(trimmed, "\n")
	if len(parts) <= n {
		return s
	}

	out := strings.Join(parts[len(parts)-n:], "\n")
	if strings.HasSuffix(s, "\n") {
		out += "\n"
	}
	return out
}
