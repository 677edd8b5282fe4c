package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"cubqueue/pkg/api"
)

func resetLogsFlags() {
	logsCmd.Flags().Set("lines", "100")
	follow = false
}

func TestLogsCommand_Success(t *testing.T) {
	resetViper()
	resetLogsFlags()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/api/task/task-123/log") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("lines"); got != "5" {
			t.Errorf("expected lines=5, got %q", got)
		}
		json.NewEncoder(w).Encode(api.LogResponse{Log: "line1\nline2\n"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"logs", "task-123", "--lines", "5"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "line1") || !strings.Contains(output, "line2") {
		t.Errorf("expected log lines in output, got: %s", output)
	}
}

func TestLogsCommand_NotFound(t *testing.T) {
	resetViper()
	resetLogsFlags()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Task not found"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"logs", "ghost"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "Error (404)") {
		t.Errorf("expected not found error, got: %s", stdout.String())
	}
}

func TestLogsCommand_Follow(t *testing.T) {
	resetViper()
	resetLogsFlags()
	defer func() { follow = false }()

	logCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/log") {
			logCalls++
			if got := r.URL.Query().Get("lines"); got != "0" {
				t.Errorf("expected follow mode to fetch the whole log, got lines=%q", got)
			}
			text := "a\n"
			if logCalls > 1 {
				text = "a\nb\n"
			}
			json.NewEncoder(w).Encode(api.LogResponse{Log: text})
			return
		}

		status := "running"
		if logCalls > 1 {
			status = "completed"
		}
		json.NewEncoder(w).Encode(api.TaskStatusResponse{ID: "task-123", Status: status})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"logs", "task-123", "--follow"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Each chunk printed exactly once despite repeated polling.
	output := stdout.String()
	if output != "a\nb\n" {
		t.Errorf("expected incremental output %q, got %q", "a\nb\n", output)
	}
}
