package cmd

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cubqueue/pkg/api"
)

// QueueClient handles API calls to the cubqueue server.
type QueueClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewQueueClient creates a new client for the given base URL.
func NewQueueClient(baseURL string) *QueueClient {
	return &QueueClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// apiError turns a non-2xx response into an *APIError, preferring the
// server's structured error message over the raw body.
func apiError(statusCode int, body []byte) *APIError {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{StatusCode: statusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: statusCode, Message: string(body)}
}

// RegisterScript sends POST /api/script with the script file and its
// metadata as a multipart form.
func (c *QueueClient) RegisterScript(name, description, scriptPath string) (*api.ScriptResponse, error) {
	f, err := os.Open(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField(api.FormScriptName, name); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if err := mw.WriteField(api.FormScriptDesc, description); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	part, err := mw.CreateFormFile(api.FormScriptFile, filepath.Base(scriptPath))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/script", c.BaseURL), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result api.ScriptResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// ListScripts sends GET /api/script to retrieve all registered scripts.
func (c *QueueClient) ListScripts() ([]api.ScriptResponse, error) {
	resp, err := c.HTTPClient.Get(fmt.Sprintf("%s/api/script", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result []api.ScriptResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return result, nil
}

// DeleteScript sends DELETE /api/script/{name} to remove a script.
func (c *QueueClient) DeleteScript(name string) error {
	endpoint := fmt.Sprintf("%s/api/script/%s", c.BaseURL, url.PathEscape(name))
	httpReq, err := http.NewRequest(http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, respBody)
	}

	return nil
}

// SubmitTask sends POST /api/task with the parameter document and any
// input files as a multipart form. Input files are referenced from the
// document with <file1>, <file2>, ... in the order given here.
func (c *QueueClient) SubmitTask(scriptName, argFilePath string, filePaths []string, description string) (*api.TaskResponse, error) {
	argFile, err := os.Open(argFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open arg file: %w", err)
	}
	defer argFile.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField(api.FormTaskScript, scriptName); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if description != "" {
		if err := mw.WriteField(api.FormTaskDescription, description); err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
	}

	part, err := mw.CreateFormFile(api.FormTaskArgFile, filepath.Base(argFilePath))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := io.Copy(part, argFile); err != nil {
		return nil, fmt.Errorf("failed to read arg file: %w", err)
	}

	for _, path := range filePaths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		part, err := mw.CreateFormFile(api.FormTaskFiles, filepath.Base(path))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		f.Close()
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/task", c.BaseURL), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result api.TaskResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// ListTasks sends GET /api/task to retrieve all submitted tasks.
func (c *QueueClient) ListTasks() ([]api.TaskResponse, error) {
	resp, err := c.HTTPClient.Get(fmt.Sprintf("%s/api/task", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result []api.TaskResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return result, nil
}

// GetTaskStatus sends GET /api/task/{id} to retrieve task details.
func (c *QueueClient) GetTaskStatus(taskID string) (*api.TaskStatusResponse, error) {
	endpoint := fmt.Sprintf("%s/api/task/%s", c.BaseURL, url.PathEscape(taskID))
	resp, err := c.HTTPClient.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result api.TaskStatusResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// GetTaskLog sends GET /api/task/{id}/log. lines=0 fetches the whole log.
func (c *QueueClient) GetTaskLog(taskID string, lines int) (string, error) {
	endpoint := fmt.Sprintf("%s/api/task/%s/log?lines=%d", c.BaseURL, url.PathEscape(taskID), lines)
	resp, err := c.HTTPClient.Get(endpoint)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, respBody)
	}

	var result api.LogResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	return result.Log, nil
}

// CancelTask sends DELETE /api/task/{id} to cancel a task.
func (c *QueueClient) CancelTask(taskID string) error {
	endpoint := fmt.Sprintf("%s/api/task/%s", c.BaseURL, url.PathEscape(taskID))
	httpReq, err := http.NewRequest(http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, respBody)
	}

	return nil
}

// DownloadMetadata fetches the intermediate-artifact archive of a task
// and unpacks it under outputDir. Returns the extraction directory.
func (c *QueueClient) DownloadMetadata(taskID, outputDir string) (string, error) {
	return c.downloadArchive(taskID, "metadata", outputDir)
}

// DownloadResult fetches the final-artifact archive of a task and
// unpacks it under outputDir. Returns the extraction directory.
func (c *QueueClient) DownloadResult(taskID, outputDir string) (string, error) {
	return c.downloadArchive(taskID, "result", outputDir)
}

// downloadArchive saves the zip to outputDir, extracts it into
// <task-id>_<kind>/ next to it, and removes the zip.
func (c *QueueClient) downloadArchive(taskID, kind, outputDir string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/task/%s/%s", c.BaseURL, url.PathEscape(taskID), kind)
	resp, err := c.HTTPClient.Get(endpoint)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", apiError(resp.StatusCode, respBody)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	zipPath := filepath.Join(outputDir, fmt.Sprintf("%s_%s.zip", taskID, kind))
	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to save archive: %w", err)
	}
	if _, err := io.Copy(zipFile, resp.Body); err != nil {
		zipFile.Close()
		os.Remove(zipPath)
		return "", fmt.Errorf("failed to save archive: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return "", fmt.Errorf("failed to save archive: %w", err)
	}

	extractDir := filepath.Join(outputDir, fmt.Sprintf("%s_%s", taskID, kind))
	if err := extractZip(zipPath, extractDir); err != nil {
		return "", fmt.Errorf("failed to extract archive: %w", err)
	}

	os.Remove(zipPath)

	return extractDir, nil
}

// extractZip unpacks archivePath into destDir, refusing entries that
// would escape it.
func extractZip(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes extraction directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			src.Close()
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			src.Close()
			return err
		}
		dst.Close()
		src.Close()
	}

	return nil
}

// Usage sends GET /api/usage to retrieve workspace disk consumption.
func (c *QueueClient) Usage() (*api.UsageResponse, error) {
	resp, err := c.HTTPClient.Get(fmt.Sprintf("%s/api/usage", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result api.UsageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// WaitForTask polls the task status until it reaches a terminal state
// or timeout elapses.
func (c *QueueClient) WaitForTask(taskID string, timeout, interval time.Duration) (*api.TaskStatusResponse, error) {
	deadline := time.Now().Add(timeout)

	for {
		status, err := c.GetTaskStatus(taskID)
		if err != nil {
			return nil, err
		}
		if api.IsTerminalStatus(status.Status) {
			return status, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("task %s did not finish within %s", taskID, timeout)
		}
		time.Sleep(interval)
	}
}

// Health reports whether the server answers its health endpoint.
func (c *QueueClient) Health() bool {
	resp, err := c.HTTPClient.Get(fmt.Sprintf("%s/health", c.BaseURL))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
