// Package workspace manages the on-disk tree of registered scripts and
// per-job directories.
//
// Layout under the base directory:
//
//	scripts/<name>.<ext>          script source
//	scripts/<name>.txt            script description
//	jobs/<id>/files/<token>       staged input content
//	jobs/<id>/files/<token>.name  original filename
//	jobs/<id>/arg_file.json       resolved parameter document
//	jobs/<id>/log.txt             combined stdout+stderr
//	jobs/<id>/metadata/           intermediate artifacts
//	jobs/<id>/output/             final artifacts
package workspace

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested script or job directory does
// not exist on disk.
var ErrNotFound = errors.New("not found")

const (
	scriptsDirName = "scripts"
	jobsDirName    = "jobs"

	filesDirName    = "files"
	metadataDirName = "metadata"
	outputDirName   = "output"

	argFileName = "arg_file.json"
	logFileName = "log.txt"

	descriptionExt = ".txt"
	filenameExt    = ".name"
)

// Store owns the workspace tree rooted at a base directory.
type Store struct {
	base       string
	scriptExts map[string]bool
	log        *slog.Logger
}

// New creates the scripts and jobs directories under base if they do
// not exist. scriptExts lists the file extensions that count as script
// sources when reporting usage.
func New(base string, scriptExts []string, log *slog.Logger) (*Store, error) {
	s := &Store{
		base:       base,
		scriptExts: make(map[string]bool, len(scriptExts)),
		log:        log,
	}
	for _, ext := range scriptExts {
		s.scriptExts[ext] = true
	}

	for _, dir := range []string{s.ScriptsDir(), s.JobsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}

	return s, nil
}

// ScriptsDir returns the directory holding registered script sources.
func (s *Store) ScriptsDir() string {
	return filepath.Join(s.base, scriptsDirName)
}

// JobsDir returns the directory holding per-job workspaces.
func (s *Store) JobsDir() string {
	return filepath.Join(s.base, jobsDirName)
}

// ScriptPath returns where the source of a script with the given
// extension lives.
func (s *Store) ScriptPath(name, ext string) string {
	return filepath.Join(s.ScriptsDir(), name+ext)
}

// SaveScript writes the script source and its description sidecar,
// overwriting existing files. Name uniqueness is the metadata store's
// concern, not this layer's.
func (s *Store) SaveScript(name, ext string, src io.Reader, description string) (string, error) {
	path := s.ScriptPath(name, ext)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return "", fmt.Errorf("failed to write script: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write script: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write script: %w", err)
	}

	descPath := filepath.Join(s.ScriptsDir(), name+descriptionExt)
	if err := os.WriteFile(descPath, []byte(description), 0o644); err != nil {
		return "", fmt.Errorf("failed to write script description: %w", err)
	}

	return path, nil
}

// DeleteScript removes the script source and its description sidecar.
// Files already gone are not an error.
func (s *Store) DeleteScript(name, ext string) error {
	for _, path := range []string{
		s.ScriptPath(name, ext),
		filepath.Join(s.ScriptsDir(), name+descriptionExt),
	} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete script: %w", err)
		}
	}
	return nil
}

// ScriptDescription reads the description sidecar. A missing sidecar
// reads as empty.
func (s *Store) ScriptDescription(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.ScriptsDir(), name+descriptionExt))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// JobDir returns the workspace directory of a job.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.JobsDir(), jobID)
}

// FilesDir returns the staged-input directory of a job.
func (s *Store) FilesDir(jobID string) string {
	return filepath.Join(s.JobDir(jobID), filesDirName)
}

// MetadataDir returns the intermediate-artifact directory of a job.
func (s *Store) MetadataDir(jobID string) string {
	return filepath.Join(s.JobDir(jobID), metadataDirName)
}

// OutputDir returns the final-artifact directory of a job.
func (s *Store) OutputDir(jobID string) string {
	return filepath.Join(s.JobDir(jobID), outputDirName)
}

// LogPath returns the combined stdout+stderr log file of a job.
func (s *Store) LogPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), logFileName)
}

// ArgFilePath returns the resolved parameter document of a job.
func (s *Store) ArgFilePath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), argFileName)
}

// StagedFilePath returns where a staged upload's content lives.
func (s *Store) StagedFilePath(jobID, token string) string {
	return filepath.Join(s.FilesDir(jobID), token)
}

// CreateJobDir creates the job directory and its files, metadata and
// output subdirectories. Idempotent.
func (s *Store) CreateJobDir(jobID string) (string, error) {
	dir := s.JobDir(jobID)
	for _, d := range []string{
		dir,
		filepath.Join(dir, filesDirName),
		filepath.Join(dir, metadataDirName),
		filepath.Join(dir, outputDirName),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("failed to create job directory: %w", err)
		}
	}
	return dir, nil
}

// DeleteJobDir removes a job's entire workspace.
func (s *Store) DeleteJobDir(jobID string) error {
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return fmt.Errorf("failed to delete job directory: %w", err)
	}
	return nil
}

// StageFile stores one uploaded input under a fresh token and records
// the original filename in a sidecar. Returns the token and the number
// of bytes written.
func (s *Store) StageFile(jobID, filename string, content io.Reader) (string, int64, error) {
	filesDir := s.FilesDir(jobID)
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create files directory: %w", err)
	}

	token := uuid.New().String()
	path := filepath.Join(filesDir, token)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to stage file: %w", err)
	}
	size, err := io.Copy(f, content)
	if err != nil {
		f.Close()
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to stage file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to stage file: %w", err)
	}

	if err := os.WriteFile(path+filenameExt, []byte(filename), 0o644); err != nil {
		return "", 0, fmt.Errorf("failed to record filename: %w", err)
	}

	return token, size, nil
}

// StagedFileName reads back the original filename of a staged upload.
func (s *Store) StagedFileName(jobID, token string) (string, error) {
	data, err := os.ReadFile(s.StagedFilePath(jobID, token) + filenameExt)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}
