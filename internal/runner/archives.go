package runner

import "path/filepath"

// MetadataArchive builds (or rebuilds) the zip of a task's metadata
// directory and returns the archive path. workspace.ErrNotFound is
// returned when the task has no metadata directory.
func (r *Runner) MetadataArchive(taskID string) (string, error) {
	path := filepath.Join(r.ws.JobDir(taskID), taskID+"_metadata.zip")
	if err := r.ws.BuildArchive(r.ws.MetadataDir(taskID), path); err != nil {
		return "", err
	}
	return path, nil
}

// ResultArchive builds (or rebuilds) the zip of a task's output
// directory and returns the archive path.
func (r *Runner) ResultArchive(taskID string) (string, error) {
	path := filepath.Join(r.ws.JobDir(taskID), taskID+"_result.zip")
	if err := r.ws.BuildArchive(r.ws.OutputDir(taskID), path); err != nil {
		return "", err
	}
	return path, nil
}
