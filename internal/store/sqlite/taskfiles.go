package sqlite

import (
	"context"
	"time"

	"cubqueue/internal/store"
)

// CreateTaskFile records one staged upload for a task.
func (s *Store) CreateTaskFile(ctx context.Context, file *store.TaskFile) error {
	query := `
		INSERT INTO task_files (task_id, filename, file_uuid, file_size, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, query,
		file.TaskID,
		file.Filename,
		file.FileUUID,
		file.FileSize,
		file.CreatedAt,
	)
	if err != nil {
		return mapError(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	file.ID = id

	return nil
}

// ListTaskFiles returns a task's staged uploads in upload order.
func (s *Store) ListTaskFiles(ctx context.Context, taskID string) ([]*store.TaskFile, error) {
	query := `
		SELECT id, task_id, filename, file_uuid, file_size, created_at
		FROM task_files WHERE task_id = ? ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*store.TaskFile
	for rows.Next() {
		var file store.TaskFile
		if err := rows.Scan(
			&file.ID, &file.TaskID, &file.Filename,
			&file.FileUUID, &file.FileSize, &file.CreatedAt,
		); err != nil {
			return nil, err
		}
		files = append(files, &file)
	}

	return files, rows.Err()
}
