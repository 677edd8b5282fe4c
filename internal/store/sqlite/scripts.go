package sqlite

import (
	"context"
	"time"

	"cubqueue/internal/store"
)

// CreateScript inserts a new script row and fills in the generated ID.
func (s *Store) CreateScript(ctx context.Context, script *store.Script) error {
	query := `
		INSERT INTO scripts (name, description, path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if script.CreatedAt.IsZero() {
		script.CreatedAt = now
	}
	script.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, query,
		script.Name,
		script.Description,
		script.Path,
		script.CreatedAt,
		script.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	script.ID = id

	return nil
}

func (s *Store) GetScriptByName(ctx context.Context, name string) (*store.Script, error) {
	query := "SELECT id, name, description, path, created_at, updated_at FROM scripts WHERE name = ?"

	var script store.Script

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&script.ID, &script.Name, &script.Description,
		&script.Path, &script.CreatedAt, &script.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	return &script, nil
}

func (s *Store) GetScriptByID(ctx context.Context, id int64) (*store.Script, error) {
	query := "SELECT id, name, description, path, created_at, updated_at FROM scripts WHERE id = ?"

	var script store.Script

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&script.ID, &script.Name, &script.Description,
		&script.Path, &script.CreatedAt, &script.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	return &script, nil
}

func (s *Store) ListScripts(ctx context.Context) ([]*store.Script, error) {
	query := "SELECT id, name, description, path, created_at, updated_at FROM scripts ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []*store.Script
	for rows.Next() {
		var script store.Script
		if err := rows.Scan(
			&script.ID, &script.Name, &script.Description,
			&script.Path, &script.CreatedAt, &script.UpdatedAt,
		); err != nil {
			return nil, err
		}
		scripts = append(scripts, &script)
	}

	return scripts, rows.Err()
}

// DeleteScript removes the script row. Tasks that reference it keep
// their denormalized script_name; the foreign key goes NULL.
func (s *Store) DeleteScript(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scripts WHERE name = ?", name)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return nil
}
