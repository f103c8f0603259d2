package store

import (
	"context"
	"fmt"

	"github.com/p-blackswan/appforge/internal/persist"
)

// UpsertFile saves a generated file. The (project, path) pair is unique and
// the last write wins.
func (s *Store) UpsertFile(ctx context.Context, projectID, path, content, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO project_files (project_id, path, content, language, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(project_id, path) DO UPDATE SET
		content = excluded.content,
		language = excluded.language,
		updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, projectID, path, content, language, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes a file. Deleting a missing file is not an error.
func (s *Store) DeleteFile(ctx context.Context, projectID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM project_files WHERE project_id = ? AND path = ?", projectID, path); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// Files returns the stored files of a project sorted by path.
func (s *Store) Files(ctx context.Context, projectID string) ([]persist.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT path, content, language FROM project_files WHERE project_id = ? ORDER BY path", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	files := []persist.File{}
	for rows.Next() {
		var f persist.File
		if err := rows.Scan(&f.Path, &f.Content, &f.Language); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
