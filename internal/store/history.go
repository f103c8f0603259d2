package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/p-blackswan/appforge/internal/persist"
)

// AppendMessage records a chat message.
func (s *Store) AppendMessage(ctx context.Context, projectID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO project_messages (project_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		projectID, role, content, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Messages returns the last limit messages of a project, oldest first. A
// limit of zero returns all of them.
func (s *Store) Messages(ctx context.Context, projectID string, limit int) ([]persist.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	query := `
	SELECT role, content FROM (
		SELECT id, role, content FROM project_messages
		WHERE project_id = ?
		ORDER BY id DESC
		LIMIT ?
	) ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	msgs := []persist.Message{}
	for rows.Next() {
		var m persist.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendGenerationHistory records a finished generation run.
func (s *Store) AppendGenerationHistory(ctx context.Context, rec persist.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	files := rec.FilesGenerated
	if files == nil {
		files = []string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("failed to encode files: %w", err)
	}

	query := `
	INSERT INTO generation_history (
		id, project_id, mode, input_prompt, output, files_generated, status, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.ProjectID, rec.Mode, rec.InputPrompt, rec.Output,
		string(filesJSON), rec.Status, rec.DurationMS, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// History returns the generation runs of a project, newest first.
func (s *Store) History(ctx context.Context, projectID string, limit int) ([]persist.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	query := `
	SELECT id, project_id, mode, input_prompt, output, files_generated, status, duration_ms, created_at
	FROM generation_history
	WHERE project_id = ?
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var out []persist.HistoryRecord
	for rows.Next() {
		var (
			rec       persist.HistoryRecord
			filesJSON string
			created   int64
		)
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.Mode, &rec.InputPrompt, &rec.Output,
			&filesJSON, &rec.Status, &rec.DurationMS, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &rec.FilesGenerated); err != nil {
			s.logger.Warn().Err(err).Str("id", rec.ID).Msg("history row has unreadable file list")
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
