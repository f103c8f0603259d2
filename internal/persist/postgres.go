package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Internal variables for testing
var (
	sqlOpen = sql.Open
)

// FileLister is implemented by stores that can read project files back.
type FileLister interface {
	Files(ctx context.Context, projectID string) ([]File, error)
}

// Postgres is a Store backed by PostgreSQL through lib/pq.
type Postgres struct {
	DB  *sql.DB
	now func() time.Time
}

// NewPostgres wraps an open database.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db, now: time.Now}
}

// ConnectPostgres opens dsn and verifies it with a ping.
func ConnectPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("persist: DATABASE_URL is empty")
	}
	db, err := sqlOpen("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return NewPostgres(db), nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS project_files (
		project_id TEXT NOT NULL,
		path       TEXT NOT NULL,
		content    TEXT NOT NULL,
		language   TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (project_id, path)
	)`,
	`CREATE TABLE IF NOT EXISTS project_messages (
		id         BIGSERIAL PRIMARY KEY,
		project_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS generation_history (
		id              UUID PRIMARY KEY,
		project_id      TEXT NOT NULL,
		mode            TEXT NOT NULL,
		input_prompt    TEXT NOT NULL,
		output          TEXT NOT NULL,
		files_generated TEXT[] NOT NULL DEFAULT '{}',
		status          TEXT NOT NULL,
		duration_ms     BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("persist: ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) UpsertFile(ctx context.Context, projectID, path, content, language string) error {
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO project_files (project_id, path, content, language, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, path) DO UPDATE
		SET content = EXCLUDED.content, language = EXCLUDED.language, updated_at = EXCLUDED.updated_at`,
		projectID, path, content, language, p.now().UTC())
	if err != nil {
		return fmt.Errorf("persist: upsert file %s: %w", path, err)
	}
	return nil
}

func (p *Postgres) DeleteFile(ctx context.Context, projectID, path string) error {
	_, err := p.DB.ExecContext(ctx,
		"DELETE FROM project_files WHERE project_id = $1 AND path = $2", projectID, path)
	if err != nil {
		return fmt.Errorf("persist: delete file %s: %w", path, err)
	}
	return nil
}

func (p *Postgres) AppendMessage(ctx context.Context, projectID, role, content string) error {
	_, err := p.DB.ExecContext(ctx,
		"INSERT INTO project_messages (project_id, role, content, created_at) VALUES ($1, $2, $3, $4)",
		projectID, role, content, p.now().UTC())
	if err != nil {
		return fmt.Errorf("persist: append message: %w", err)
	}
	return nil
}

func (p *Postgres) AppendGenerationHistory(ctx context.Context, rec HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = p.now().UTC()
	}
	files := rec.FilesGenerated
	if files == nil {
		files = []string{}
	}
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO generation_history
			(id, project_id, mode, input_prompt, output, files_generated, status, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.ProjectID, rec.Mode, rec.InputPrompt, rec.Output,
		pq.Array(files), rec.Status, rec.DurationMS, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("persist: append history: %w", err)
	}
	return nil
}

// Files returns the stored files of a project sorted by path.
func (p *Postgres) Files(ctx context.Context, projectID string) ([]File, error) {
	rows, err := p.DB.QueryContext(ctx,
		"SELECT path, content, language FROM project_files WHERE project_id = $1 ORDER BY path", projectID)
	if err != nil {
		return nil, fmt.Errorf("persist: list files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Content, &f.Language); err != nil {
			return nil, fmt.Errorf("persist: scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Ping checks the connection for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// Close closes the database.
func (p *Postgres) Close() error {
	return p.DB.Close()
}
