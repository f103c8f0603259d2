package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS project_files (
		project_id TEXT NOT NULL,
		path       TEXT NOT NULL,
		content    TEXT NOT NULL,
		language   TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (project_id, path)
	);

	CREATE TABLE IF NOT EXISTS project_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_project ON project_messages(project_id, id);

	CREATE TABLE IF NOT EXISTS generation_history (
		id              TEXT PRIMARY KEY,
		project_id      TEXT NOT NULL,
		mode            TEXT NOT NULL,
		input_prompt    TEXT NOT NULL,
		output          TEXT NOT NULL,
		files_generated TEXT NOT NULL DEFAULT '[]',
		status          TEXT NOT NULL,
		duration_ms     INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_project ON generation_history(project_id, created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() (string, error) {
	var version string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
