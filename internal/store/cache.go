package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCache implements the shared cache tier. Expired rows read as missing
// and are left for RunRetention.
func (s *Store) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM cache_entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)",
		key, s.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, true, nil
}

// SetCache stores value under key. A zero ttl never expires.
func (s *Store) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expires := sql.NullInt64{}
	if ttl > 0 {
		expires = sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)",
		key, value, now.UnixMilli(), expires)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}
