package store

import (
	"context"
	"fmt"
	"time"
)

// HistoryRetention is how long generation history is kept.
const HistoryRetention = 90 * 24 * time.Hour

// RunRetention cleans up old data according to retention policies
func (s *Store) RunRetention(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?",
		now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	expired, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		"DELETE FROM generation_history WHERE created_at < ?",
		now.Add(-HistoryRetention).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete old history: %w", err)
	}
	old, _ := res.RowsAffected()

	s.logger.Debug().Int64("cache_entries", expired).Int64("history", old).Msg("retention pass complete")
	return nil
}

// StartRetention runs RunRetention every interval until ctx is done.
func (s *Store) StartRetention(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunRetention(ctx); err != nil {
					s.logger.Warn().Err(err).Msg("retention failed")
				}
			}
		}
	}()
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	// Get page count
	err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}

	// Get page size
	err = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
