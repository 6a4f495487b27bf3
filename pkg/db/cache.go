package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// CacheStore keeps stage outputs in the stage_cache table. It satisfies
// caching.Store, so the pipeline can run without writing stage files.
type CacheStore struct {
	db *DB
}

func (db *DB) CacheStore() *CacheStore {
	return &CacheStore{db: db}
}

func (s *CacheStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM stage_cache WHERE cache_key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	return value, true, nil
}

func (s *CacheStore) Set(key string, data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO stage_cache (cache_key, value) VALUES (?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, data)
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

// Delete removes a cached stage output so the stage runs again.
func (s *CacheStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM stage_cache WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}
