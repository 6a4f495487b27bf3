package caching

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store is a key-value store for stage outputs. A key that is present is
// never recomputed; staleness is the caller's problem.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, data []byte) error
}

// FileStore keeps each key as a file under a directory. The key is the file
// name, so stage outputs stay readable and can be edited or deleted by hand.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore rooted at path.
// The directory will be created if it doesn't exist.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.path, key)
}

// Get returns the stored bytes and true if the file exists.
func (s *FileStore) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	return data, true, nil
}

// Set writes data to the file for key.
func (s *FileStore) Set(key string, data []byte) error {
	if err := os.WriteFile(s.Path(key), data, 0644); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

// GetOrCompute returns the value stored under key, decoding it unchanged,
// or runs compute, stores its result as indented JSON and returns it.
// hit reports whether compute was skipped.
func GetOrCompute[T any](store Store, key string, compute func() (T, error)) (value T, hit bool, err error) {
	data, found, err := store.Get(key)
	if err != nil {
		return value, false, err
	}
	if found {
		if err := json.Unmarshal(data, &value); err != nil {
			return value, true, fmt.Errorf("failed to decode cached %s: %w", key, err)
		}
		return value, true, nil
	}

	value, err = compute()
	if err != nil {
		return value, false, err
	}

	data, err = json.MarshalIndent(value, "", "    ")
	if err != nil {
		return value, false, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := store.Set(key, data); err != nil {
		return value, false, err
	}
	return value, false, nil
}
