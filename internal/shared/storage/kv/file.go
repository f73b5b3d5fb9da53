package kv

import (
	"os"
	"path/filepath"
	"strings"

	"cvplus-backend/internal/shared/telemetry"
	"cvplus-backend/internal/shared/util"
)

// FileStore is a Store backed by one file per key under a base directory.
// It survives process restarts, giving the local cache the same durability
// the browser's device-scoped storage has across reloads.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// Get returns the value for key.
func (s *FileStore) Get(key string) ([]byte, bool) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores value under key.
func (s *FileStore) Set(key string, value []byte) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}
	// Write-then-rename so a crashed write never leaves a truncated record.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Delete removes key.
func (s *FileStore) Delete(key string) {
	path, err := s.keyPath(key)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		telemetry.Warn("kv.delete_failed", map[string]any{"key": key, "error": err.Error()})
	}
}

// ListKeys returns keys beginning with prefix.
func (s *FileStore) ListKeys(prefix string) []string {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".tmp") {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
		}
	}
	return keys
}

func (s *FileStore) keyPath(key string) (string, error) {
	name, err := util.SanitizeFileName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, name), nil
}
