package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage reads and writes JSON documents under a data directory.
type Storage struct {
	dir string
	mu  sync.Mutex
}

func NewStorage(dir string) *Storage {
	return &Storage{dir: dir}
}

func (s *Storage) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Read decodes name into v. A missing file leaves v untouched and is not an error.
func (s *Storage) Read(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(name)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("failed to decode json from %s: %w", path, err)
	}
	return nil
}

// Write replaces name atomically through a temp file in the same directory.
func (s *Storage) Write(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", s.dir, err)
	}
	path := s.Path(name)
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode json to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func (s *Storage) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.Path(name))
	return !os.IsNotExist(err)
}
