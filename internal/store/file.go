package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/brewkit/lmctl/internal/domain"
)

const defaultFileName = ".lmctl.yml"

// FileStore keeps credentials in a YAML file, by default ~/.lmctl.yml.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns the standard credentials file location in the user's
// home directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: determine home directory: %w", err)
	}
	return filepath.Join(home, defaultFileName), nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (*domain.Credentials, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	var creds domain.Credentials
	if err := yaml.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &creds, nil
}

// Save writes the credentials with an atomic replace: serialize to a temp
// file in the target directory, then rename over the destination. An
// interrupted save leaves the previous file intact.
func (s *FileStore) Save(creds *domain.Credentials) error {
	out, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("store: serialize credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, defaultFileName+".*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("store: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		cleanup()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove %s: %w", s.path, err)
	}
	return nil
}
