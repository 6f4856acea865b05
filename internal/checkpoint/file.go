package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"idm-connector/internal/entity"
)

// FileStore keeps one token file per kind under a directory.
type FileStore struct {
	dir    string
	logger *logrus.Logger
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, logger *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(kind entity.Kind) string {
	return filepath.Join(s.dir, string(kind)+".token")
}

func (s *FileStore) Load(_ context.Context, kind entity.Kind) (string, bool, error) {
	data, err := os.ReadFile(s.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	s.logger.Debugf("Loaded %s checkpoint from %s", kind, s.path(kind))
	return tok, true, nil
}

// Save writes through a temp file and rename so a crash never leaves a
// truncated token behind.
func (s *FileStore) Save(_ context.Context, kind entity.Kind, tok string) error {
	tmp, err := os.CreateTemp(s.dir, string(kind)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(tok + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(kind)); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
