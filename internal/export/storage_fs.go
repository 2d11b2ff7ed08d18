package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

// validNamePattern allows plain CSV file names only, so no path traversal is
// possible.
var validNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}\.csv$`)

// FSStorage implements Storage using a local directory.
type FSStorage struct {
	basePath string
}

// NewFSStorage creates the directory if needed.
func NewFSStorage(basePath string) (*FSStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}
	return &FSStorage{basePath: basePath}, nil
}

func validateName(name string) error {
	if !validNamePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

func (s *FSStorage) path(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *FSStorage) Save(ctx context.Context, name string, data io.Reader, size int64) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	f, err := os.Create(s.path(name))
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (s *FSStorage) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *FSStorage) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// Path returns where name is stored on disk.
func (s *FSStorage) Path(name string) string {
	return s.path(name)
}
