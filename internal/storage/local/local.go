// Package local stores files in a directory on the local disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/storage"
)

var _ storage.FileStore = (*Store)(nil)

type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local: creating %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir is the root directory, for serving files over HTTP.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data under name. The file appears atomically: readers see
// either nothing or the whole file.
func (s *Store) Save(_ context.Context, name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("local: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("local: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("local: closing %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("local: renaming %s: %w", name, err)
	}
	return nil
}

func (s *Store) Open(_ context.Context, name string) (io.ReadCloser, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperror.NotFound("file", name)
		}
		return nil, fmt.Errorf("local: opening %s: %w", name, err)
	}
	return f, nil
}

func (s *Store) Remove(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperror.NotFound("file", name)
		}
		return fmt.Errorf("local: removing %s: %w", name, err)
	}
	return nil
}

// path resolves name inside the root, rejecting anything that could escape it.
func (s *Store) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", apperror.ValidationFailed("filename", "invalid file name")
	}
	return filepath.Join(s.dir, name), nil
}
