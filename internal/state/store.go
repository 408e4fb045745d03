// Package state persists the engine's snapshot document through a narrow
// store abstraction. The default implementation is a file written atomically
// via temp-file rename; an embedded or remote document store can be
// substituted behind the same interface.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Load when no document has been saved yet.
var ErrNotFound = errors.New("state: no document")

// DocumentStore saves and loads one structured document.
type DocumentStore interface {
	Save(ctx context.Context, doc any) error
	Load(ctx context.Context, into any) error
}

// FileStore is a file-backed DocumentStore. Writes go to a temp file in the
// same directory followed by a rename, so readers never observe a torn
// document.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path, creating parent directories.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: create dir for %q: %w", path, err)
	}
	return &FileStore{path: path}, nil
}

// Save marshals doc to JSON and atomically replaces the document file.
func (s *FileStore) Save(ctx context.Context, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("state: rename into place: %w", err)
	}
	return nil
}

// Load unmarshals the document file into into. A missing file returns
// ErrNotFound and a corrupt file returns a parse error; callers fall back
// to defaults in both cases.
func (s *FileStore) Load(ctx context.Context, into any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("state: read %q: %w", s.path, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("state: parse %q: %w", s.path, err)
	}
	return nil
}
