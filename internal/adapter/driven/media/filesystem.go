// Package media implements the MediaStore port over a local directory.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MediaStore = (*Store)(nil)

// Store resolves media references as paths relative to a root directory.
// Lookups cannot escape the root, including through symlinks.
type Store struct {
	root *os.Root
	dir  string
}

// NewStore opens dir as the media root. The directory must exist.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving media dir %q: %w", dir, err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("opening media dir %q: %w", abs, err)
	}
	return &Store{root: root, dir: abs}, nil
}

// Dir returns the absolute media root.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the root directory handle.
func (s *Store) Close() error {
	return s.root.Close()
}

// Open returns the media file and its size.
func (s *Store) Open(_ context.Context, ref string) (io.ReadCloser, int64, error) {
	if err := checkRef(ref); err != nil {
		return nil, 0, err
	}

	f, err := s.root.Open(ref)
	if err != nil {
		return nil, 0, mapErr(ref, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat media %q: %w", ref, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("media %q is a directory: %w", ref, model.ErrNotFound)
	}
	return f, info.Size(), nil
}

// Stat returns the size of the media file.
func (s *Store) Stat(_ context.Context, ref string) (int64, error) {
	if err := checkRef(ref); err != nil {
		return 0, err
	}

	info, err := s.root.Stat(ref)
	if err != nil {
		return 0, mapErr(ref, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("media %q is a directory: %w", ref, model.ErrNotFound)
	}
	return info.Size(), nil
}

func checkRef(ref string) error {
	if !filepath.IsLocal(ref) {
		return &model.ValidationError{Field: "media_ref", Message: "must be a relative path inside the media directory"}
	}
	return nil
}

func mapErr(ref string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("media %q: %w", ref, model.ErrNotFound)
	}
	return fmt.Errorf("media %q: %w", ref, err)
}
