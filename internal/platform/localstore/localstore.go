// Package localstore implements imagestore.Store on a local filesystem.
// Images resolve to byte references since the model provider cannot reach
// the local disk.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"

	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
	"github.com/spf13/afero"
)

// Store keeps images as files below a root directory.
type Store struct {
	fs     afero.Fs
	logger *slog.Logger
}

var _ imagestore.Store = (*Store)(nil)

// New creates a store rooted at dir on the OS filesystem, creating dir if needed.
func New(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return NewWithFs(afero.NewBasePathFs(afero.NewOsFs(), dir), log), nil
}

// NewWithFs creates a store on an arbitrary afero filesystem.
func NewWithFs(fsys afero.Fs, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{fs: fsys, logger: log.With(slog.String("component", "local_image_store"))}
}

// Put writes data to key, creating parent directories.
func (s *Store) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := imagestore.ValidateKey(key); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(key), 0o750); err != nil {
		return fmt.Errorf("%w: %v", imagestore.ErrImageUnavailable, err)
	}
	if err := afero.WriteFile(s.fs, key, data, 0o640); err != nil {
		return fmt.Errorf("%w: %v", imagestore.ErrImageUnavailable, err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("stored image",
		slog.String("key", key),
		slog.Int("bytes", len(data)))
	return nil
}

// ResolveReference reads the image into a byte reference.
func (s *Store) ResolveReference(ctx context.Context, key, contentType string) (imagestore.Reference, error) {
	data, err := s.GetBytes(ctx, key)
	if err != nil {
		return imagestore.Reference{}, err
	}
	return imagestore.BytesReference(data, contentType), nil
}

// GetBytes returns the content of key.
func (s *Store) GetBytes(_ context.Context, key string) ([]byte, error) {
	if err := imagestore.ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", imagestore.ErrImageNotFound, key)
		}
		return nil, fmt.Errorf("%w: %v", imagestore.ErrImageUnavailable, err)
	}
	return data, nil
}

// Delete removes key; a missing file is ignored.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := imagestore.ValidateKey(key); err != nil {
		return err
	}
	if err := s.fs.Remove(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", imagestore.ErrImageUnavailable, err)
	}
	return nil
}
