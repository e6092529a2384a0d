// Package fs stores data object content as files on the local filesystem.
package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/rodsnfs/pkg/content"
)

// FSContentStore implements content.Store with one file per content ID.
//
// File names are the hex encoding of the ID so any ID is filesystem safe.
// Files are split over 256 subdirectories keyed by the first encoded byte.
//
// Thread Safety:
// Each call opens and closes its own file descriptor; concurrency is left
// to the operating system.
type FSContentStore struct {
	basePath string
}

// NewFSContentStore creates the base directory if needed and returns a store
// rooted there.
func NewFSContentStore(ctx context.Context, basePath string) (*FSContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSContentStore{basePath: basePath}, nil
}

func (s *FSContentStore) filePath(id content.ContentID) string {
	name := hex.EncodeToString([]byte(id))
	shard := "00"
	if len(name) >= 2 {
		shard = name[:2]
	}
	return filepath.Join(s.basePath, shard, name)
}

func (s *FSContentStore) ReadAt(ctx context.Context, id content.ContentID, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateRequest(id, offset); err != nil {
		return 0, err
	}

	f, err := os.Open(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("failed to open content: %w", err)
	}
	defer func() { _ = f.Close() }()

	n, err := f.ReadAt(p, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("failed to read content: %w", err)
	}
	return n, err
}

func (s *FSContentStore) WriteAt(ctx context.Context, id content.ContentID, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateRequest(id, offset); err != nil {
		return 0, err
	}

	path := s.filePath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create content directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open content for writing: %w", err)
	}

	n, err := f.WriteAt(p, offset)
	if err != nil {
		_ = f.Close()
		return n, fmt.Errorf("failed to write content: %w", err)
	}

	if err := f.Close(); err != nil {
		return n, fmt.Errorf("failed to close content: %w", err)
	}
	return n, nil
}

func (s *FSContentStore) Size(ctx context.Context, id content.ContentID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}
	return info.Size(), nil
}

func (s *FSContentStore) Exists(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(s.filePath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat content: %w", err)
}

func (s *FSContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.filePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}
