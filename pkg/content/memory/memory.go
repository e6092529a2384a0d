// Package memory keeps data object content in process memory. Content is
// lost on restart; intended for tests and the in-memory remote backend.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/rodsnfs/pkg/content"
)

// MemoryContentStore implements content.Store over a map of byte slices.
type MemoryContentStore struct {
	mu   sync.RWMutex
	data map[content.ContentID][]byte
}

func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{data: make(map[content.ContentID][]byte)}
}

func (s *MemoryContentStore) ReadAt(ctx context.Context, id content.ContentID, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateRequest(id, offset); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.data[id]
	if offset >= int64(len(buf)) {
		return 0, io.EOF
	}

	n := copy(p, buf[offset:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *MemoryContentStore) WriteAt(ctx context.Context, id content.ContentID, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateRequest(id, offset); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.data[id]
	end := offset + int64(len(p))
	if end > int64(len(buf)) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], p)
	s.data[id] = buf
	return len(p), nil
}

func (s *MemoryContentStore) Size(ctx context.Context, id content.ContentID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	return int64(len(buf)), nil
}

func (s *MemoryContentStore) Exists(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[id]
	return ok, nil
}

func (s *MemoryContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}
