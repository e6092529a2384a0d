package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/rodsnfs/pkg/content"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

var errNegativeOffset = errors.New("negative offset")

// file is a data object opened for random access. Reads and writes go to
// the content store; writes also update the size and modification time in
// the catalog.
type file struct {
	ctx      context.Context
	session  *session
	path     string
	id       content.ContentID
	writable bool

	offset int64
	closed bool
}

var _ remote.RandomAccessFile = (*file)(nil)

func (f *file) check() error {
	if f.closed {
		return fmt.Errorf("%s: %w", f.path, remote.ErrSessionClosed)
	}
	_, err := f.session.begin(f.ctx, "")
	return err
}

func (f *file) Read(p []byte) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := f.session.catalog.content.ReadAt(f.ctx, f.id, p, f.offset)
	f.offset += int64(n)
	if errors.Is(err, io.EOF) {
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}

func (f *file) Write(p []byte) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if !f.writable {
		return 0, fmt.Errorf("%s is read-only for %s: %w", f.path, f.session.actor.Name, remote.ErrAccessDenied)
	}

	n, err := f.session.catalog.content.WriteAt(f.ctx, f.id, p, f.offset)
	if err != nil {
		return n, err
	}
	end := f.offset + int64(n)
	f.offset = end

	err = f.session.catalog.kv.Update(func(txn Txn) error {
		rec, err := getObject(txn, f.path)
		if err != nil {
			return err
		}
		if end > rec.Size {
			rec.Size = end
		}
		rec.ModifiedAt = f.session.catalog.timestamp()
		return putObject(txn, f.path, rec)
	})
	return n, err
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.offset
	case io.SeekEnd:
		err := f.session.catalog.kv.View(func(txn Txn) error {
			rec, err := getObject(txn, f.path)
			if err != nil {
				return err
			}
			base = rec.Size
			return nil
		})
		if err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	next := base + offset
	if next < 0 {
		return 0, errNegativeOffset
	}
	f.offset = next
	return next, nil
}

func (f *file) Close() error {
	f.closed = true
	return nil
}
