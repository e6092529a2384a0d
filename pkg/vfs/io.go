package vfs

import (
	"errors"
	"io"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

// open opens the data object bound to inode as the caller and positions it
// at offset.
func (c *call) open(inode Inode, offset int64) (remote.RandomAccessFile, string, error) {
	if offset < 0 {
		return nil, "", newError(ErrInvalidArgument, "", "negative offset", nil)
	}
	_, p, err := c.pathOf(inode)
	if err != nil {
		return nil, "", err
	}
	user, err := c.userSession()
	if err != nil {
		return nil, "", err
	}

	f, err := user.OpenRandomAccess(c.ctx, p)
	if err != nil {
		return nil, "", translate(err, p, "open")
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, "", translate(err, p, "seek")
	}
	return f, p, nil
}

func (fs *FileSystem) Read(auth *AuthContext, inode Inode, data []byte, offset int64) (_ int, err error) {
	c, err := fs.begin(auth, "READ")
	if err != nil {
		return 0, err
	}
	defer func() { c.release(err) }()

	f, p, err := c.open(inode, offset)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	n, err := io.ReadFull(f, data)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if err != nil {
		return n, translate(err, p, "read")
	}

	fs.metrics.RecordBytes("read", n)
	logger.Debug("vfs: read",
		logger.KeyPath, p,
		logger.KeyOffset, offset,
		logger.KeyCount, len(data),
		logger.KeyBytesRead, n)
	return n, nil
}

func (fs *FileSystem) Write(auth *AuthContext, inode Inode, data []byte, offset int64, stability StabilityLevel) (_ WriteResult, err error) {
	c, err := fs.begin(auth, "WRITE")
	if err != nil {
		return WriteResult{}, err
	}
	defer func() { c.release(err) }()

	f, p, err := c.open(inode, offset)
	if err != nil {
		return WriteResult{}, err
	}
	defer func() { _ = f.Close() }()

	n, err := f.Write(data)
	if err != nil {
		return WriteResult{}, translate(err, p, "write")
	}

	// The writer sees its own size change; other principals wait out the TTL.
	fs.stats.Delete(c.statKey(p))
	fs.metrics.RecordBytes("write", n)
	logger.Debug("vfs: write",
		logger.KeyPath, p,
		logger.KeyOffset, offset,
		logger.KeyBytesWritten, n,
		"requested_stability", stability.String())
	return WriteResult{Stability: FileSync, Count: n}, nil
}
