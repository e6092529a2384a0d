package vfs

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/rodsnfs/pkg/registry"
)

// InodeSize is the length of an encoded Inode.
const InodeSize = 8

// EncodeInode returns the wire form of h.
func EncodeInode(h registry.Handle) Inode {
	var buf bytes.Buffer
	buf.Grow(InodeSize)
	// Encoding a uint64 into a bytes.Buffer cannot fail.
	_, _ = xdr.Marshal(&buf, uint64(h))
	return Inode(buf.Bytes())
}

// DecodeInode parses an Inode produced by EncodeInode.
func DecodeInode(inode Inode) (registry.Handle, error) {
	if len(inode) != InodeSize {
		return 0, newError(ErrInvalidArgument, "", fmt.Sprintf("inode must be %d bytes, got %d", InodeSize, len(inode)), nil)
	}
	var h uint64
	if _, err := xdr.Unmarshal(bytes.NewReader(inode), &h); err != nil {
		return 0, newError(ErrInvalidArgument, "", "malformed inode", err)
	}
	return registry.Handle(h), nil
}
