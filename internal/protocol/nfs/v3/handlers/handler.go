// Package handlers implements the NFSv3 procedures (RFC 1813) on top of the
// VFS facade.
//
// Every handler takes the raw XDR arguments and returns the XDR-encoded
// result body. A returned error means the arguments could not be decoded;
// filesystem failures are reported in the nfsstat3 of the result instead.
package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/xdr"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// ErrGarbageArgs marks a request whose arguments do not decode. The
// connection answers it with GARBAGE_ARGS.
var ErrGarbageArgs = errors.New("garbage arguments")

// Transfer sizes advertised by FSINFO.
const (
	MaxReadSize  = 1 << 20
	MaxWriteSize = 1 << 20
	PrefReadSize = 64 << 10
	PrefDirSize  = 8 << 10
)

// Handler serves NFSv3 procedures against one filesystem.
type Handler struct {
	fs vfs.VirtualFileSystem

	// writeVerifier changes when the server restarts, telling clients to
	// resend uncommitted writes.
	writeVerifier [8]byte
}

// NewHandler creates a handler over fs.
func NewHandler(fs vfs.VirtualFileSystem) *Handler {
	h := &Handler{fs: fs}
	start := uint64(time.Now().UnixNano())
	for i := range h.writeVerifier {
		h.writeVerifier[7-i] = byte(start >> (8 * i))
	}
	return h
}

func garbage(procedure string, err error) error {
	return fmt.Errorf("%s: %w: %v", procedure, ErrGarbageArgs, err)
}

// checkName validates a filename component from the wire. Components never
// hold a separator, and "." and ".." resolve only through LOOKUP.
func checkName(name string, dots bool) uint32 {
	switch {
	case len(name) > types.MaxNameLen:
		return types.NFS3ErrNameTooLong
	case strings.Contains(name, "/"):
		return types.NFS3ErrInval
	case !dots && (name == "." || name == ".."):
		return types.NFS3ErrInval
	}
	return types.NFS3OK
}

// attrs returns the post-operation attributes of inode, or nil when they
// cannot be read.
func (h *Handler) attrs(auth *vfs.AuthContext, inode vfs.Inode) *types.NFSFileAttr {
	st, err := h.fs.Getattr(auth, inode)
	if err != nil {
		return nil
	}
	return xdr.StatToNFSAttr(st)
}

// wccBefore captures the pre-operation attributes of inode.
func (h *Handler) wccBefore(auth *vfs.AuthContext, inode vfs.Inode) *types.WccAttr {
	st, err := h.fs.Getattr(auth, inode)
	if err != nil {
		return nil
	}
	return xdr.StatToWccAttr(st)
}

// statusWithAttr encodes the common failure body: status + post_op_attr.
func statusWithAttr(status uint32, attr *types.NFSFileAttr) ([]byte, error) {
	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, status)
	if err := xdr.EncodeOptionalFileAttr(&buf, attr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// statusWithWcc encodes status + wcc_data.
func statusWithWcc(status uint32, before *types.WccAttr, after *types.NFSFileAttr) ([]byte, error) {
	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, status)
	if err := xdr.EncodeWccData(&buf, before, after); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Null is the ping procedure.
func (h *Handler) Null(_ *vfs.AuthContext, _ []byte) ([]byte, error) {
	return []byte{}, nil
}
