package handlers

import (
	"bytes"
	"fmt"
	"math"

	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/xdr"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// Read reads from a data object (RFC 1813 3.3.6).
func (h *Handler) Read(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, garbage("READ", err)
	}
	offset, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, garbage("READ", err)
	}
	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, garbage("READ", err)
	}

	if offset > math.MaxInt64 {
		return statusWithAttr(types.NFS3ErrInval, h.attrs(auth, handle))
	}
	count = min(count, MaxReadSize)

	payload := make([]byte, count)
	n, err := h.fs.Read(auth, handle, payload, int64(offset))
	if err != nil {
		return statusWithAttr(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "READ"), h.attrs(auth, handle))
	}

	attr := h.attrs(auth, handle)
	eof := n < int(count)
	if attr != nil && offset+uint64(n) >= attr.Size {
		eof = true
	}

	var buf bytes.Buffer
	buf.Grow(4 + 88 + 12 + n + 3)
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeOptionalFileAttr(&buf, attr); err != nil {
		return nil, err
	}
	xdr.EncodeUint32(&buf, uint32(n))
	xdr.EncodeBool(&buf, eof)
	xdr.EncodeOpaque(&buf, payload[:n])
	return buf.Bytes(), nil
}

// Write writes to a data object (RFC 1813 3.3.7). Every write reaches the
// remote store before the reply, so the committed level is always
// FILE_SYNC.
func (h *Handler) Write(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, garbage("WRITE", err)
	}
	offset, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, garbage("WRITE", err)
	}
	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, garbage("WRITE", err)
	}
	stable, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, garbage("WRITE", err)
	}
	payload, err := xdr.DecodeOpaque(reader)
	if err != nil {
		return nil, garbage("WRITE", err)
	}
	if uint32(len(payload)) < count {
		return nil, garbage("WRITE", fmt.Errorf("count %d exceeds %d bytes of data", count, len(payload)))
	}
	if offset > math.MaxInt64 {
		return statusWithWcc(types.NFS3ErrInval, nil, h.attrs(auth, handle))
	}

	before := h.wccBefore(auth, handle)
	result, err := h.fs.Write(auth, handle, payload[:count], int64(offset), vfs.StabilityLevel(stable))
	if err != nil {
		return statusWithWcc(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "WRITE"), before, h.attrs(auth, handle))
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeWccData(&buf, before, h.attrs(auth, handle)); err != nil {
		return nil, err
	}
	xdr.EncodeUint32(&buf, uint32(result.Count))
	xdr.EncodeUint32(&buf, uint32(result.Stability))
	buf.Write(h.writeVerifier[:])
	return buf.Bytes(), nil
}

// Commit flushes cached writes (RFC 1813 3.3.21). Writes are never
// cached, so it only validates the handle.
func (h *Handler) Commit(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, garbage("COMMIT", err)
	}
	offset, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, garbage("COMMIT", err)
	}
	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, garbage("COMMIT", err)
	}
	if offset > math.MaxInt64 {
		offset = math.MaxInt64
	}

	if err := h.fs.Commit(auth, handle, int64(offset), int(count)); err != nil {
		return statusWithWcc(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "COMMIT"), nil, h.attrs(auth, handle))
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeWccData(&buf, nil, h.attrs(auth, handle)); err != nil {
		return nil, err
	}
	buf.Write(h.writeVerifier[:])
	return buf.Bytes(), nil
}
