package handlers

import (
	"bytes"
	"io"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/xdr"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755
)

// createResult encodes the diropres3 shared by CREATE, MKDIR and SYMLINK.
func (h *Handler) createResult(auth *vfs.AuthContext, dir []byte, before *types.WccAttr, child vfs.Inode) ([]byte, error) {
	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeOptionalFileHandle(&buf, child); err != nil {
		return nil, err
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, h.attrs(auth, child)); err != nil {
		return nil, err
	}
	if err := xdr.EncodeWccData(&buf, before, h.attrs(auth, dir)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Create makes a data object (RFC 1813 3.3.8).
func (h *Handler) Create(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	dir, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, garbage("CREATE", err)
	}
	how, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, garbage("CREATE", err)
	}

	mode := uint32(defaultFileMode)
	switch how {
	case types.CreateUnchecked, types.CreateGuarded:
		attrs, err := xdr.DecodeSetAttrs(reader)
		if err != nil {
			return nil, garbage("CREATE", err)
		}
		if attrs.SetMode {
			mode = attrs.Mode
		}
	case types.CreateExclusive:
		if _, err := io.CopyN(io.Discard, reader, 8); err != nil {
			return nil, garbage("CREATE", err)
		}
	default:
		return statusWithWcc(types.NFS3ErrInval, nil, h.attrs(auth, dir))
	}

	if st := checkName(name, false); st != types.NFS3OK {
		return statusWithWcc(st, nil, h.attrs(auth, dir))
	}

	before := h.wccBefore(auth, dir)
	child, err := h.fs.Create(auth, dir, vfs.FileTypeRegular, name, mode)
	if vfs.IsCode(err, vfs.ErrAlreadyExists) && how == types.CreateUnchecked {
		// UNCHECKED succeeds on an existing object.
		child, err = h.fs.Lookup(auth, dir, name)
	}
	if err != nil {
		return statusWithWcc(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "CREATE"), before, h.attrs(auth, dir))
	}

	logger.Debug("nfs: created", logger.KeyName, name, logger.KeyMode, mode, logger.KeyClientIP, auth.ClientAddr)
	return h.createResult(auth, dir, before, child)
}

// Mkdir makes a collection (RFC 1813 3.3.9).
func (h *Handler) Mkdir(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	dir, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, garbage("MKDIR", err)
	}
	attrs, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, garbage("MKDIR", err)
	}

	if st := checkName(name, false); st != types.NFS3OK {
		return statusWithWcc(st, nil, h.attrs(auth, dir))
	}
	mode := uint32(defaultDirMode)
	if attrs.SetMode {
		mode = attrs.Mode
	}

	before := h.wccBefore(auth, dir)
	child, err := h.fs.Mkdir(auth, dir, name, mode)
	if err != nil {
		return statusWithWcc(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "MKDIR"), before, h.attrs(auth, dir))
	}
	return h.createResult(auth, dir, before, child)
}

// Remove deletes a data object (RFC 1813 3.3.12).
func (h *Handler) Remove(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	return h.remove(auth, data, "REMOVE", false)
}

// Rmdir deletes an empty collection (RFC 1813 3.3.13).
func (h *Handler) Rmdir(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	return h.remove(auth, data, "RMDIR", true)
}

func (h *Handler) remove(auth *vfs.AuthContext, data []byte, procedure string, wantDir bool) ([]byte, error) {
	dir, name, err := xdr.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, garbage(procedure, err)
	}
	if st := checkName(name, false); st != types.NFS3OK {
		return statusWithWcc(st, nil, h.attrs(auth, dir))
	}

	before := h.wccBefore(auth, dir)

	child, err := h.fs.Lookup(auth, dir, name)
	if err != nil {
		return statusWithWcc(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, procedure), before, h.attrs(auth, dir))
	}
	if attr := h.attrs(auth, child); attr != nil {
		isDir := attr.Type == types.NF3Dir
		switch {
		case wantDir && !isDir:
			return statusWithWcc(types.NFS3ErrNotDir, before, h.attrs(auth, dir))
		case !wantDir && isDir:
			return statusWithWcc(types.NFS3ErrIsDir, before, h.attrs(auth, dir))
		}
	}

	if err := h.fs.Remove(auth, dir, name); err != nil {
		return statusWithWcc(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, procedure), before, h.attrs(auth, dir))
	}
	return statusWithWcc(types.NFS3OK, before, h.attrs(auth, dir))
}

// Rename moves an object, possibly across collections (RFC 1813 3.3.14).
// The handle of the moved object stays valid.
func (h *Handler) Rename(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	fromDir, fromName, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, garbage("RENAME", err)
	}
	toDir, toName, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, garbage("RENAME", err)
	}

	fromBefore := h.wccBefore(auth, fromDir)
	toBefore := h.wccBefore(auth, toDir)

	status := checkName(fromName, false)
	if status == types.NFS3OK {
		status = checkName(toName, false)
	}
	if status == types.NFS3OK {
		if _, err := h.fs.Move(auth, fromDir, fromName, toDir, toName); err != nil {
			status = xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "RENAME")
		}
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, status)
	if err := xdr.EncodeWccData(&buf, fromBefore, h.attrs(auth, fromDir)); err != nil {
		return nil, err
	}
	if err := xdr.EncodeWccData(&buf, toBefore, h.attrs(auth, toDir)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Symlink is refused by the filesystem (RFC 1813 3.3.10).
func (h *Handler) Symlink(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	dir, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, garbage("SYMLINK", err)
	}
	attrs, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, garbage("SYMLINK", err)
	}
	target, err := xdr.DecodeString(reader)
	if err != nil {
		return nil, garbage("SYMLINK", err)
	}

	child, err := h.fs.Symlink(auth, dir, name, target, attrs.Mode)
	if err != nil {
		return statusWithWcc(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "SYMLINK"), nil, h.attrs(auth, dir))
	}
	return h.createResult(auth, dir, nil, child)
}

// Mknod is not supported: the remote store has no device files
// (RFC 1813 3.3.11).
func (h *Handler) Mknod(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	dir, _, err := xdr.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, garbage("MKNOD", err)
	}
	return statusWithWcc(types.NFS3ErrNotSupp, nil, h.attrs(auth, dir))
}

// Link is refused by the filesystem (RFC 1813 3.3.15).
func (h *Handler) Link(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	file, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, garbage("LINK", err)
	}
	dir, name, err := xdr.DecodeDirOpArgs(reader)
	if err != nil {
		return nil, garbage("LINK", err)
	}

	status := uint32(types.NFS3OK)
	if _, err := h.fs.Link(auth, dir, file, name); err != nil {
		status = xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "LINK")
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, status)
	if err := xdr.EncodeOptionalFileAttr(&buf, h.attrs(auth, file)); err != nil {
		return nil, err
	}
	if err := xdr.EncodeWccData(&buf, nil, h.attrs(auth, dir)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadLink is refused by the filesystem (RFC 1813 3.3.5).
func (h *Handler) ReadLink(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, garbage("READLINK", err)
	}

	target, err := h.fs.Readlink(auth, handle)
	if err != nil {
		return statusWithAttr(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "READLINK"), h.attrs(auth, handle))
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeOptionalFileAttr(&buf, h.attrs(auth, handle)); err != nil {
		return nil, err
	}
	xdr.EncodeString(&buf, target)
	return buf.Bytes(), nil
}
