package handlers

import (
	"bytes"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/xdr"
	"github.com/marmos91/rodsnfs/pkg/acl"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// GetAttr returns the attributes of an object (RFC 1813 3.3.1).
func (h *Handler) GetAttr(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, garbage("GETATTR", err)
	}

	st, err := h.fs.Getattr(auth, handle)
	if err != nil {
		var buf bytes.Buffer
		xdr.EncodeUint32(&buf, xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "GETATTR"))
		return buf.Bytes(), nil
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeFileAttr(&buf, xdr.StatToNFSAttr(st)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SetAttr accepts attribute changes (RFC 1813 3.3.2). The remote store has
// no POSIX attributes, so the filesystem acknowledges them without applying
// anything.
func (h *Handler) SetAttr(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, garbage("SETATTR", err)
	}
	attrs, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, garbage("SETATTR", err)
	}
	check, err := xdr.DecodeBool(reader)
	if err != nil {
		return nil, garbage("SETATTR", err)
	}
	if check {
		// sattrguard3 ctime, unused
		if _, err := xdr.DecodeUint64(reader); err != nil {
			return nil, garbage("SETATTR", err)
		}
	}

	before := h.wccBefore(auth, handle)
	if err := h.fs.Setattr(auth, handle, xdr.SetAttrsToVFS(attrs)); err != nil {
		return statusWithWcc(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "SETATTR"), before, nil)
	}
	return statusWithWcc(types.NFS3OK, before, h.attrs(auth, handle))
}

// accessMasks maps each ACCESS3 bit to the NFSv4 ACE mask the permission
// engine decides on.
var accessMasks = []struct {
	bit  uint32
	mask uint32
}{
	{types.AccessRead, acl.ACE4_READ_DATA},
	{types.AccessLookup, acl.ACE4_EXECUTE},
	{types.AccessModify, acl.ACE4_WRITE_DATA},
	{types.AccessExtend, acl.ACE4_APPEND_DATA},
	{types.AccessDelete, acl.ACE4_DELETE},
	{types.AccessExecute, acl.ACE4_EXECUTE},
}

// Access reports which of the requested rights the caller holds
// (RFC 1813 3.3.4).
func (h *Handler) Access(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	reader := bytes.NewReader(data)
	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, garbage("ACCESS", err)
	}
	requested, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, garbage("ACCESS", err)
	}

	if _, err := h.fs.Access(auth, handle, requested); err != nil {
		return statusWithAttr(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "ACCESS"), nil)
	}

	attr := h.attrs(auth, handle)
	var granted uint32
	for _, m := range accessMasks {
		if requested&m.bit == 0 {
			continue
		}
		// ACCESS3_LOOKUP only applies to directories, EXECUTE only to files.
		if attr != nil && m.bit == types.AccessLookup && attr.Type != types.NF3Dir {
			continue
		}
		if attr != nil && m.bit == types.AccessExecute && attr.Type == types.NF3Dir {
			continue
		}
		decision, err := h.fs.CheckACL(auth, handle, m.mask)
		if err != nil {
			logger.Debug("nfs: access check failed", logger.KeyClientIP, auth.ClientAddr, logger.KeyError, err)
			continue
		}
		if decision == acl.Allow {
			granted |= m.bit
		}
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeOptionalFileAttr(&buf, attr); err != nil {
		return nil, err
	}
	xdr.EncodeUint32(&buf, granted)
	return buf.Bytes(), nil
}

// FsStat reports filesystem usage (RFC 1813 3.3.18).
func (h *Handler) FsStat(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, garbage("FSSTAT", err)
	}

	attr := h.attrs(auth, handle)
	stat, err := h.fs.FsStat(auth)
	if err != nil {
		return statusWithAttr(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "FSSTAT"), attr)
	}

	free := uint64(0)
	if stat.TotalSpace > stat.UsedSpace {
		free = stat.TotalSpace - stat.UsedSpace
	}
	freeFiles := uint64(0)
	if stat.TotalFiles > stat.UsedFiles {
		freeFiles = stat.TotalFiles - stat.UsedFiles
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeOptionalFileAttr(&buf, attr); err != nil {
		return nil, err
	}
	xdr.EncodeUint64(&buf, stat.TotalSpace)
	xdr.EncodeUint64(&buf, free)
	xdr.EncodeUint64(&buf, free)
	xdr.EncodeUint64(&buf, stat.TotalFiles)
	xdr.EncodeUint64(&buf, freeFiles)
	xdr.EncodeUint64(&buf, freeFiles)
	xdr.EncodeUint32(&buf, 0) // invarsec
	return buf.Bytes(), nil
}

// FsInfo reports static server limits (RFC 1813 3.3.19).
func (h *Handler) FsInfo(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, garbage("FSINFO", err)
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeOptionalFileAttr(&buf, h.attrs(auth, handle)); err != nil {
		return nil, err
	}
	xdr.EncodeUint32(&buf, MaxReadSize)
	xdr.EncodeUint32(&buf, PrefReadSize)
	xdr.EncodeUint32(&buf, 4096)
	xdr.EncodeUint32(&buf, MaxWriteSize)
	xdr.EncodeUint32(&buf, PrefReadSize)
	xdr.EncodeUint32(&buf, 4096)
	xdr.EncodeUint32(&buf, PrefDirSize)
	xdr.EncodeUint64(&buf, 1<<63-1)
	xdr.EncodeUint32(&buf, 0) // time_delta seconds
	xdr.EncodeUint32(&buf, 1) // time_delta nseconds
	xdr.EncodeUint32(&buf, types.FSFHomogeneous)
	return buf.Bytes(), nil
}

// PathConf reports name limits (RFC 1813 3.3.20).
func (h *Handler) PathConf(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	handle, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, garbage("PATHCONF", err)
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeOptionalFileAttr(&buf, h.attrs(auth, handle)); err != nil {
		return nil, err
	}
	xdr.EncodeUint32(&buf, 1) // linkmax
	xdr.EncodeUint32(&buf, types.MaxNameLen)
	xdr.EncodeBool(&buf, true)  // no_trunc
	xdr.EncodeBool(&buf, true)  // chown_restricted
	xdr.EncodeBool(&buf, false) // case_insensitive
	xdr.EncodeBool(&buf, true)  // case_preserving
	return buf.Bytes(), nil
}
