package handlers

import (
	"bytes"
	"encoding/binary"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/internal/protocol/nfs/xdr"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// Lookup resolves a name inside a directory (RFC 1813 3.3.3).
func (h *Handler) Lookup(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	dir, name, err := xdr.DecodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, garbage("LOOKUP", err)
	}

	if st := checkName(name, true); st != types.NFS3OK {
		return statusWithAttr(st, h.attrs(auth, dir))
	}

	var child vfs.Inode
	switch name {
	case ".":
		child = dir
	case "..":
		child, err = h.fs.ParentOf(auth, dir)
	default:
		child, err = h.fs.Lookup(auth, dir, name)
	}
	if err != nil {
		return statusWithAttr(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, "LOOKUP"), h.attrs(auth, dir))
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeFileHandle(&buf, child); err != nil {
		return nil, err
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, h.attrs(auth, child)); err != nil {
		return nil, err
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, h.attrs(auth, dir)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type readDirArgs struct {
	dir        []byte
	cookie     uint64
	cookieVerf uint64
	dirCount   uint32
	maxCount   uint32
}

func decodeReadDirArgs(data []byte, plus bool) (*readDirArgs, error) {
	reader := bytes.NewReader(data)
	args := &readDirArgs{}

	var err error
	if args.dir, err = xdr.DecodeFileHandle(reader); err != nil {
		return nil, err
	}
	if args.cookie, err = xdr.DecodeUint64(reader); err != nil {
		return nil, err
	}
	if args.cookieVerf, err = xdr.DecodeUint64(reader); err != nil {
		return nil, err
	}
	if plus {
		if args.dirCount, err = xdr.DecodeUint32(reader); err != nil {
			return nil, err
		}
	}
	if args.maxCount, err = xdr.DecodeUint32(reader); err != nil {
		return nil, err
	}
	return args, nil
}

// Fixed parts of a READDIR reply: status, post_op_attr, cookieverf, list
// terminator, eof.
const readDirOverhead = 4 + 4 + 84 + 8 + 4 + 4

func entrySize(name string, plus bool) uint32 {
	n := uint32(len(name))
	size := 4 + 8 + 4 + n + (4-n%4)%4 + 8
	if plus {
		size += 4 + 84 + 4 + 4 + 8
	}
	return size
}

// ReadDir lists a directory (RFC 1813 3.3.16).
func (h *Handler) ReadDir(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	args, err := decodeReadDirArgs(data, false)
	if err != nil {
		return nil, garbage("READDIR", err)
	}
	return h.readDir(auth, args, false)
}

// ReadDirPlus lists a directory with attributes and handles
// (RFC 1813 3.3.17).
func (h *Handler) ReadDirPlus(auth *vfs.AuthContext, data []byte) ([]byte, error) {
	args, err := decodeReadDirArgs(data, true)
	if err != nil {
		return nil, garbage("READDIRPLUS", err)
	}
	return h.readDir(auth, args, true)
}

func (h *Handler) readDir(auth *vfs.AuthContext, args *readDirArgs, plus bool) ([]byte, error) {
	procedure := "READDIR"
	if plus {
		procedure = "READDIRPLUS"
	}

	stream, err := h.fs.List(auth, args.dir)
	if err != nil {
		return statusWithAttr(xdr.MapVFSErrorToNFSStatus(err, auth.ClientAddr, procedure), h.attrs(auth, args.dir))
	}

	var buf bytes.Buffer
	xdr.EncodeUint32(&buf, types.NFS3OK)
	if err := xdr.EncodeOptionalFileAttr(&buf, h.attrs(auth, args.dir)); err != nil {
		return nil, err
	}
	xdr.EncodeUint64(&buf, stream.Verifier)

	used := uint32(readDirOverhead)
	entries := stream.After(args.cookie)
	eof := true
	for i, e := range entries {
		size := entrySize(e.Name, plus)
		if used+size > args.maxCount {
			if i == 0 {
				return statusWithAttr(types.NFS3ErrTooSmall, h.attrs(auth, args.dir))
			}
			eof = false
			break
		}
		used += size

		xdr.EncodeBool(&buf, true)
		xdr.EncodeUint64(&buf, fileID(e))
		xdr.EncodeString(&buf, e.Name)
		xdr.EncodeUint64(&buf, e.Cookie)
		if plus {
			if err := xdr.EncodeOptionalFileAttr(&buf, xdr.StatToNFSAttr(e.Stat)); err != nil {
				return nil, err
			}
			if err := xdr.EncodeOptionalFileHandle(&buf, e.Inode); err != nil {
				return nil, err
			}
		}
	}
	xdr.EncodeBool(&buf, false)
	xdr.EncodeBool(&buf, eof)

	logger.Debug("nfs: directory listed",
		logger.KeyProcedure, procedure,
		logger.KeyCount, len(entries),
		"eof", eof)
	return buf.Bytes(), nil
}

func fileID(e vfs.DirectoryEntry) uint64 {
	if e.Stat != nil {
		return e.Stat.Fileid
	}
	if len(e.Inode) == vfs.InodeSize {
		return binary.BigEndian.Uint64(e.Inode)
	}
	return e.Cookie
}
