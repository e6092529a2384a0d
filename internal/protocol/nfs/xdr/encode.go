package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
)

// Writes to a bytes.Buffer never fail, so the helpers below only return
// errors for invalid input.

func EncodeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func EncodeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func EncodeBool(buf *bytes.Buffer, v bool) {
	if v {
		EncodeUint32(buf, 1)
		return
	}
	EncodeUint32(buf, 0)
}

// EncodeOpaque writes variable-length opaque data with its padding.
func EncodeOpaque(buf *bytes.Buffer, data []byte) {
	length := uint32(len(data))
	EncodeUint32(buf, length)
	buf.Write(data)
	for range (4 - (length % 4)) % 4 {
		buf.WriteByte(0)
	}
}

func EncodeString(buf *bytes.Buffer, s string) {
	EncodeOpaque(buf, []byte(s))
}

// EncodeFileHandle writes an nfs_fh3.
func EncodeFileHandle(buf *bytes.Buffer, handle []byte) error {
	if len(handle) > MaxFileHandleLen {
		return fmt.Errorf("file handle length %d exceeds %d", len(handle), MaxFileHandleLen)
	}
	EncodeOpaque(buf, handle)
	return nil
}

// EncodeOptionalFileHandle writes a post_op_fh3.
func EncodeOptionalFileHandle(buf *bytes.Buffer, handle []byte) error {
	if len(handle) == 0 {
		EncodeBool(buf, false)
		return nil
	}
	EncodeBool(buf, true)
	return EncodeFileHandle(buf, handle)
}

func encodeTimeVal(buf *bytes.Buffer, tv types.TimeVal) {
	EncodeUint32(buf, tv.Seconds)
	EncodeUint32(buf, tv.Nseconds)
}

// EncodeFileAttr writes a fattr3.
func EncodeFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		return fmt.Errorf("file attributes are nil")
	}

	EncodeUint32(buf, attr.Type)
	EncodeUint32(buf, attr.Mode)
	EncodeUint32(buf, attr.Nlink)
	EncodeUint32(buf, attr.UID)
	EncodeUint32(buf, attr.GID)
	EncodeUint64(buf, attr.Size)
	EncodeUint64(buf, attr.Used)
	EncodeUint32(buf, attr.Rdev.Major)
	EncodeUint32(buf, attr.Rdev.Minor)
	EncodeUint64(buf, attr.Fsid)
	EncodeUint64(buf, attr.Fileid)
	encodeTimeVal(buf, attr.Atime)
	encodeTimeVal(buf, attr.Mtime)
	encodeTimeVal(buf, attr.Ctime)
	return nil
}

// EncodeOptionalFileAttr writes a post_op_attr.
func EncodeOptionalFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		EncodeBool(buf, false)
		return nil
	}
	EncodeBool(buf, true)
	return EncodeFileAttr(buf, attr)
}

// EncodeWccData writes a wcc_data: optional pre-op attributes followed by
// optional post-op attributes.
func EncodeWccData(buf *bytes.Buffer, before *types.WccAttr, after *types.NFSFileAttr) error {
	if before == nil {
		EncodeBool(buf, false)
	} else {
		EncodeBool(buf, true)
		EncodeUint64(buf, before.Size)
		encodeTimeVal(buf, before.Mtime)
		encodeTimeVal(buf, before.Ctime)
	}

	if err := EncodeOptionalFileAttr(buf, after); err != nil {
		return fmt.Errorf("encode after attributes: %w", err)
	}
	return nil
}
