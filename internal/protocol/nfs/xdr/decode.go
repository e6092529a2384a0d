package xdr

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
)

const (
	maxOpaqueLength = 1 << 20

	// MaxFileHandleLen is NFS3_FHSIZE.
	MaxFileHandleLen = 64
)

func DecodeUint32(reader io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(reader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func DecodeUint64(reader io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(reader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// DecodeBool reads an XDR boolean.
func DecodeBool(reader io.Reader) (bool, error) {
	v, err := DecodeUint32(reader)
	return v != 0, err
}

// DecodeOpaque reads variable-length opaque data and skips its padding.
func DecodeOpaque(reader io.Reader) ([]byte, error) {
	return decodeOpaqueMax(reader, maxOpaqueLength)
}

func decodeOpaqueMax(reader io.Reader, limit uint32) ([]byte, error) {
	length, err := DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	if length > limit {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d", length, limit)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	if padding := (4 - (length % 4)) % 4; padding > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(padding)); err != nil {
			return nil, fmt.Errorf("skip padding: %w", err)
		}
	}
	return data, nil
}

func DecodeString(reader io.Reader) (string, error) {
	data, err := DecodeOpaque(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeFileHandle reads an nfs_fh3.
func DecodeFileHandle(reader io.Reader) ([]byte, error) {
	handle, err := decodeOpaqueMax(reader, MaxFileHandleLen)
	if err != nil {
		return nil, fmt.Errorf("decode file handle: %w", err)
	}
	return handle, nil
}

// DecodeDirOpArgs reads a diropargs3: directory handle and entry name.
func DecodeDirOpArgs(reader io.Reader) ([]byte, string, error) {
	dir, err := DecodeFileHandle(reader)
	if err != nil {
		return nil, "", err
	}
	name, err := DecodeString(reader)
	if err != nil {
		return nil, "", fmt.Errorf("decode name: %w", err)
	}
	return dir, name, nil
}

// DecodeSetAttrs reads a sattr3.
func DecodeSetAttrs(reader io.Reader) (*types.SetAttrs, error) {
	attr := &types.SetAttrs{}

	var err error
	if attr.SetMode, err = DecodeBool(reader); err != nil {
		return nil, fmt.Errorf("read set_mode: %w", err)
	}
	if attr.SetMode {
		if attr.Mode, err = DecodeUint32(reader); err != nil {
			return nil, fmt.Errorf("read mode: %w", err)
		}
	}

	if attr.SetUID, err = DecodeBool(reader); err != nil {
		return nil, fmt.Errorf("read set_uid: %w", err)
	}
	if attr.SetUID {
		if attr.UID, err = DecodeUint32(reader); err != nil {
			return nil, fmt.Errorf("read uid: %w", err)
		}
	}

	if attr.SetGID, err = DecodeBool(reader); err != nil {
		return nil, fmt.Errorf("read set_gid: %w", err)
	}
	if attr.SetGID {
		if attr.GID, err = DecodeUint32(reader); err != nil {
			return nil, fmt.Errorf("read gid: %w", err)
		}
	}

	if attr.SetSize, err = DecodeBool(reader); err != nil {
		return nil, fmt.Errorf("read set_size: %w", err)
	}
	if attr.SetSize {
		if attr.Size, err = DecodeUint64(reader); err != nil {
			return nil, fmt.Errorf("read size: %w", err)
		}
	}

	if attr.SetAtime, attr.Atime, err = decodeSetTime(reader); err != nil {
		return nil, fmt.Errorf("read atime: %w", err)
	}
	if attr.SetMtime, attr.Mtime, err = decodeSetTime(reader); err != nil {
		return nil, fmt.Errorf("read mtime: %w", err)
	}

	return attr, nil
}

// decodeSetTime reads a set_atime or set_mtime union.
func decodeSetTime(reader io.Reader) (bool, types.TimeVal, error) {
	how, err := DecodeUint32(reader)
	if err != nil {
		return false, types.TimeVal{}, err
	}

	switch how {
	case 0: // DONT_CHANGE
		return false, types.TimeVal{}, nil
	case 1: // SET_TO_CLIENT_TIME
		var tv types.TimeVal
		if tv.Seconds, err = DecodeUint32(reader); err != nil {
			return false, tv, err
		}
		if tv.Nseconds, err = DecodeUint32(reader); err != nil {
			return false, tv, err
		}
		return true, tv, nil
	case 2: // SET_TO_SERVER_TIME
		return true, timeToTimeVal(now()), nil
	default:
		return false, types.TimeVal{}, fmt.Errorf("invalid time_how %d", how)
	}
}
