package xdr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// ============================================================================
// Opaque and String Tests
// ============================================================================

func TestOpaqueRoundTrip(t *testing.T) {
	for _, data := range [][]byte{{}, {1}, {1, 2, 3}, {1, 2, 3, 4}, []byte("hello")} {
		var buf bytes.Buffer
		EncodeOpaque(&buf, data)
		assert.Zero(t, buf.Len()%4, "encoded length must be 4-byte aligned")

		decoded, err := DecodeOpaque(&buf)
		require.NoError(t, err)
		assert.Equal(t, data, decoded)
		assert.Zero(t, buf.Len(), "padding must be consumed")
	}
}

func TestDecodeOpaqueRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	EncodeUint32(&buf, maxOpaqueLength+1)
	_, err := DecodeOpaque(&buf)
	assert.Error(t, err)
}

func TestFileHandleLimit(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, EncodeFileHandle(&buf, make([]byte, MaxFileHandleLen+1)))

	buf.Reset()
	EncodeOpaque(&buf, make([]byte, MaxFileHandleLen+4))
	_, err := DecodeFileHandle(&buf)
	assert.Error(t, err)
}

func TestDecodeDirOpArgs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeFileHandle(&buf, []byte{0, 0, 0, 0, 0, 0, 0, 1}))
	EncodeString(&buf, "notes.txt")

	dir, name, err := DecodeDirOpArgs(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, dir)
	assert.Equal(t, "notes.txt", name)
}

// ============================================================================
// SetAttrs Tests
// ============================================================================

func TestDecodeSetAttrs(t *testing.T) {
	t.Run("AllFields", func(t *testing.T) {
		var buf bytes.Buffer
		EncodeBool(&buf, true)
		EncodeUint32(&buf, 0o640)
		EncodeBool(&buf, true)
		EncodeUint32(&buf, 1001)
		EncodeBool(&buf, false)
		EncodeBool(&buf, true)
		EncodeUint64(&buf, 4096)
		EncodeUint32(&buf, 1) // SET_TO_CLIENT_TIME
		EncodeUint32(&buf, 1700000000)
		EncodeUint32(&buf, 5)
		EncodeUint32(&buf, 0) // DONT_CHANGE

		attr, err := DecodeSetAttrs(&buf)
		require.NoError(t, err)
		assert.True(t, attr.SetMode)
		assert.Equal(t, uint32(0o640), attr.Mode)
		assert.True(t, attr.SetUID)
		assert.Equal(t, uint32(1001), attr.UID)
		assert.False(t, attr.SetGID)
		assert.True(t, attr.SetSize)
		assert.Equal(t, uint64(4096), attr.Size)
		assert.True(t, attr.SetAtime)
		assert.Equal(t, types.TimeVal{Seconds: 1700000000, Nseconds: 5}, attr.Atime)
		assert.False(t, attr.SetMtime)

		change := SetAttrsToVFS(attr)
		require.NotNil(t, change.Mode)
		assert.Equal(t, uint32(0o640), *change.Mode)
		assert.Nil(t, change.GID)
		require.NotNil(t, change.Atime)
		assert.Equal(t, int64(1700000000), change.Atime.Unix())
		assert.Nil(t, change.Mtime)
	})

	t.Run("ServerTime", func(t *testing.T) {
		fixed := time.Unix(1800000000, 0)
		now = func() time.Time { return fixed }
		defer func() { now = time.Now }()

		var buf bytes.Buffer
		for range 4 {
			EncodeBool(&buf, false)
		}
		EncodeUint32(&buf, 0)
		EncodeUint32(&buf, 2) // SET_TO_SERVER_TIME

		attr, err := DecodeSetAttrs(&buf)
		require.NoError(t, err)
		assert.True(t, attr.SetMtime)
		assert.Equal(t, uint32(1800000000), attr.Mtime.Seconds)
	})

	t.Run("InvalidTimeHow", func(t *testing.T) {
		var buf bytes.Buffer
		for range 4 {
			EncodeBool(&buf, false)
		}
		EncodeUint32(&buf, 7)

		_, err := DecodeSetAttrs(&buf)
		assert.Error(t, err)
	})
}

// ============================================================================
// Attribute Tests
// ============================================================================

func TestStatToNFSAttr(t *testing.T) {
	mtime := time.Unix(1700000000, 42)
	st := &vfs.Stat{
		Dev:    17,
		Ino:    5,
		Mode:   0o040000 | 0o700,
		Nlink:  1,
		UID:    1001,
		GID:    65534,
		Size:   0,
		Fileid: 5,
		Atime:  mtime,
		Mtime:  mtime,
		Ctime:  mtime,
	}

	attr := StatToNFSAttr(st)
	require.NotNil(t, attr)
	assert.Equal(t, uint32(types.NF3Dir), attr.Type)
	assert.Equal(t, uint32(0o700), attr.Mode)
	assert.Equal(t, uint64(17), attr.Fsid)
	assert.Equal(t, uint64(5), attr.Fileid)
	assert.Equal(t, uint32(1001), attr.UID)
	assert.Equal(t, types.TimeVal{Seconds: 1700000000, Nseconds: 42}, attr.Mtime)

	st.Mode = 0o100000 | 0o640
	assert.Equal(t, uint32(types.NF3Reg), StatToNFSAttr(st).Type)
	assert.Nil(t, StatToNFSAttr(nil))

	wcc := StatToWccAttr(st)
	assert.Equal(t, st.Size, wcc.Size)
	assert.Equal(t, attr.Mtime, wcc.Mtime)
}

func TestEncodeFileAttr(t *testing.T) {
	attr := &types.NFSFileAttr{Type: types.NF3Reg, Mode: 0o644, Nlink: 1, Size: 10, Fileid: 99}

	var buf bytes.Buffer
	require.NoError(t, EncodeFileAttr(&buf, attr))
	assert.Equal(t, 84, buf.Len())
	assert.Equal(t, uint32(types.NF3Reg), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
	assert.Equal(t, uint64(99), binary.BigEndian.Uint64(buf.Bytes()[52:60]))

	buf.Reset()
	require.NoError(t, EncodeOptionalFileAttr(&buf, nil))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())

	buf.Reset()
	require.NoError(t, EncodeWccData(&buf, &types.WccAttr{Size: 1}, attr))
	assert.Equal(t, 4+24+4+84, buf.Len())

	assert.Error(t, EncodeFileAttr(&buf, nil))
}

// ============================================================================
// Error Mapping Tests
// ============================================================================

func TestMapVFSErrorToNFSStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want uint32
	}{
		{"Nil", nil, types.NFS3OK},
		{"Stale", &vfs.Error{Code: vfs.ErrNotFound}, types.NFS3ErrStale},
		{"NoEnt", &vfs.Error{Code: vfs.ErrNoSuchEntry}, types.NFS3ErrNoEnt},
		{"UnknownUser", &vfs.Error{Code: vfs.ErrUserNotFound}, types.NFS3ErrAcces},
		{"Denied", &vfs.Error{Code: vfs.ErrAccessDenied}, types.NFS3ErrAcces},
		{"Remote", &vfs.Error{Code: vfs.ErrRemoteStoreFailure}, types.NFS3ErrIO},
		{"Inval", &vfs.Error{Code: vfs.ErrInvalidArgument}, types.NFS3ErrInval},
		{"NotSupp", &vfs.Error{Code: vfs.ErrNotSupported}, types.NFS3ErrNotSupp},
		{"Exist", &vfs.Error{Code: vfs.ErrAlreadyExists}, types.NFS3ErrExist},
		{"NotEmpty", &vfs.Error{Code: vfs.ErrNotEmpty}, types.NFS3ErrNotEmpty},
		{"Foreign", errors.New("boom"), types.NFS3ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapVFSErrorToNFSStatus(tt.err, "127.0.0.1:900", "TEST"))
		})
	}
}
