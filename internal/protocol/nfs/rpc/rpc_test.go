package rpc

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func validAuthUnixCredentials() *UnixAuth {
	return &UnixAuth{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: "testhost",
		UID:         1000,
		GID:         1000,
		GIDs:        []uint32{4, 24, 27, 30},
	}
}

func encodeAuthUnix(auth *UnixAuth) []byte {
	buf := new(bytes.Buffer)

	_ = binary.Write(buf, binary.BigEndian, auth.Stamp)

	nameLen := uint32(len(auth.MachineName))
	_ = binary.Write(buf, binary.BigEndian, nameLen)
	buf.WriteString(auth.MachineName)
	padding := (4 - (nameLen % 4)) % 4
	for i := uint32(0); i < padding; i++ {
		buf.WriteByte(0)
	}

	_ = binary.Write(buf, binary.BigEndian, auth.UID)
	_ = binary.Write(buf, binary.BigEndian, auth.GID)

	_ = binary.Write(buf, binary.BigEndian, uint32(len(auth.GIDs)))
	for _, gid := range auth.GIDs {
		_ = binary.Write(buf, binary.BigEndian, gid)
	}

	return buf.Bytes()
}

// ============================================================================
// ParseUnixAuth Tests
// ============================================================================

func TestParseUnixAuth(t *testing.T) {
	t.Run("ParsesValidCredentials", func(t *testing.T) {
		original := validAuthUnixCredentials()
		body := encodeAuthUnix(original)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, original.Stamp, parsed.Stamp)
		assert.Equal(t, original.MachineName, parsed.MachineName)
		assert.Equal(t, original.UID, parsed.UID)
		assert.Equal(t, original.GID, parsed.GID)
		assert.Equal(t, original.GIDs, parsed.GIDs)
	})

	t.Run("ParsesRootCredentials", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       uint32(time.Now().Unix()),
			MachineName: "testhost",
			UID:         0,
			GID:         0,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), parsed.UID)
		assert.Equal(t, uint32(0), parsed.GID)
		assert.Empty(t, parsed.GIDs)
	})

	t.Run("ParsesWithMaximumGroups", func(t *testing.T) {
		gids := make([]uint32, 16)
		for i := range gids {
			gids[i] = uint32(i + 1000)
		}

		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        gids,
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Len(t, parsed.GIDs, 16)
		assert.Equal(t, gids, parsed.GIDs)
	})

	t.Run("RejectsExcessiveGroups", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(8))
		_, _ = buf.WriteString("testhost")
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(17)) // Too many groups

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many gids")
	})

	t.Run("RejectsLongMachineName", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(256)) // Too long

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "machine name too long")
	})

	t.Run("RejectsEmptyBody", func(t *testing.T) {
		_, err := ParseUnixAuth([]byte{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("HandlesEmptyMachineName", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, "", parsed.MachineName)
	})
}

// ============================================================================
// UnixAuthString Tests
// ============================================================================

func TestUnixAuthString(t *testing.T) {
	t.Run("FormatsCorrectly", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{4, 24, 27, 30},
		}

		str := auth.String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "1000")
		assert.Contains(t, str, "[4 24 27 30]")
	})

	t.Run("FormatsEmptyGroups", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{},
		}

		str := auth.String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "[]")
	})
}

// ============================================================================
// AuthFlavors Tests
// ============================================================================

func TestAuthFlavors(t *testing.T) {
	t.Run("AuthNullValue", func(t *testing.T) {
		assert.Equal(t, uint32(0), AuthNull)
	})

	t.Run("AuthUnixValue", func(t *testing.T) {
		assert.Equal(t, uint32(1), AuthUnix)
	})

	t.Run("AuthShortValue", func(t *testing.T) {
		assert.Equal(t, uint32(2), AuthShort)
	})

	t.Run("AuthDESValue", func(t *testing.T) {
		assert.Equal(t, uint32(3), AuthDES)
	})

	t.Run("FlavorsAreUnique", func(t *testing.T) {
		flavors := []uint32{AuthNull, AuthUnix, AuthShort, AuthDES}

		seen := make(map[uint32]bool)
		for _, flavor := range flavors {
			assert.False(t, seen[flavor], "flavor %d is not unique", flavor)
			seen[flavor] = true
		}
	})
}

// ============================================================================
// Call Parsing Tests
// ============================================================================

func encodeCall(t *testing.T, procedure uint32, cred OpaqueAuth, args []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	for _, v := range []uint32{0xCAFE, RPCCall, RPCVersion, ProgramNFS, NFSVersion, procedure} {
		_ = binary.Write(buf, binary.BigEndian, v)
	}
	for _, auth := range []OpaqueAuth{cred, {Flavor: AuthNull}} {
		_ = binary.Write(buf, binary.BigEndian, auth.Flavor)
		_ = binary.Write(buf, binary.BigEndian, uint32(len(auth.Body)))
		buf.Write(auth.Body)
		buf.Write(make([]byte, XdrPadding(uint32(len(auth.Body)))))
	}
	buf.Write(args)
	return buf.Bytes()
}

func TestReadCall(t *testing.T) {
	t.Run("ParsesHeaderAndArguments", func(t *testing.T) {
		cred := OpaqueAuth{Flavor: AuthUnix, Body: encodeAuthUnix(validAuthUnixCredentials())}
		args := []byte{0, 0, 0, 8, 1, 2, 3, 4, 5, 6, 7, 8}
		msg := encodeCall(t, 1, cred, args)

		call, err := ReadCall(msg)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xCAFE), call.XID)
		assert.Equal(t, uint32(ProgramNFS), call.Program)
		assert.Equal(t, uint32(NFSVersion), call.Version)
		assert.Equal(t, uint32(1), call.Procedure)
		assert.Equal(t, AuthUnix, call.GetAuthFlavor())
		assert.Equal(t, cred.Body, call.GetAuthBody())

		data, err := ReadData(msg, call)
		require.NoError(t, err)
		assert.Equal(t, args, data)
	})

	t.Run("NoArguments", func(t *testing.T) {
		msg := encodeCall(t, 0, OpaqueAuth{Flavor: AuthNull}, nil)
		call, err := ReadCall(msg)
		require.NoError(t, err)

		data, err := ReadData(msg, call)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("RejectsReply", func(t *testing.T) {
		msg := encodeCall(t, 0, OpaqueAuth{Flavor: AuthNull}, nil)
		binary.BigEndian.PutUint32(msg[4:8], RPCReply)
		_, err := ReadCall(msg)
		assert.Error(t, err)
	})

	t.Run("RejectsTruncatedCredential", func(t *testing.T) {
		msg := encodeCall(t, 0, OpaqueAuth{Flavor: AuthNull}, nil)
		binary.BigEndian.PutUint32(msg[28:32], 400)
		_, err := ReadData(msg, &RPCCallMessage{})
		assert.Error(t, err)
	})
}

// ============================================================================
// Reply Tests
// ============================================================================

func TestMakeSuccessReply(t *testing.T) {
	payload := []byte{0, 0, 0, 0, 0xAA, 0xBB, 0xCC, 0xDD}
	reply, err := MakeSuccessReply(0x1234, payload)
	require.NoError(t, err)

	header, err := ReadFragmentHeader(bytes.NewReader(reply))
	require.NoError(t, err)
	assert.True(t, header.IsLast)
	assert.Equal(t, uint32(len(reply)-4), header.Length)

	body := reply[4:]
	assert.Equal(t, uint32(0x1234), binary.BigEndian.Uint32(body[0:4]))
	assert.Equal(t, uint32(RPCReply), binary.BigEndian.Uint32(body[4:8]))
	assert.Equal(t, uint32(RPCMsgAccepted), binary.BigEndian.Uint32(body[8:12]))
	// verifier: flavor + zero length
	assert.Equal(t, uint32(RPCSuccess), binary.BigEndian.Uint32(body[20:24]))
	assert.Equal(t, payload, body[24:])
}

func TestMakeErrorReplies(t *testing.T) {
	reply, err := MakeErrorReply(7, RPCProcUnavail)
	require.NoError(t, err)
	assert.Len(t, reply, 28)
	assert.Equal(t, uint32(RPCProcUnavail), binary.BigEndian.Uint32(reply[24:28]))

	reply, err = MakeProgMismatchReply(7, 3, 3)
	require.NoError(t, err)
	assert.Len(t, reply, 36)
	assert.Equal(t, uint32(RPCProgMismatch), binary.BigEndian.Uint32(reply[24:28]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(reply[28:32]))
}

func TestXdrPadding(t *testing.T) {
	for length, want := range map[uint32]uint32{0: 0, 1: 3, 2: 2, 3: 1, 4: 0, 5: 3} {
		assert.Equal(t, want, XdrPadding(length), "length %d", length)
	}
}
