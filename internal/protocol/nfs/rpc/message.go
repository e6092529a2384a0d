package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// RPCCallMessage is the header of every RPC request. Procedure arguments
// follow it on the wire and are extracted with ReadData.
//
// Wire format (XDR):
//   - XID, MsgType, RPCVersion, Program, Version, Procedure: 4 bytes each
//   - Cred, Verf: flavor + opaque body
type RPCCallMessage struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
}

// RPCReplyMessage is the header of an accepted reply. Procedure results
// follow it on the wire.
type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	Verf       OpaqueAuth
	AcceptStat uint32
}

// OpaqueAuth is a credential or verifier. The RPC layer never interprets
// Body; its format depends on Flavor.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte `xdr:"opaque"`
}

func (c *RPCCallMessage) GetAuthFlavor() uint32 {
	return c.Cred.Flavor
}

func (c *RPCCallMessage) GetAuthBody() []byte {
	return c.Cred.Body
}

// UnixAuth is the body of an AUTH_UNIX credential.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

func (a *UnixAuth) String() string {
	return fmt.Sprintf("UnixAuth{machine=%s uid=%d gid=%d gids=%v}", a.MachineName, a.UID, a.GID, a.GIDs)
}

// ParseUnixAuth decodes an AUTH_UNIX credential body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, errors.New("empty auth body")
	}

	reader := bytes.NewReader(body)
	auth := &UnixAuth{}

	if err := binary.Read(reader, binary.BigEndian, &auth.Stamp); err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}

	var nameLen uint32
	if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("read machine name length: %w", err)
	}
	if nameLen > maxMachineNameLen {
		return nil, fmt.Errorf("machine name too long: %d bytes", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(reader, name); err != nil {
		return nil, fmt.Errorf("read machine name: %w", err)
	}
	auth.MachineName = string(name)
	if pad := XdrPadding(nameLen); pad > 0 {
		if _, err := reader.Seek(int64(pad), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip machine name padding: %w", err)
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &auth.UID); err != nil {
		return nil, fmt.Errorf("read uid: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &auth.GID); err != nil {
		return nil, fmt.Errorf("read gid: %w", err)
	}

	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read gid count: %w", err)
	}
	if count > maxAuthGIDs {
		return nil, fmt.Errorf("too many gids: %d (max %d)", count, maxAuthGIDs)
	}
	auth.GIDs = make([]uint32, count)
	for i := range auth.GIDs {
		if err := binary.Read(reader, binary.BigEndian, &auth.GIDs[i]); err != nil {
			return nil, fmt.Errorf("read gid %d: %w", i, err)
		}
	}

	return auth, nil
}
