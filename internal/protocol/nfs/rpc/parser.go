package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// FragmentHeader is the record-marking header preceding every RPC message
// on a TCP stream (RFC 5531 Section 11).
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

// ReadFragmentHeader reads the 4-byte record mark from r.
func ReadFragmentHeader(r io.Reader) (FragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FragmentHeader{}, err
	}
	header := binary.BigEndian.Uint32(buf[:])
	return FragmentHeader{
		IsLast: header&0x80000000 != 0,
		Length: header & 0x7FFFFFFF,
	}, nil
}

// ReadCall parses the RPC call header at the start of data.
func ReadCall(data []byte) (*RPCCallMessage, error) {
	call := &RPCCallMessage{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), call); err != nil {
		return nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}
	if call.MsgType != RPCCall {
		return nil, fmt.Errorf("expected CALL (0), got %d", call.MsgType)
	}
	return call, nil
}

// ReadData returns the procedure arguments that follow the call header,
// skipping the credential and verifier.
func ReadData(message []byte, call *RPCCallMessage) ([]byte, error) {
	// XID, MsgType, RPCVersion, Program, Version, Procedure
	offset := 24

	for _, field := range []string{"credential", "verifier"} {
		if offset+8 > len(message) {
			return nil, fmt.Errorf("message truncated in %s", field)
		}
		offset += 4
		length := binary.BigEndian.Uint32(message[offset : offset+4])
		offset += 4 + int(length) + int(XdrPadding(length))
	}

	if offset > len(message) {
		return nil, fmt.Errorf("message truncated: header ends at %d, have %d bytes", offset, len(message))
	}
	return message[offset:], nil
}

// MakeSuccessReply frames an accepted SUCCESS reply carrying data, which
// must already be XDR encoded.
func MakeSuccessReply(xid uint32, data []byte) ([]byte, error) {
	return makeAcceptedReply(xid, RPCSuccess, data)
}

// MakeErrorReply frames an accepted reply with a non-success accept status.
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	return makeAcceptedReply(xid, acceptStat, nil)
}

// MakeProgMismatchReply reports the range of versions supported for the
// program a call asked for.
func MakeProgMismatchReply(xid uint32, low, high uint32) ([]byte, error) {
	var body [8]byte
	binary.BigEndian.PutUint32(body[0:4], low)
	binary.BigEndian.PutUint32(body[4:8], high)
	return makeAcceptedReply(xid, RPCProgMismatch, body[:])
}

func makeAcceptedReply(xid uint32, acceptStat uint32, data []byte) ([]byte, error) {
	reply := RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		Verf:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
		AcceptStat: acceptStat,
	}

	// 4-byte record mark + ~24-byte header
	buf := bytes.NewBuffer(make([]byte, 4, 28+len(data)))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	buf.Write(data)

	out := buf.Bytes()
	binary.BigEndian.PutUint32(out[0:4], 0x80000000|uint32(len(out)-4))
	return out, nil
}

// XdrPadding returns the number of zero bytes aligning length to 4.
func XdrPadding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}
