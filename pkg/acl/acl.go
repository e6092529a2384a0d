// Package acl defines NFSv4 access control entries (RFC 7530 section 6.2.1)
// and their XDR encoding.
package acl

import (
	"bytes"
	"fmt"
	"strings"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// ACE types.
const (
	ACE4_ACCESS_ALLOWED_ACE_TYPE uint32 = 0x00000000
	ACE4_ACCESS_DENIED_ACE_TYPE  uint32 = 0x00000001
	ACE4_SYSTEM_AUDIT_ACE_TYPE   uint32 = 0x00000002
	ACE4_SYSTEM_ALARM_ACE_TYPE   uint32 = 0x00000003
)

// ACE flags.
const (
	ACE4_FILE_INHERIT_ACE         uint32 = 0x00000001
	ACE4_DIRECTORY_INHERIT_ACE    uint32 = 0x00000002
	ACE4_NO_PROPAGATE_INHERIT_ACE uint32 = 0x00000004
	ACE4_INHERIT_ONLY_ACE         uint32 = 0x00000008
	ACE4_IDENTIFIER_GROUP         uint32 = 0x00000040
)

// ACE access mask bits.
const (
	ACE4_READ_DATA         uint32 = 0x00000001
	ACE4_LIST_DIRECTORY    uint32 = 0x00000001
	ACE4_WRITE_DATA        uint32 = 0x00000002
	ACE4_ADD_FILE          uint32 = 0x00000002
	ACE4_APPEND_DATA       uint32 = 0x00000004
	ACE4_ADD_SUBDIRECTORY  uint32 = 0x00000004
	ACE4_READ_NAMED_ATTRS  uint32 = 0x00000008
	ACE4_WRITE_NAMED_ATTRS uint32 = 0x00000010
	ACE4_EXECUTE           uint32 = 0x00000020
	ACE4_DELETE_CHILD      uint32 = 0x00000040
	ACE4_READ_ATTRIBUTES   uint32 = 0x00000080
	ACE4_WRITE_ATTRIBUTES  uint32 = 0x00000100
	ACE4_DELETE            uint32 = 0x00010000
	ACE4_READ_ACL          uint32 = 0x00020000
	ACE4_WRITE_ACL         uint32 = 0x00040000
	ACE4_WRITE_OWNER       uint32 = 0x00080000
	ACE4_SYNCHRONIZE       uint32 = 0x00100000

	// ACE4_GENERIC_EXECUTE is the set requested by a traverse check.
	ACE4_GENERIC_EXECUTE uint32 = 0x001200A0
)

// Masks granted by each permission level.
const (
	MaskRead  = ACE4_READ_DATA
	MaskWrite = ACE4_READ_DATA | ACE4_WRITE_DATA | ACE4_APPEND_DATA
	MaskOwn   = ACE4_READ_DATA | ACE4_WRITE_DATA | ACE4_APPEND_DATA | ACE4_DELETE | ACE4_WRITE_OWNER
)

// Access is the outcome of an access check.
type Access int

const (
	Deny Access = iota
	Allow
)

func (a Access) String() string {
	if a == Allow {
		return "ALLOW"
	}
	return "DENY"
}

// ACE is one nfsace4 entry.
type ACE struct {
	Type       uint32
	Flag       uint32
	AccessMask uint32
	Who        string
}

// IsAllow reports whether the entry grants access.
func (a ACE) IsAllow() bool {
	return a.Type == ACE4_ACCESS_ALLOWED_ACE_TYPE
}

// IsGroup reports whether Who names a group.
func (a ACE) IsGroup() bool {
	return a.Flag&ACE4_IDENTIFIER_GROUP != 0
}

// Name returns the part of Who before the "@domain" suffix.
func (a ACE) Name() string {
	name, _, _ := strings.Cut(a.Who, "@")
	return name
}

func (a ACE) String() string {
	kind := "A"
	switch a.Type {
	case ACE4_ACCESS_DENIED_ACE_TYPE:
		kind = "D"
	case ACE4_SYSTEM_AUDIT_ACE_TYPE:
		kind = "U"
	case ACE4_SYSTEM_ALARM_ACE_TYPE:
		kind = "L"
	}
	flags := ""
	if a.IsGroup() {
		flags = "g"
	}
	return fmt.Sprintf("%s:%s:%s:0x%x", kind, flags, a.Who, a.AccessMask)
}

// Encode serializes aces as an XDR nfsace4 array.
func Encode(aces []ACE) ([]byte, error) {
	if aces == nil {
		aces = []ACE{}
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, aces); err != nil {
		return nil, fmt.Errorf("encode acl: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an XDR nfsace4 array.
func Decode(data []byte) ([]ACE, error) {
	var aces []ACE
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &aces); err != nil {
		return nil, fmt.Errorf("decode acl: %w", err)
	}
	return aces, nil
}
