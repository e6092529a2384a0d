// Package vfs exposes the remote store as the filesystem contract an NFSv4
// protocol adapter consumes.
//
// Handles are process-lifetime inode numbers kept in an inode registry.
// Every operation resolves the calling uid to a principal, opens
// the remote sessions it needs for that call only, and closes them before
// returning, whatever the outcome.
package vfs

import (
	"github.com/marmos91/rodsnfs/pkg/acl"
	"github.com/marmos91/rodsnfs/pkg/identity"
)

// VirtualFileSystem is the set of operations a protocol adapter invokes.
// Implementations must be safe for concurrent use. Every error returned is
// an *Error.
type VirtualFileSystem interface {
	// RootInode returns the handle of the mount point.
	RootInode() Inode

	// Lookup resolves name below parent. A name with slashes is resolved
	// as a relative path. ErrNoSuchEntry if the remote store has no object
	// there.
	Lookup(auth *AuthContext, parent Inode, name string) (Inode, error)

	// List returns the children of dir with their attributes.
	List(auth *AuthContext, dir Inode) (*DirectoryStream, error)

	// DirectoryVerifier returns the change verifier of dir, constant zero.
	DirectoryVerifier(auth *AuthContext, dir Inode) (uint64, error)

	// Create makes a data object. Only FileTypeRegular is accepted.
	Create(auth *AuthContext, parent Inode, ftype FileType, name string, mode uint32) (Inode, error)

	Mkdir(auth *AuthContext, parent Inode, name string, mode uint32) (Inode, error)
	Remove(auth *AuthContext, parent Inode, name string) error

	// Move renames srcDir/oldName to dstDir/newName, keeping the handle. An
	// empty newName keeps the old name.
	Move(auth *AuthContext, srcDir Inode, oldName string, dstDir Inode, newName string) (bool, error)

	// Read fills data from offset and returns the byte count. Fewer bytes
	// than requested means the end of the object was reached.
	Read(auth *AuthContext, inode Inode, data []byte, offset int64) (int, error)

	// Write writes data at offset. Writes are always FILE_SYNC.
	Write(auth *AuthContext, inode Inode, data []byte, offset int64, stability StabilityLevel) (WriteResult, error)

	Commit(auth *AuthContext, inode Inode, offset int64, count int) error

	Getattr(auth *AuthContext, inode Inode) (*Stat, error)

	// Setattr accepts every change but applies none of them.
	Setattr(auth *AuthContext, inode Inode, attr SetAttr) error

	GetACL(auth *AuthContext, inode Inode) ([]acl.ACE, error)

	// SetACL makes the permissions of inode match aces. An empty list
	// changes nothing.
	SetACL(auth *AuthContext, inode Inode, aces []acl.ACE) error

	// CheckACL is the authoritative access decision for mask.
	CheckACL(auth *AuthContext, inode Inode, mask uint32) (acl.Access, error)

	// Access returns mask unchanged; decisions are made by CheckACL.
	Access(auth *AuthContext, inode Inode, mask uint32) (uint32, error)

	Symlink(auth *AuthContext, parent Inode, name, target string, mode uint32) (Inode, error)
	Link(auth *AuthContext, parent Inode, existing Inode, name string) (Inode, error)
	Readlink(auth *AuthContext, inode Inode) (string, error)

	// ParentOf returns the handle of the collection containing inode. The
	// root is its own parent.
	ParentOf(auth *AuthContext, inode Inode) (Inode, error)

	FsStat(auth *AuthContext) (*FsStat, error)

	HasIOLayout(inode Inode) bool

	// IDMapper translates NFSv4 owner strings.
	IDMapper() identity.IDMapping
}
