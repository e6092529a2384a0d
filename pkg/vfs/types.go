package vfs

import (
	"context"
	"time"
)

// Inode is the opaque file handle handed to protocol adapters: the XDR
// hyper encoding of a registry handle.
type Inode []byte

// FileType is the type requested at creation or reported in a DirectoryEntry.
type FileType uint8

const (
	FileTypeRegular FileType = iota + 1
	FileTypeDirectory
	FileTypeSymlink
	FileTypeBlock
	FileTypeChar
	FileTypeSocket
	FileTypeFifo
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "REGULAR"
	case FileTypeDirectory:
		return "DIRECTORY"
	case FileTypeSymlink:
		return "SYMLINK"
	case FileTypeBlock:
		return "BLOCK"
	case FileTypeChar:
		return "CHAR"
	case FileTypeSocket:
		return "SOCKET"
	case FileTypeFifo:
		return "FIFO"
	default:
		return "UNKNOWN"
	}
}

// Stat is the POSIX view of an object.
type Stat struct {
	Dev        uint64
	Ino        uint64
	Mode       uint32
	Nlink      uint32
	UID        uint32
	GID        uint32
	Rdev       uint64
	Size       uint64
	Fileid     uint64
	Generation uint64
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
}

// Type derives the file type from the mode bits.
func (s *Stat) Type() FileType {
	switch s.Mode & 0o170000 {
	case 0o040000:
		return FileTypeDirectory
	case 0o120000:
		return FileTypeSymlink
	case 0o060000:
		return FileTypeBlock
	case 0o020000:
		return FileTypeChar
	case 0o140000:
		return FileTypeSocket
	case 0o010000:
		return FileTypeFifo
	default:
		return FileTypeRegular
	}
}

// SetAttr carries the attributes a SETATTR request wants to change. Nil
// fields are left alone.
type SetAttr struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
}

// DirectoryEntry is one child in a listing. Cookie is the child's handle
// number, stable for as long as the binding lives.
type DirectoryEntry struct {
	Name   string
	Inode  Inode
	Stat   *Stat
	Cookie uint64
}

// DirectoryStream is the result of a listing.
type DirectoryStream struct {
	Verifier uint64
	Entries  []DirectoryEntry
}

// After returns the entries following the one with the given cookie. A zero
// cookie, or one that is no longer present, returns every entry.
func (d *DirectoryStream) After(cookie uint64) []DirectoryEntry {
	if cookie == 0 {
		return d.Entries
	}
	for i, e := range d.Entries {
		if e.Cookie == cookie {
			return d.Entries[i+1:]
		}
	}
	return d.Entries
}

// StabilityLevel is the NFSv4 stable_how4 of a write.
type StabilityLevel uint32

const (
	Unstable StabilityLevel = iota
	DataSync
	FileSync
)

func (s StabilityLevel) String() string {
	switch s {
	case Unstable:
		return "UNSTABLE"
	case DataSync:
		return "DATA_SYNC"
	default:
		return "FILE_SYNC"
	}
}

// WriteResult reports how much of a write was applied and how durably.
type WriteResult struct {
	Stability StabilityLevel
	Count     int
}

// FsStat are the filesystem-wide usage figures.
type FsStat struct {
	TotalSpace uint64
	TotalFiles uint64
	UsedSpace  uint64
	UsedFiles  uint64
}

// AuthContext identifies the caller of an operation. UID and GID come from
// the RPC credentials after any squashing the adapter applies.
type AuthContext struct {
	Context    context.Context
	UID        uint32
	GID        uint32
	GIDs       []uint32
	ClientAddr string
}

func (a *AuthContext) ctx() context.Context {
	if a == nil || a.Context == nil {
		return context.Background()
	}
	return a.Context
}
