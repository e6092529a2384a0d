package remote

import (
	"context"
	"io"
)

// SessionFactory opens account-scoped sessions.
type SessionFactory interface {
	// Open authenticates acct and returns a live session. The caller must
	// Close it.
	Open(ctx context.Context, acct Account) (Session, error)
}

// RandomAccessFile is an open data object positioned with Seek.
type RandomAccessFile interface {
	io.ReadWriteSeeker
	io.Closer
}

// Session is a connection to the remote store acting as one account.
//
// All paths are absolute, slash separated and cleaned. Unless stated
// otherwise, operations are checked against the permissions of the session
// account; admin accounts bypass those checks.
type Session interface {
	// Account returns the account the session acts as.
	Account() Account

	// Stat returns the metadata of path, or ErrNoSuchObject.
	Stat(ctx context.Context, path string) (*ObjStat, error)

	// List returns the children of a collection, sorted by name.
	List(ctx context.Context, path string) ([]Entry, error)

	CreateDataObject(ctx context.Context, path string) error
	CreateCollection(ctx context.Context, path string) error

	// DeleteDataObject removes a data object and its content.
	DeleteDataObject(ctx context.Context, path string) error

	// DeleteCollection removes an empty collection, or ErrNotEmpty.
	DeleteCollection(ctx context.Context, path string) error

	RenameDataObject(ctx context.Context, src, dst string) error

	// RenameCollection renames a collection and everything below it.
	RenameCollection(ctx context.Context, src, dst string) error

	// OpenRandomAccess opens a data object for reading and writing at
	// arbitrary offsets.
	OpenRandomAccess(ctx context.Context, path string) (RandomAccessFile, error)

	ListCollectionPermissions(ctx context.Context, path string) ([]Permission, error)
	ListDataObjectPermissions(ctx context.Context, path string) ([]Permission, error)

	// Grant sets the level of user on path. The session account must own path.
	Grant(ctx context.Context, kind ObjectKind, zone, path, user string, level AccessLevel) error

	// Revoke removes any permission of user on path. The session account
	// must own path.
	Revoke(ctx context.Context, kind ObjectKind, zone, path, user string) error

	// GrantAsAdmin and RevokeAsAdmin do the same without ownership checks.
	// They fail with ErrAccessDenied unless the session account is an admin.
	GrantAsAdmin(ctx context.Context, kind ObjectKind, zone, path, user string, level AccessLevel) error
	RevokeAsAdmin(ctx context.Context, kind ObjectKind, zone, path, user string) error

	// GroupsForUser returns the names of the groups user belongs to.
	GroupsForUser(ctx context.Context, user string) ([]string, error)

	// FindUser looks up an account by name, or ErrUserNotFound.
	FindUser(ctx context.Context, name string) (*User, error)

	// Close releases the session. It is safe to call more than once.
	Close() error
}
