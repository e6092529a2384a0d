package vfs

import (
	"errors"
	"fmt"

	"github.com/marmos91/rodsnfs/pkg/identity"
	"github.com/marmos91/rodsnfs/pkg/registry"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

// Error is returned by every VirtualFileSystem operation.
//
// Protocol adapters translate Code into protocol status codes (for NFSv4:
// NFS4ERR_STALE, NFS4ERR_NOENT, NFS4ERR_IO and so on).
type Error struct {
	Code    ErrorCode
	Message string

	// Path is the remote path involved, if known.
	Path string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so callers can write
// errors.Is(err, &vfs.Error{Code: vfs.ErrNoSuchEntry}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode is the category of an Error.
type ErrorCode int

const (
	// ErrNotFound: the handle (or path) is not bound in the inode registry.
	// Adapters report it as a stale handle.
	ErrNotFound ErrorCode = iota

	// ErrNoSuchEntry: the remote store has no object at the path.
	ErrNoSuchEntry

	// ErrUserNotFound: the calling uid cannot be resolved to a principal.
	ErrUserNotFound

	// ErrRemoteStoreFailure: any other failure of the remote store.
	ErrRemoteStoreFailure

	ErrInvalidArgument
	ErrNotSupported

	// ErrAccessDenied: the remote store refused the operation.
	ErrAccessDenied

	ErrAlreadyExists
	ErrNotEmpty
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrNoSuchEntry:
		return "NoSuchEntry"
	case ErrUserNotFound:
		return "UserNotFound"
	case ErrRemoteStoreFailure:
		return "RemoteStoreFailure"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrNotSupported:
		return "NotSupported"
	case ErrAccessDenied:
		return "AccessDenied"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrNotEmpty:
		return "NotEmpty"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

func newError(code ErrorCode, path, message string, err error) *Error {
	return &Error{Code: code, Message: message, Path: path, Err: err}
}

// CodeOf returns the code of the *Error in err's chain, and false if there is
// none.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// translate maps errors of the lower layers onto an *Error.
func translate(err error, path, message string) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	code := ErrRemoteStoreFailure
	switch {
	case errors.Is(err, registry.ErrNotBound):
		code = ErrNotFound
	case errors.Is(err, remote.ErrNoSuchObject):
		code = ErrNoSuchEntry
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, remote.ErrUserNotFound):
		code = ErrUserNotFound
	case errors.Is(err, remote.ErrAccessDenied), errors.Is(err, remote.ErrAuthentication):
		code = ErrAccessDenied
	case errors.Is(err, remote.ErrAlreadyExists):
		code = ErrAlreadyExists
	case errors.Is(err, remote.ErrNotEmpty):
		code = ErrNotEmpty
	case errors.Is(err, remote.ErrInvalidPath),
		errors.Is(err, remote.ErrNotCollection),
		errors.Is(err, remote.ErrNotDataObject):
		code = ErrInvalidArgument
	}
	return newError(code, path, message, err)
}
