package remote

import "errors"

var (
	// ErrNoSuchObject is returned when a path does not exist in the store.
	ErrNoSuchObject = errors.New("no such object")

	// ErrUserNotFound is returned when an account name is unknown.
	ErrUserNotFound = errors.New("user not found")

	// ErrAuthentication is returned by SessionFactory.Open for bad credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAccessDenied is returned when the session account lacks permission.
	ErrAccessDenied = errors.New("access denied")

	ErrAlreadyExists = errors.New("object already exists")
	ErrNotEmpty      = errors.New("collection not empty")
	ErrNotCollection = errors.New("not a collection")
	ErrNotDataObject = errors.New("not a data object")

	// ErrInvalidPath is returned for relative or malformed paths.
	ErrInvalidPath = errors.New("invalid path")

	// ErrSessionClosed is returned by any call on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnexpectedKind is wrapped by ObjectKind.Validate.
	ErrUnexpectedKind = errors.New("unexpected object kind")
)
