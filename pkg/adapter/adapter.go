package adapter

import (
	"context"

	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// Adapter is a protocol front end managed by the server.
//
// Every adapter shares the same VirtualFileSystem, so a change made through
// one protocol is visible through the others.
//
// Lifecycle:
//  1. Creation with protocol-specific configuration
//  2. SetFileSystem injects the shared filesystem
//  3. Serve blocks until the context is cancelled
//  4. Stop initiates graceful shutdown
//
// Thread safety:
// SetFileSystem is called once before Serve. Stop may be called
// concurrently with Serve and must be idempotent.
type Adapter interface {
	// Serve starts the protocol server and blocks until ctx is cancelled or
	// an unrecoverable error occurs. It returns nil or context.Canceled on
	// graceful shutdown. Returning early with an error makes the server stop
	// every other adapter.
	Serve(ctx context.Context) error

	// SetFileSystem injects the shared filesystem.
	SetFileSystem(fs vfs.VirtualFileSystem)

	// Stop initiates graceful shutdown, bounded by ctx.
	Stop(ctx context.Context) error

	// Protocol is the constant protocol name used in logs and metrics.
	Protocol() string

	// Port is the TCP port the adapter listens on.
	Port() int
}
