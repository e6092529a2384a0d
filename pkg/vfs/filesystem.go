package vfs

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/cache"
	"github.com/marmos91/rodsnfs/pkg/identity"
	"github.com/marmos91/rodsnfs/pkg/metrics"
	"github.com/marmos91/rodsnfs/pkg/permission"
	"github.com/marmos91/rodsnfs/pkg/registry"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

// Fixed attribute values reported by Getattr.
const (
	statDev   = 17
	statNlink = 1
	statRdev  = 0
)

// Config configures a FileSystem.
type Config struct {
	// MountPoint is the remote collection bound to the root handle.
	MountPoint string

	Sessions remote.SessionFactory
	Resolver *identity.Resolver
	Engine   *permission.Engine

	// FileInfoTTL bounds how long a Getattr result is reused per user.
	FileInfoTTL time.Duration

	Metrics      metrics.VFSMetrics
	CacheMetrics metrics.CacheMetrics

	// Now replaces time.Now, for tests. It is also used for the stat cache
	// clock and the fixed timestamp of structural collections.
	Now func() time.Time
}

// FileSystem implements VirtualFileSystem over a remote store.
type FileSystem struct {
	registry *registry.InodeRegistry
	sessions remote.SessionFactory
	resolver *identity.Resolver
	engine   *permission.Engine
	idmap    identity.IDMapping
	mount    string

	stats *cache.TTLCache[string, Stat]

	metrics  metrics.VFSMetrics
	now      func() time.Time
	started  time.Time
	nobodyID uint32
}

var _ VirtualFileSystem = (*FileSystem)(nil)

// New builds a FileSystem and binds the root handle to cfg.MountPoint.
func New(cfg Config) (*FileSystem, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("permission engine is required")
	}
	if !path.IsAbs(cfg.MountPoint) {
		return nil, fmt.Errorf("mount point must be an absolute path, got %q", cfg.MountPoint)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopVFSMetrics()
	}
	if cfg.CacheMetrics == nil {
		cfg.CacheMetrics = metrics.NewNoopCacheMetrics()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	nobodyUID, nobodyGID := cfg.Resolver.Nobody()
	mount := path.Clean(cfg.MountPoint)

	fs := &FileSystem{
		registry: registry.New(mount),
		sessions: cfg.Sessions,
		resolver: cfg.Resolver,
		engine:   cfg.Engine,
		idmap:    identity.NewIDMapping(nobodyUID, nobodyGID),
		mount:    mount,
		stats: cache.New[string, Stat]("stat", cfg.FileInfoTTL,
			cache.WithClock(now), cache.WithMetrics(cfg.CacheMetrics)),
		metrics:  cfg.Metrics,
		now:      now,
		started:  now(),
		nobodyID: uint32(nobodyUID),
	}

	logger.Info("vfs: filesystem ready", logger.KeyPath, mount)
	return fs, nil
}

// Registry exposes the inode registry, for adapters that need path names.
func (fs *FileSystem) Registry() *registry.InodeRegistry {
	return fs.registry
}

// call is the per-operation scope: the resolved principal and the remote
// sessions opened on its behalf. release closes every session it opened.
type call struct {
	fs        *FileSystem
	ctx       context.Context
	op        string
	start     time.Time
	principal *identity.Principal

	user  remote.Session
	admin remote.Session
}

// begin resolves the caller of op. A missing AuthContext runs as nobody.
func (fs *FileSystem) begin(auth *AuthContext, op string) (*call, error) {
	c := &call{fs: fs, ctx: auth.ctx(), op: op, start: time.Now()}

	uid := int(fs.nobodyID)
	if auth != nil {
		uid = int(auth.UID)
	}
	p, err := fs.resolver.Resolve(c.ctx, uid)
	if err != nil {
		err = translate(err, "", fmt.Sprintf("%s: cannot resolve uid %d", op, uid))
		fs.metrics.RecordOperation(op, time.Since(c.start), err)
		return nil, err
	}
	c.principal = p
	return c, nil
}

// release closes the sessions and records the outcome of the call.
func (c *call) release(err error) {
	if c.user != nil {
		if cerr := c.user.Close(); cerr != nil {
			logger.Warn("vfs: failed to close user session", logger.KeyProcedure, c.op, logger.KeyError, cerr)
		}
	}
	if c.admin != nil {
		if cerr := c.admin.Close(); cerr != nil {
			logger.Warn("vfs: failed to close admin session", logger.KeyProcedure, c.op, logger.KeyError, cerr)
		}
	}

	c.fs.metrics.RecordOperation(c.op, time.Since(c.start), err)
	c.fs.metrics.SetBoundHandles(c.fs.registry.Len())

	if err != nil {
		logger.DebugCtx(c.ctx, "vfs: operation failed",
			logger.KeyProcedure, c.op,
			logger.KeyUsername, c.principal.Name,
			logger.KeyError, err)
		return
	}
	logger.DebugCtx(c.ctx, "vfs: operation complete",
		logger.KeyProcedure, c.op,
		logger.KeyUsername, c.principal.Name,
		logger.KeyDurationMs, logger.Duration(c.start))
}

// userSession returns the session acting as the caller, opening it on
// first use.
func (c *call) userSession() (remote.Session, error) {
	if c.user != nil {
		return c.user, nil
	}
	s, err := c.fs.sessions.Open(c.ctx, c.principal.Account)
	if err != nil {
		return nil, translate(err, "", "open user session")
	}
	c.user = s
	return s, nil
}

// adminSession returns the proxy admin session, opening it on first use.
func (c *call) adminSession() (remote.Session, error) {
	if c.admin != nil {
		return c.admin, nil
	}
	s, err := c.fs.sessions.Open(c.ctx, c.fs.resolver.Proxy().Account)
	if err != nil {
		return nil, translate(err, "", "open admin session")
	}
	c.admin = s
	return s, nil
}

// pathOf decodes inode and returns the path bound to it.
func (c *call) pathOf(inode Inode) (registry.Handle, string, error) {
	h, err := DecodeInode(inode)
	if err != nil {
		return 0, "", err
	}
	p, err := c.fs.registry.PathOf(h)
	if err != nil {
		return 0, "", translate(err, "", "stale handle")
	}
	return h, p, nil
}

func (fs *FileSystem) RootInode() Inode {
	return EncodeInode(registry.RootHandle)
}

func (fs *FileSystem) IDMapper() identity.IDMapping {
	return fs.idmap
}

func (fs *FileSystem) HasIOLayout(Inode) bool {
	return false
}
