package vfs

import (
	"fmt"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/registry"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

func (fs *FileSystem) Getattr(auth *AuthContext, inode Inode) (_ *Stat, err error) {
	c, err := fs.begin(auth, "GETATTR")
	if err != nil {
		return nil, err
	}
	defer func() { c.release(err) }()

	h, p, err := c.pathOf(inode)
	if err != nil {
		return nil, err
	}
	return c.stat(h, p)
}

// stat returns the attributes of p as seen by the caller, from the stat
// cache when possible. Ino and Fileid are always those of h.
func (c *call) statKey(p string) string {
	return c.principal.Name + "_" + p
}

func (c *call) stat(h registry.Handle, p string) (*Stat, error) {
	key := c.statKey(p)
	st, ok := c.fs.stats.Get(key)
	if !ok {
		fresh, err := c.statRemote(p)
		if err != nil {
			return nil, err
		}
		st = *fresh
		c.fs.stats.Put(key, st)
	}

	st.Ino = uint64(h)
	st.Fileid = uint64(h)
	return &st, nil
}

func (c *call) statRemote(p string) (*Stat, error) {
	admin, err := c.adminSession()
	if err != nil {
		return nil, err
	}
	obj, err := admin.Stat(c.ctx, p)
	if err != nil {
		return nil, translate(err, p, "stat")
	}
	if err := obj.Kind.Validate(); err != nil {
		return nil, newError(ErrRemoteStoreFailure, p, "stat", err)
	}

	engine := c.fs.engine
	perms, err := engine.PermissionsFor(c.ctx, admin, p)
	if err != nil {
		return nil, translate(err, p, "list permissions")
	}
	mode, err := engine.Mode(c.ctx, admin, p, obj.Kind, perms, c.principal.Name)
	if err != nil {
		return nil, translate(err, p, "compute mode")
	}
	_, holds, err := engine.HighestPermission(c.ctx, admin, perms, c.principal.Name)
	if err != nil {
		return nil, translate(err, p, "resolve permission")
	}

	uid := c.fs.nobodyID
	if holds {
		uid = uint32(c.fs.resolver.UIDForName(c.principal.Name))
	}

	st := &Stat{
		Dev:   statDev,
		Mode:  mode,
		Nlink: statNlink,
		UID:   uid,
		GID:   c.fs.nobodyGID(),
		Rdev:  statRdev,
	}
	if obj.Size > 0 {
		st.Size = uint64(obj.Size)
	}

	if obj.Kind == remote.KindCollectionStandIn || engine.IsSpecialCollection(p) {
		st.Atime = c.fs.started
		st.Mtime = c.fs.started
		st.Ctime = c.fs.started
	} else {
		st.Atime = obj.ModifiedAt
		st.Mtime = obj.ModifiedAt
		st.Ctime = obj.CreatedAt
	}
	if ms := st.Mtime.UnixMilli(); ms > 0 {
		st.Generation = uint64(ms)
	}
	return st, nil
}

func (fs *FileSystem) nobodyGID() uint32 {
	_, gid := fs.resolver.Nobody()
	return uint32(gid)
}

func (fs *FileSystem) Setattr(auth *AuthContext, inode Inode, attr SetAttr) (err error) {
	c, err := fs.begin(auth, "SETATTR")
	if err != nil {
		return err
	}
	defer func() { c.release(err) }()

	_, p, err := c.pathOf(inode)
	if err != nil {
		return err
	}

	if attr.Mode != nil {
		logger.Warn("vfs: ignoring mode change", logger.KeyPath, p, logger.KeyMode, fmt.Sprintf("%o", *attr.Mode))
	}
	if attr.Size != nil {
		logger.Warn("vfs: ignoring size change", logger.KeyPath, p, logger.KeySize, *attr.Size)
	}
	if attr.UID != nil || attr.GID != nil || attr.Atime != nil || attr.Mtime != nil {
		logger.Debug("vfs: ignoring ownership or time change", logger.KeyPath, p)
	}
	return nil
}

func (fs *FileSystem) FsStat(auth *AuthContext) (_ *FsStat, err error) {
	c, err := fs.begin(auth, "FSSTAT")
	if err != nil {
		return nil, err
	}
	defer func() { c.release(err) }()

	return &FsStat{}, nil
}

func (fs *FileSystem) Commit(auth *AuthContext, inode Inode, offset int64, count int) (err error) {
	c, err := fs.begin(auth, "COMMIT")
	if err != nil {
		return err
	}
	defer func() { c.release(err) }()

	_, _, err = c.pathOf(inode)
	return err
}
