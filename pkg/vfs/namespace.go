package vfs

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/registry"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

// childPath joins name onto parent. name may hold several components, but
// the result never leaves the export.
func (fs *FileSystem) childPath(parent, name string) (string, error) {
	if name == "" {
		return "", newError(ErrInvalidArgument, parent, "empty name", nil)
	}
	target := path.Join(parent, name)
	if !within(fs.mount, target) {
		return "", newError(ErrAccessDenied, target, "outside the export", nil)
	}
	return target, nil
}

// entryPath is childPath for operations that change the namespace: the
// target must lie strictly below parent.
func (fs *FileSystem) entryPath(parent, name string) (string, error) {
	target, err := fs.childPath(parent, name)
	if err != nil {
		return "", err
	}
	if target == parent || !within(parent, target) {
		return "", newError(ErrInvalidArgument, target, fmt.Sprintf("%q is not an entry of %s", name, parent), nil)
	}
	return target, nil
}

// within reports whether p is root or lies below it.
func within(root, p string) bool {
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

func (fs *FileSystem) Lookup(auth *AuthContext, parent Inode, name string) (_ Inode, err error) {
	c, err := fs.begin(auth, "LOOKUP")
	if err != nil {
		return nil, err
	}
	defer func() { c.release(err) }()

	_, parentPath, err := c.pathOf(parent)
	if err != nil {
		return nil, err
	}
	target, err := fs.childPath(parentPath, name)
	if err != nil {
		return nil, err
	}

	admin, err := c.adminSession()
	if err != nil {
		return nil, err
	}
	if _, err := admin.Stat(c.ctx, target); err != nil {
		if errors.Is(err, remote.ErrNoSuchObject) {
			if h, ok := fs.registry.UnbindPath(target); ok {
				logger.Debug("vfs: dropped stale binding", logger.KeyPath, target, logger.KeyHandle, uint64(h))
			}
			return nil, newError(ErrNoSuchEntry, target, "no such entry", err)
		}
		return nil, translate(err, target, "lookup")
	}

	return EncodeInode(fs.registry.HandleOrBind(target)), nil
}

func (fs *FileSystem) List(auth *AuthContext, dir Inode) (_ *DirectoryStream, err error) {
	c, err := fs.begin(auth, "READDIR")
	if err != nil {
		return nil, err
	}
	defer func() { c.release(err) }()

	_, dirPath, err := c.pathOf(dir)
	if err != nil {
		return nil, err
	}
	user, err := c.userSession()
	if err != nil {
		return nil, err
	}

	children, err := user.List(c.ctx, dirPath)
	if err != nil {
		return nil, translate(err, dirPath, "list")
	}

	stream := &DirectoryStream{Entries: make([]DirectoryEntry, 0, len(children))}
	for _, child := range children {
		p := path.Join(dirPath, child.Name)
		h := fs.registry.HandleOrBind(p)
		st, err := c.stat(h, p)
		if err != nil {
			if IsCode(err, ErrNoSuchEntry) {
				// Removed between the listing and the stat.
				fs.registry.Unbind(h, p)
				continue
			}
			return nil, err
		}
		stream.Entries = append(stream.Entries, DirectoryEntry{
			Name:   child.Name,
			Inode:  EncodeInode(h),
			Stat:   st,
			Cookie: uint64(h),
		})
	}
	return stream, nil
}

func (fs *FileSystem) DirectoryVerifier(auth *AuthContext, dir Inode) (_ uint64, err error) {
	c, err := fs.begin(auth, "VERIFIER")
	if err != nil {
		return 0, err
	}
	defer func() { c.release(err) }()

	if _, _, err := c.pathOf(dir); err != nil {
		return 0, err
	}
	return 0, nil
}

func (fs *FileSystem) Create(auth *AuthContext, parent Inode, ftype FileType, name string, mode uint32) (_ Inode, err error) {
	c, err := fs.begin(auth, "CREATE")
	if err != nil {
		return nil, err
	}
	defer func() { c.release(err) }()

	if ftype != FileTypeRegular {
		return nil, newError(ErrInvalidArgument, name, fmt.Sprintf("cannot create objects of type %s", ftype), nil)
	}
	return c.make(parent, name, mode, remote.KindDataObject)
}

func (fs *FileSystem) Mkdir(auth *AuthContext, parent Inode, name string, mode uint32) (_ Inode, err error) {
	c, err := fs.begin(auth, "MKDIR")
	if err != nil {
		return nil, err
	}
	defer func() { c.release(err) }()

	return c.make(parent, name, mode, remote.KindCollection)
}

// make creates a data object or collection as the caller and binds it to a
// fresh handle.
func (c *call) make(parent Inode, name string, mode uint32, kind remote.ObjectKind) (Inode, error) {
	_, parentPath, err := c.pathOf(parent)
	if err != nil {
		return nil, err
	}
	target, err := c.fs.entryPath(parentPath, name)
	if err != nil {
		return nil, err
	}
	user, err := c.userSession()
	if err != nil {
		return nil, err
	}

	if kind == remote.KindCollection {
		err = user.CreateCollection(c.ctx, target)
	} else {
		err = user.CreateDataObject(c.ctx, target)
	}
	if err != nil {
		return nil, translate(err, target, "create")
	}

	h := c.fs.registry.Allocate()
	c.fs.registry.Bind(h, target)

	logger.Debug("vfs: created",
		logger.KeyPath, target,
		logger.KeyKind, kind.String(),
		logger.KeyMode, fmt.Sprintf("%o", mode),
		logger.KeyHandle, uint64(h))
	return EncodeInode(h), nil
}

func (fs *FileSystem) Remove(auth *AuthContext, parent Inode, name string) (err error) {
	c, err := fs.begin(auth, "REMOVE")
	if err != nil {
		return err
	}
	defer func() { c.release(err) }()

	_, parentPath, err := c.pathOf(parent)
	if err != nil {
		return err
	}
	target, err := fs.entryPath(parentPath, name)
	if err != nil {
		return err
	}

	admin, err := c.adminSession()
	if err != nil {
		return err
	}
	st, err := admin.Stat(c.ctx, target)
	if err != nil {
		if errors.Is(err, remote.ErrNoSuchObject) {
			fs.registry.UnbindPath(target)
		}
		return translate(err, target, "remove")
	}

	user, err := c.userSession()
	if err != nil {
		return err
	}
	switch st.Kind {
	case remote.KindDataObject:
		err = user.DeleteDataObject(c.ctx, target)
	case remote.KindCollection:
		err = user.DeleteCollection(c.ctx, target)
	default:
		err = st.Kind.Validate()
		if err == nil {
			err = fmt.Errorf("cannot remove %s: %w", st.Kind, remote.ErrAccessDenied)
		}
	}
	if err != nil {
		return translate(err, target, "remove")
	}

	fs.registry.UnbindPath(target)
	if st.Kind == remote.KindCollection {
		fs.registry.UnbindSubtree(target)
	}
	fs.stats.Delete(c.statKey(target))
	return nil
}

func (fs *FileSystem) Move(auth *AuthContext, srcDir Inode, oldName string, dstDir Inode, newName string) (_ bool, err error) {
	c, err := fs.begin(auth, "RENAME")
	if err != nil {
		return false, err
	}
	defer func() { c.release(err) }()

	_, srcParent, err := c.pathOf(srcDir)
	if err != nil {
		return false, err
	}
	_, dstParent, err := c.pathOf(dstDir)
	if err != nil {
		return false, err
	}
	if newName == "" {
		newName = oldName
	}
	src, err := fs.entryPath(srcParent, oldName)
	if err != nil {
		return false, err
	}
	dst, err := fs.entryPath(dstParent, newName)
	if err != nil {
		return false, err
	}
	if src == dst {
		return true, nil
	}

	admin, err := c.adminSession()
	if err != nil {
		return false, err
	}
	st, err := admin.Stat(c.ctx, src)
	if err != nil {
		return false, translate(err, src, "rename")
	}

	user, err := c.userSession()
	if err != nil {
		return false, err
	}
	switch st.Kind {
	case remote.KindDataObject:
		err = user.RenameDataObject(c.ctx, src, dst)
	case remote.KindCollection:
		err = user.RenameCollection(c.ctx, src, dst)
	default:
		err = st.Kind.Validate()
		if err == nil {
			err = fmt.Errorf("cannot rename %s: %w", st.Kind, remote.ErrAccessDenied)
		}
	}
	if err != nil {
		return false, translate(err, src, "rename")
	}

	if h, err := fs.registry.HandleOf(src); err == nil {
		fs.registry.Rebind(h, src, dst)
	} else {
		fs.registry.UnbindPath(dst)
	}
	moved := 0
	if st.Kind == remote.KindCollection {
		moved = fs.registry.RebindSubtree(src, dst)
	}

	logger.Debug("vfs: renamed",
		logger.KeyOldPath, src,
		logger.KeyNewPath, dst,
		"descendants_rebound", moved)
	return true, nil
}

func (fs *FileSystem) ParentOf(auth *AuthContext, inode Inode) (_ Inode, err error) {
	c, err := fs.begin(auth, "LOOKUPP")
	if err != nil {
		return nil, err
	}
	defer func() { c.release(err) }()

	h, p, err := c.pathOf(inode)
	if err != nil {
		return nil, err
	}
	if h == registry.RootHandle {
		return EncodeInode(registry.RootHandle), nil
	}
	return EncodeInode(fs.registry.HandleOrBind(path.Dir(p))), nil
}

func (fs *FileSystem) Symlink(auth *AuthContext, parent Inode, name, target string, mode uint32) (Inode, error) {
	return nil, fs.unsupported(auth, "SYMLINK")
}

func (fs *FileSystem) Link(auth *AuthContext, parent Inode, existing Inode, name string) (Inode, error) {
	return nil, fs.unsupported(auth, "LINK")
}

func (fs *FileSystem) Readlink(auth *AuthContext, inode Inode) (string, error) {
	return "", fs.unsupported(auth, "READLINK")
}

func (fs *FileSystem) unsupported(auth *AuthContext, op string) error {
	err := newError(ErrNotSupported, "", op+" is not supported", nil)
	fs.metrics.RecordOperation(op, 0, err)
	return err
}
