package vfs

import (
	"fmt"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/acl"
	"github.com/marmos91/rodsnfs/pkg/permission"
)

func (fs *FileSystem) GetACL(auth *AuthContext, inode Inode) (_ []acl.ACE, err error) {
	c, err := fs.begin(auth, "GETACL")
	if err != nil {
		return nil, err
	}
	defer func() { c.release(err) }()

	_, p, err := c.pathOf(inode)
	if err != nil {
		return nil, err
	}
	admin, err := c.adminSession()
	if err != nil {
		return nil, err
	}

	aces, err := fs.engine.ACL(c.ctx, admin, p)
	if err != nil {
		return nil, translate(err, p, "get acl")
	}
	return aces, nil
}

func (fs *FileSystem) SetACL(auth *AuthContext, inode Inode, aces []acl.ACE) (err error) {
	c, err := fs.begin(auth, "SETACL")
	if err != nil {
		return err
	}
	defer func() { c.release(err) }()

	_, p, err := c.pathOf(inode)
	if err != nil {
		return err
	}
	if len(aces) == 0 {
		logger.Warn("vfs: empty ACL ignored", logger.KeyPath, p, logger.KeyUsername, c.principal.Name)
		return nil
	}

	admin, err := c.adminSession()
	if err != nil {
		return err
	}
	d, err := fs.engine.Diff(c.ctx, admin, p, aces)
	if err != nil {
		return translate(err, p, "diff acl")
	}
	if d.Empty() {
		return nil
	}
	if err := fs.engine.ApplyDiff(c.ctx, admin, p, d); err != nil {
		return translate(err, p, "apply acl")
	}

	logger.Info("vfs: acl updated",
		logger.KeyPath, p,
		logger.KeyUsername, c.principal.Name,
		"added", len(d.Added),
		"removed", len(d.Removed))
	return nil
}

func (fs *FileSystem) CheckACL(auth *AuthContext, inode Inode, mask uint32) (_ acl.Access, err error) {
	c, err := fs.begin(auth, "CHECKACL")
	if err != nil {
		return acl.Deny, err
	}
	defer func() { c.release(err) }()

	_, p, err := c.pathOf(inode)
	if err != nil {
		return acl.Deny, err
	}
	admin, err := c.adminSession()
	if err != nil {
		return acl.Deny, err
	}

	subject := permission.Subject{UID: c.principal.UID, Name: c.principal.Name}
	decision, err := fs.engine.CheckACL(c.ctx, admin, subject, p, mask)
	if err != nil {
		return acl.Deny, translate(err, p, fmt.Sprintf("check access 0x%x", mask))
	}
	return decision, nil
}

func (fs *FileSystem) Access(auth *AuthContext, inode Inode, mask uint32) (_ uint32, err error) {
	c, err := fs.begin(auth, "ACCESS")
	if err != nil {
		return 0, err
	}
	defer func() { c.release(err) }()

	if _, _, err := c.pathOf(inode); err != nil {
		return 0, err
	}
	return mask, nil
}
