package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/content"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

type session struct {
	catalog *Catalog
	account remote.Account
	actor   *userRecord

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ remote.Session = (*session)(nil)

func (s *session) Account() remote.Account {
	return s.account
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.catalog.openSessions.Add(-1)
	})
	return nil
}

// begin validates the session and ctx, and cleans p.
func (s *session) begin(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return "", remote.ErrSessionClosed
	}
	if p == "" {
		return "", nil
	}
	return cleanPath(p)
}

func (s *session) isAdmin() bool {
	return s.actor.Kind == remote.ActorAdmin
}

// levelOn returns the effective level of the session account on rec: the
// highest of its own entry and the entries of its groups.
func (s *session) levelOn(rec *objectRecord) remote.AccessLevel {
	if s.isAdmin() {
		return remote.LevelOwn
	}
	level := rec.ACL[s.actor.Name]
	for _, g := range s.actor.Groups {
		if l := rec.ACL[g]; l > level {
			level = l
		}
	}
	return level
}

func (s *session) require(rec *objectRecord, p string, want remote.AccessLevel) error {
	if s.levelOn(rec) < want {
		return fmt.Errorf("%s needs %s on %s: %w", s.actor.Name, want, p, remote.ErrAccessDenied)
	}
	return nil
}

func (s *session) Stat(ctx context.Context, p string) (*remote.ObjStat, error) {
	p, err := s.begin(ctx, p)
	if err != nil {
		return nil, err
	}

	var stat *remote.ObjStat
	err = s.catalog.kv.View(func(txn Txn) error {
		rec, err := getObject(txn, p)
		if err != nil {
			return err
		}

		st := &remote.ObjStat{
			Path:       p,
			Kind:       rec.Kind,
			Size:       rec.Size,
			OwnerName:  rec.Owner,
			OwnerZone:  rec.OwnerZone,
			CreatedAt:  rec.CreatedAt,
			ModifiedAt: rec.ModifiedAt,
		}
		if s.levelOn(rec) == remote.LevelNone {
			if rec.Kind == remote.KindDataObject {
				return fmt.Errorf("%s: %w", p, remote.ErrNoSuchObject)
			}
			st = &remote.ObjStat{Path: p, Kind: remote.KindCollectionStandIn}
		}
		stat = st
		return nil
	})
	return stat, err
}

func (s *session) List(ctx context.Context, p string) ([]remote.Entry, error) {
	p, err := s.begin(ctx, p)
	if err != nil {
		return nil, err
	}

	var entries []remote.Entry
	err = s.catalog.kv.View(func(txn Txn) error {
		rec, err := getObject(txn, p)
		if err != nil {
			return err
		}
		if rec.Kind != remote.KindCollection {
			return fmt.Errorf("%s: %w", p, remote.ErrNotCollection)
		}
		if err := s.require(rec, p, remote.LevelRead); err != nil {
			return err
		}
		entries, err = listChildren(txn, p)
		return err
	})
	return entries, err
}

func (s *session) CreateDataObject(ctx context.Context, p string) error {
	return s.create(ctx, p, remote.KindDataObject)
}

func (s *session) CreateCollection(ctx context.Context, p string) error {
	return s.create(ctx, p, remote.KindCollection)
}

func (s *session) create(ctx context.Context, p string, kind remote.ObjectKind) error {
	p, err := s.begin(ctx, p)
	if err != nil {
		return err
	}
	if p == "/" {
		return fmt.Errorf("%s: %w", p, remote.ErrAlreadyExists)
	}

	err = s.catalog.kv.Update(func(txn Txn) error {
		parentPath, _ := splitPath(p)
		parent, err := getObject(txn, parentPath)
		if err != nil {
			return err
		}
		if parent.Kind != remote.KindCollection {
			return fmt.Errorf("%s: %w", parentPath, remote.ErrNotCollection)
		}
		if err := s.require(parent, parentPath, remote.LevelWrite); err != nil {
			return err
		}
		exists, err := objectExists(txn, p)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", p, remote.ErrAlreadyExists)
		}

		ts := s.catalog.timestamp()
		rec := &objectRecord{
			Kind:       kind,
			Owner:      s.actor.Name,
			OwnerZone:  s.actor.Zone,
			CreatedAt:  ts,
			ModifiedAt: ts,
			ACL:        map[string]remote.AccessLevel{s.actor.Name: remote.LevelOwn},
		}
		if kind == remote.KindDataObject {
			rec.ContentID = content.ContentID(uuid.NewString())
		}
		if err := s.catalog.insertObject(txn, p, rec); err != nil {
			return err
		}
		parent.ModifiedAt = ts
		return putObject(txn, parentPath, parent)
	})
	if err != nil {
		return err
	}

	logger.Debug("catalog: created", logger.KeyPath, p, logger.KeyKind, kind.String(), logger.KeyUsername, s.actor.Name)
	return nil
}

func (s *session) DeleteDataObject(ctx context.Context, p string) error {
	p, err := s.begin(ctx, p)
	if err != nil {
		return err
	}

	var contentID content.ContentID
	err = s.catalog.kv.Update(func(txn Txn) error {
		rec, err := s.removable(txn, p)
		if err != nil {
			return err
		}
		if rec.Kind != remote.KindDataObject {
			return fmt.Errorf("%s: %w", p, remote.ErrNotDataObject)
		}
		contentID = rec.ContentID
		return s.unlink(txn, p)
	})
	if err != nil {
		return err
	}

	if contentID != "" {
		if err := s.catalog.content.Delete(ctx, contentID); err != nil {
			logger.Warn("catalog: failed to delete content", logger.KeyPath, p, logger.KeyError, err)
		}
	}
	return nil
}

func (s *session) DeleteCollection(ctx context.Context, p string) error {
	p, err := s.begin(ctx, p)
	if err != nil {
		return err
	}
	if p == "/" {
		return fmt.Errorf("cannot delete the root collection: %w", remote.ErrAccessDenied)
	}

	return s.catalog.kv.Update(func(txn Txn) error {
		rec, err := s.removable(txn, p)
		if err != nil {
			return err
		}
		if rec.Kind != remote.KindCollection {
			return fmt.Errorf("%s: %w", p, remote.ErrNotCollection)
		}
		children, err := listChildren(txn, p)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("%s: %w", p, remote.ErrNotEmpty)
		}
		return s.unlink(txn, p)
	})
}

// removable loads p and checks the session may delete it.
func (s *session) removable(txn Txn, p string) (*objectRecord, error) {
	rec, err := getObject(txn, p)
	if err != nil {
		return nil, err
	}
	if err := s.require(rec, p, remote.LevelWrite); err != nil {
		return nil, err
	}
	return rec, nil
}

// unlink removes p and its entry in the parent's child index.
func (s *session) unlink(txn Txn, p string) error {
	parentPath, name := splitPath(p)
	if err := txn.Delete(keyObject(p)); err != nil {
		return err
	}
	if err := txn.Delete(keyChild(parentPath, name)); err != nil {
		return err
	}
	parent, err := getObject(txn, parentPath)
	if err != nil {
		return err
	}
	parent.ModifiedAt = s.catalog.timestamp()
	return putObject(txn, parentPath, parent)
}

func (s *session) RenameDataObject(ctx context.Context, src, dst string) error {
	return s.rename(ctx, src, dst, remote.KindDataObject)
}

func (s *session) RenameCollection(ctx context.Context, src, dst string) error {
	return s.rename(ctx, src, dst, remote.KindCollection)
}

func (s *session) rename(ctx context.Context, src, dst string, kind remote.ObjectKind) error {
	src, err := s.begin(ctx, src)
	if err != nil {
		return err
	}
	dst, err = cleanPath(dst)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	if src == "/" || dst == "/" {
		return fmt.Errorf("cannot rename the root collection: %w", remote.ErrAccessDenied)
	}
	if kind == remote.KindCollection && strings.HasPrefix(dst, src+"/") {
		return fmt.Errorf("cannot move %s below itself: %w", src, remote.ErrInvalidPath)
	}

	err = s.catalog.kv.Update(func(txn Txn) error {
		rec, err := getObject(txn, src)
		if err != nil {
			return err
		}
		if rec.Kind != kind {
			if kind == remote.KindCollection {
				return fmt.Errorf("%s: %w", src, remote.ErrNotCollection)
			}
			return fmt.Errorf("%s: %w", src, remote.ErrNotDataObject)
		}
		if err := s.require(rec, src, remote.LevelWrite); err != nil {
			return err
		}

		dstParentPath, _ := splitPath(dst)
		dstParent, err := getObject(txn, dstParentPath)
		if err != nil {
			return err
		}
		if dstParent.Kind != remote.KindCollection {
			return fmt.Errorf("%s: %w", dstParentPath, remote.ErrNotCollection)
		}
		if err := s.require(dstParent, dstParentPath, remote.LevelWrite); err != nil {
			return err
		}
		exists, err := objectExists(txn, dst)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", dst, remote.ErrAlreadyExists)
		}

		if kind == remote.KindCollection {
			if err := moveDescendants(txn, src, dst); err != nil {
				return err
			}
		}
		if err := s.unlink(txn, src); err != nil {
			return err
		}
		rec.ModifiedAt = s.catalog.timestamp()
		if err := s.catalog.insertObject(txn, dst, rec); err != nil {
			return err
		}
		dstParent, err = getObject(txn, dstParentPath)
		if err != nil {
			return err
		}
		dstParent.ModifiedAt = rec.ModifiedAt
		return putObject(txn, dstParentPath, dstParent)
	})
	if err != nil {
		return err
	}

	logger.Debug("catalog: renamed", logger.KeyOldPath, src, logger.KeyNewPath, dst, logger.KeyKind, kind.String())
	return nil
}

// moveDescendants rewrites the object and child index keys of everything
// below src so that it sits below dst.
func moveDescendants(txn Txn, src, dst string) error {
	type kv struct{ key, value []byte }
	var moves []kv

	collect := func(prefix string) error {
		return txn.Scan([]byte(prefix), func(key, value []byte) error {
			moves = append(moves, kv{key: key, value: value})
			return nil
		})
	}
	for _, prefix := range []string{
		prefixObject + src + "/",
		prefixChild + src + "\x00",
		prefixChild + src + "/",
	} {
		if err := collect(prefix); err != nil {
			return err
		}
	}

	for _, m := range moves {
		k := string(m.key)
		var nk string
		switch {
		case strings.HasPrefix(k, prefixObject):
			nk = prefixObject + dst + strings.TrimPrefix(k, prefixObject+src)
		default:
			nk = prefixChild + dst + strings.TrimPrefix(k, prefixChild+src)
		}
		if err := txn.Delete(m.key); err != nil {
			return err
		}
		if err := txn.Set([]byte(nk), m.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) OpenRandomAccess(ctx context.Context, p string) (remote.RandomAccessFile, error) {
	p, err := s.begin(ctx, p)
	if err != nil {
		return nil, err
	}

	var (
		id       content.ContentID
		writable bool
	)
	err = s.catalog.kv.View(func(txn Txn) error {
		rec, err := getObject(txn, p)
		if err != nil {
			return err
		}
		if rec.Kind != remote.KindDataObject {
			return fmt.Errorf("%s: %w", p, remote.ErrNotDataObject)
		}
		if err := s.require(rec, p, remote.LevelRead); err != nil {
			return err
		}
		id = rec.ContentID
		writable = s.levelOn(rec) >= remote.LevelWrite
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &file{
		ctx:      ctx,
		session:  s,
		path:     p,
		id:       id,
		writable: writable,
	}, nil
}

func (s *session) ListCollectionPermissions(ctx context.Context, p string) ([]remote.Permission, error) {
	return s.listPermissions(ctx, p, remote.KindCollection)
}

func (s *session) ListDataObjectPermissions(ctx context.Context, p string) ([]remote.Permission, error) {
	return s.listPermissions(ctx, p, remote.KindDataObject)
}

func (s *session) listPermissions(ctx context.Context, p string, kind remote.ObjectKind) ([]remote.Permission, error) {
	p, err := s.begin(ctx, p)
	if err != nil {
		return nil, err
	}

	var perms []remote.Permission
	err = s.catalog.kv.View(func(txn Txn) error {
		rec, err := getObject(txn, p)
		if err != nil {
			return err
		}
		if err := checkKind(rec, p, kind); err != nil {
			return err
		}
		if err := s.require(rec, p, remote.LevelRead); err != nil {
			return err
		}

		for name, level := range rec.ACL {
			if level == remote.LevelNone {
				continue
			}
			perm := remote.Permission{Name: name, Zone: s.catalog.zone, Level: level}
			if u, err := getUser(txn, name); err == nil {
				perm.ID = u.ID
				perm.Zone = u.Zone
				perm.Kind = u.Kind
			} else if !errors.Is(err, remote.ErrUserNotFound) {
				return err
			}
			perms = append(perms, perm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func checkKind(rec *objectRecord, p string, kind remote.ObjectKind) error {
	if rec.Kind == kind {
		return nil
	}
	if kind == remote.KindCollection {
		return fmt.Errorf("%s: %w", p, remote.ErrNotCollection)
	}
	return fmt.Errorf("%s: %w", p, remote.ErrNotDataObject)
}

func (s *session) Grant(ctx context.Context, kind remote.ObjectKind, zone, p, user string, level remote.AccessLevel) error {
	return s.setPermission(ctx, kind, zone, p, user, level, false)
}

func (s *session) Revoke(ctx context.Context, kind remote.ObjectKind, zone, p, user string) error {
	return s.setPermission(ctx, kind, zone, p, user, remote.LevelNone, false)
}

func (s *session) GrantAsAdmin(ctx context.Context, kind remote.ObjectKind, zone, p, user string, level remote.AccessLevel) error {
	return s.setPermission(ctx, kind, zone, p, user, level, true)
}

func (s *session) RevokeAsAdmin(ctx context.Context, kind remote.ObjectKind, zone, p, user string) error {
	return s.setPermission(ctx, kind, zone, p, user, remote.LevelNone, true)
}

// setPermission sets or, for LevelNone, removes the entry of user on p.
func (s *session) setPermission(ctx context.Context, kind remote.ObjectKind, zone, p, user string, level remote.AccessLevel, asAdmin bool) error {
	p, err := s.begin(ctx, p)
	if err != nil {
		return err
	}
	if asAdmin && !s.isAdmin() {
		return fmt.Errorf("%s is not an admin: %w", s.actor.Name, remote.ErrAccessDenied)
	}
	if zone != "" && zone != s.catalog.zone {
		return fmt.Errorf("%s#%s: %w", user, zone, remote.ErrUserNotFound)
	}

	err = s.catalog.kv.Update(func(txn Txn) error {
		rec, err := getObject(txn, p)
		if err != nil {
			return err
		}
		if err := checkKind(rec, p, kind); err != nil {
			return err
		}
		if !asAdmin {
			if err := s.require(rec, p, remote.LevelOwn); err != nil {
				return err
			}
		}
		if _, err := getUser(txn, user); err != nil {
			return err
		}

		if level == remote.LevelNone {
			delete(rec.ACL, user)
		} else {
			rec.ACL[user] = level
		}
		return putObject(txn, p, rec)
	})
	if err != nil {
		return err
	}

	logger.Debug("catalog: permission set",
		logger.KeyPath, p,
		logger.KeyUsername, user,
		"level", level.String(),
		"as_admin", asAdmin)
	return nil
}

func (s *session) GroupsForUser(ctx context.Context, user string) ([]string, error) {
	if _, err := s.begin(ctx, ""); err != nil {
		return nil, err
	}

	var groups []string
	err := s.catalog.kv.View(func(txn Txn) error {
		rec, err := getUser(txn, user)
		if err != nil {
			return err
		}
		groups = append([]string(nil), rec.Groups...)
		return nil
	})
	sort.Strings(groups)
	return groups, err
}

func (s *session) FindUser(ctx context.Context, name string) (*remote.User, error) {
	if _, err := s.begin(ctx, ""); err != nil {
		return nil, err
	}

	var user *remote.User
	err := s.catalog.kv.View(func(txn Txn) error {
		rec, err := getUser(txn, name)
		if err != nil {
			return err
		}
		user = rec.toUser()
		return nil
	})
	return user, err
}
