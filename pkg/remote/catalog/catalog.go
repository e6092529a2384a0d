// Package catalog implements remote.SessionFactory on top of a key/value
// catalog and a content store.
//
// The catalog keeps the tree of collections and data objects, their
// permission lists and the user and group accounts. Data object bytes live in
// a content.Store under an ID assigned at creation. The key/value storage is
// pluggable: MemoryKV keeps everything in process memory, and the badger
// package persists it on disk.
//
// Sessions enforce permissions the way the remote store does: reading
// needs READ, modifying needs WRITE, changing permissions needs OWN, and
// admin accounts bypass all checks.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/content"
	contentmemory "github.com/marmos91/rodsnfs/pkg/content/memory"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

// PublicGroup is the group every account belongs to.
const PublicGroup = "public"

// UserSpec describes an account provisioned at startup.
type UserSpec struct {
	Name     string
	Password string
	Kind     remote.ActorKind
	Groups   []string
}

// Config configures a Catalog.
type Config struct {
	// Zone is the single zone served by the catalog.
	Zone string

	// AdminUser and AdminPassword are the credentials of the admin account
	// created at bootstrap.
	AdminUser     string
	AdminPassword string

	// Users are provisioned at startup. Existing accounts are left as they
	// are apart from group memberships, which are added.
	Users []UserSpec

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Catalog is a remote.SessionFactory backed by a KV and a content.Store.
type Catalog struct {
	kv      KV
	content content.Store
	zone    string
	now     func() time.Time

	openSessions atomic.Int64
}

var _ remote.SessionFactory = (*Catalog)(nil)

// New opens a catalog over kv and store and bootstraps the zone skeleton,
// the admin account and the configured users. Bootstrapping is idempotent.
func New(ctx context.Context, kv KV, store content.Store, cfg Config) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Zone == "" || strings.Contains(cfg.Zone, "/") {
		return nil, fmt.Errorf("invalid zone %q", cfg.Zone)
	}
	if cfg.AdminUser == "" {
		return nil, fmt.Errorf("admin user is required")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &Catalog{kv: kv, content: store, zone: cfg.Zone, now: now}

	if err := c.bootstrap(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap catalog: %w", err)
	}
	for _, u := range cfg.Users {
		if err := c.AddUser(ctx, u); err != nil {
			return nil, fmt.Errorf("provision user %q: %w", u.Name, err)
		}
	}

	logger.Info("catalog ready", logger.KeyZone, cfg.Zone, "users", len(cfg.Users))
	return c, nil
}

// NewMemory returns a catalog kept entirely in process memory.
func NewMemory(ctx context.Context, cfg Config) (*Catalog, error) {
	return New(ctx, NewMemoryKV(), contentmemory.NewMemoryContentStore(), cfg)
}

// Zone returns the zone served by the catalog.
func (c *Catalog) Zone() string {
	return c.zone
}

// OpenSessions returns the number of sessions opened and not yet closed.
func (c *Catalog) OpenSessions() int64 {
	return c.openSessions.Load()
}

// Close closes the underlying KV.
func (c *Catalog) Close() error {
	return c.kv.Close()
}

func (c *Catalog) timestamp() time.Time {
	return c.now().UTC().Truncate(time.Second)
}

// passwordCost is bcrypt's minimum: every remote call opens a session and
// checks the proxy password again.
const passwordCost = bcrypt.MinCost

func hashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// skeleton returns the structural collections of the zone, parents first.
func (c *Catalog) skeleton() []string {
	zone := path.Join("/", c.zone)
	return []string{
		"/",
		zone,
		path.Join(zone, "home"),
		path.Join(zone, "public"),
		path.Join(zone, "trash"),
	}
}

func (c *Catalog) bootstrap(cfg Config) error {
	return c.kv.Update(func(txn Txn) error {
		if err := c.ensureAccount(txn, PublicGroup, "", remote.ActorGroup, nil); err != nil {
			return err
		}
		if err := c.ensureAccount(txn, cfg.AdminUser, cfg.AdminPassword, remote.ActorAdmin, nil); err != nil {
			return err
		}

		ts := c.timestamp()
		for _, p := range c.skeleton() {
			exists, err := objectExists(txn, p)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			rec := &objectRecord{
				Kind:       remote.KindCollection,
				Owner:      cfg.AdminUser,
				OwnerZone:  c.zone,
				CreatedAt:  ts,
				ModifiedAt: ts,
				ACL: map[string]remote.AccessLevel{
					cfg.AdminUser: remote.LevelOwn,
					PublicGroup:   remote.LevelRead,
				},
			}
			if err := c.insertObject(txn, p, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddUser provisions an account. User and admin accounts get a home
// collection they own. Groups named in spec.Groups are created as needed.
func (c *Catalog) AddUser(ctx context.Context, spec UserSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if spec.Name == "" || strings.ContainsAny(spec.Name, "/#@") {
		return fmt.Errorf("invalid account name %q", spec.Name)
	}

	return c.kv.Update(func(txn Txn) error {
		for _, g := range spec.Groups {
			if err := c.ensureAccount(txn, g, "", remote.ActorGroup, nil); err != nil {
				return err
			}
		}
		if err := c.ensureAccount(txn, spec.Name, spec.Password, spec.Kind, spec.Groups); err != nil {
			return err
		}
		if spec.Kind == remote.ActorGroup {
			return nil
		}

		home := remote.HomeCollection(c.zone, spec.Name)
		exists, err := objectExists(txn, home)
		if err != nil || exists {
			return err
		}
		ts := c.timestamp()
		return c.insertObject(txn, home, &objectRecord{
			Kind:       remote.KindCollection,
			Owner:      spec.Name,
			OwnerZone:  c.zone,
			CreatedAt:  ts,
			ModifiedAt: ts,
			ACL:        map[string]remote.AccessLevel{spec.Name: remote.LevelOwn},
		})
	})
}

// ensureAccount creates the account if missing and adds any missing group
// memberships. Every non-group account is a member of PublicGroup.
func (c *Catalog) ensureAccount(txn Txn, name, password string, kind remote.ActorKind, groups []string) error {
	rec, err := getUser(txn, name)
	switch {
	case errors.Is(err, remote.ErrUserNotFound):
		id, err := nextUserID(txn)
		if err != nil {
			return err
		}
		hash, err := hashPassword(password)
		if err != nil {
			return err
		}
		rec = &userRecord{
			Name:         name,
			ID:           id,
			Zone:         c.zone,
			Kind:         kind,
			PasswordHash: hash,
		}
	case err != nil:
		return err
	}

	if kind != remote.ActorGroup && !rec.inGroup(PublicGroup) {
		rec.Groups = append(rec.Groups, PublicGroup)
	}
	for _, g := range groups {
		if !rec.inGroup(g) {
			rec.Groups = append(rec.Groups, g)
		}
	}
	return putUser(txn, rec)
}

// insertObject writes rec and links it into its parent's child index.
func (c *Catalog) insertObject(txn Txn, p string, rec *objectRecord) error {
	if err := putObject(txn, p, rec); err != nil {
		return err
	}
	if p == "/" {
		return nil
	}
	parent, name := splitPath(p)
	return txn.Set(keyChild(parent, name), []byte{byte(rec.Kind)})
}

// Open authenticates acct and returns a session acting as acct.User.
//
// With a proxy account set, the proxy must be an admin and Password is the
// proxy password. Otherwise Password is checked against acct.User.
func (c *Catalog) Open(ctx context.Context, acct remote.Account) (remote.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if acct.Zone != "" && acct.Zone != c.zone {
		return nil, fmt.Errorf("zone %q is not served here: %w", acct.Zone, remote.ErrAuthentication)
	}

	var actor *userRecord
	err := c.kv.View(func(txn Txn) error {
		if acct.ProxyUser != "" {
			proxy, err := getUser(txn, acct.ProxyUser)
			if err != nil {
				return fmt.Errorf("proxy %s: %w", acct.ProxyUser, remote.ErrAuthentication)
			}
			if proxy.Kind != remote.ActorAdmin || !checkPassword(proxy.PasswordHash, acct.Password) {
				return fmt.Errorf("proxy %s: %w", acct.ProxyUser, remote.ErrAuthentication)
			}
			actor, err = getUser(txn, acct.User)
			return err
		}

		user, err := getUser(txn, acct.User)
		if err != nil {
			return fmt.Errorf("user %s: %w", acct.User, remote.ErrAuthentication)
		}
		if !checkPassword(user.PasswordHash, acct.Password) {
			return fmt.Errorf("user %s: %w", acct.User, remote.ErrAuthentication)
		}
		actor = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	if actor.Kind == remote.ActorGroup {
		return nil, fmt.Errorf("group %s cannot open a session: %w", actor.Name, remote.ErrAuthentication)
	}

	c.openSessions.Add(1)
	return &session{catalog: c, account: acct, actor: actor}, nil
}

func cleanPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%q: %w", p, remote.ErrInvalidPath)
	}
	return path.Clean(p), nil
}
