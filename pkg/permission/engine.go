// Package permission translates between remote store permission lists and
// the POSIX and NFSv4 views of them, and decides access.
package permission

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/acl"
	"github.com/marmos91/rodsnfs/pkg/cache"
	"github.com/marmos91/rodsnfs/pkg/metrics"
	"github.com/marmos91/rodsnfs/pkg/remote"
)

// File type bits of a POSIX mode.
const (
	ModeTypeMask uint32 = 0o170000
	ModeDir      uint32 = 0o040000
	ModeRegular  uint32 = 0o100000
)

// DefaultObjectTypeTTL is how long an object kind is cached.
const DefaultObjectTypeTTL = time.Second

// Request bits a WRITE or READ holder is allowed.
const (
	accessWriteMask = acl.ACE4_WRITE_DATA | acl.ACE4_WRITE_ATTRIBUTES | acl.ACE4_APPEND_DATA |
		acl.ACE4_READ_DATA | acl.ACE4_READ_ATTRIBUTES | acl.ACE4_READ_ACL | acl.ACE4_EXECUTE
	accessReadMask = acl.ACE4_READ_DATA | acl.ACE4_READ_ATTRIBUTES | acl.ACE4_READ_ACL | acl.ACE4_EXECUTE
)

// Config configures an Engine.
type Config struct {
	Zone string

	// AccessTTL bounds how long an access decision is reused.
	AccessTTL time.Duration

	// GroupsTTL bounds how long a user's group membership is reused.
	GroupsTTL time.Duration

	// ObjectTypeTTL defaults to DefaultObjectTypeTTL.
	ObjectTypeTTL time.Duration

	CacheMetrics metrics.CacheMetrics

	// Now replaces time.Now in the caches, for tests.
	Now func() time.Time
}

// Subject is the principal an access decision is made for.
type Subject struct {
	UID  int
	Name string
}

// Diff is the change needed to turn a path's permissions into a new ACL.
type Diff struct {
	Added   []remote.Permission
	Removed []remote.Permission
}

// Empty reports whether the diff changes nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Engine computes modes, ACLs and access decisions. Every method takes the
// admin session of the current call; the engine never opens sessions.
type Engine struct {
	zone    string
	special map[string]struct{}

	objectTypes *cache.TTLCache[string, remote.ObjectKind]
	access      *cache.TTLCache[string, acl.Access]
	groups      *cache.TTLCache[string, []string]
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Zone == "" {
		return nil, fmt.Errorf("zone is required")
	}
	if cfg.ObjectTypeTTL <= 0 {
		cfg.ObjectTypeTTL = DefaultObjectTypeTTL
	}
	if cfg.CacheMetrics == nil {
		cfg.CacheMetrics = metrics.NewNoopCacheMetrics()
	}

	opts := []cache.Option{cache.WithMetrics(cfg.CacheMetrics)}
	if cfg.Now != nil {
		opts = append(opts, cache.WithClock(cfg.Now))
	}

	zone := path.Join("/", cfg.Zone)
	special := make(map[string]struct{})
	for _, p := range []string{"/", zone, path.Join(zone, "home"), path.Join(zone, "public"), path.Join(zone, "trash")} {
		special[p] = struct{}{}
	}

	return &Engine{
		zone:        cfg.Zone,
		special:     special,
		objectTypes: cache.New[string, remote.ObjectKind]("object_type", cfg.ObjectTypeTTL, opts...),
		access:      cache.New[string, acl.Access]("access", cfg.AccessTTL, opts...),
		groups:      cache.New[string, []string]("groups", cfg.GroupsTTL, opts...),
	}, nil
}

// Zone returns the zone the engine serves.
func (e *Engine) Zone() string {
	return e.zone
}

// IsSpecialCollection reports whether p is one of the structural
// collections: the root, the zone, and its home, public and trash.
func (e *Engine) IsSpecialCollection(p string) bool {
	_, ok := e.special[path.Clean(p)]
	return ok
}

// ObjectType returns the kind of p as seen by the admin session.
func (e *Engine) ObjectType(ctx context.Context, admin remote.Session, p string) (remote.ObjectKind, error) {
	if kind, ok := e.objectTypes.Get(p); ok {
		return kind, nil
	}

	st, err := admin.Stat(ctx, p)
	if err != nil {
		return remote.KindUnknown, err
	}
	if err := st.Kind.Validate(); err != nil {
		return remote.KindUnknown, err
	}
	e.objectTypes.Put(p, st.Kind)
	return st.Kind, nil
}

// PermissionsFor lists the explicit permissions of p. Objects that are
// neither collections nor data objects have none.
func (e *Engine) PermissionsFor(ctx context.Context, admin remote.Session, p string) ([]remote.Permission, error) {
	kind, err := e.ObjectType(ctx, admin, p)
	if err != nil {
		return nil, err
	}

	switch kind {
	case remote.KindCollection:
		return admin.ListCollectionPermissions(ctx, p)
	case remote.KindDataObject:
		return admin.ListDataObjectPermissions(ctx, p)
	default:
		return nil, nil
	}
}

// groupsFor returns the groups name belongs to. An unknown user belongs to
// none.
func (e *Engine) groupsFor(ctx context.Context, admin remote.Session, name string) ([]string, error) {
	if groups, ok := e.groups.Get(name); ok {
		return groups, nil
	}

	groups, err := admin.GroupsForUser(ctx, name)
	if errors.Is(err, remote.ErrUserNotFound) {
		groups, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.groups.Put(name, groups)
	return groups, nil
}

// HighestPermission returns the highest level name holds in perms, either
// directly as a user or admin, or through one of its groups.
func (e *Engine) HighestPermission(ctx context.Context, admin remote.Session, perms []remote.Permission, name string) (remote.Permission, bool, error) {
	var (
		best  remote.Permission
		found bool
	)
	consider := func(p remote.Permission) {
		if !found || p.Level > best.Level {
			best = p
			found = true
		}
	}

	needGroups := false
	for _, p := range perms {
		switch p.Kind {
		case remote.ActorUser, remote.ActorAdmin:
			if p.Name == name {
				consider(p)
			}
		case remote.ActorGroup:
			needGroups = true
		}
	}
	if !needGroups {
		return best, found, nil
	}

	groups, err := e.groupsFor(ctx, admin, name)
	if err != nil {
		return remote.Permission{}, false, err
	}
	member := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		member[g] = struct{}{}
	}
	for _, p := range perms {
		if p.Kind != remote.ActorGroup {
			continue
		}
		if _, ok := member[p.Name]; ok {
			consider(p)
		}
	}
	return best, found, nil
}

// Mode returns the POSIX mode, type bits included, name gets on p.
// Structural collections are always owner rwx. Data objects never carry
// execute bits.
func (e *Engine) Mode(ctx context.Context, admin remote.Session, p string, kind remote.ObjectKind, perms []remote.Permission, name string) (uint32, error) {
	if e.IsSpecialCollection(p) {
		return ModeDir | 0o700, nil
	}

	switch kind {
	case remote.KindCollectionStandIn:
		return ModeDir, nil
	case remote.KindCollection:
		bits, err := e.accessBits(ctx, admin, perms, name, 0o100)
		if err != nil {
			return 0, err
		}
		return ModeDir | bits, nil
	case remote.KindDataObject:
		bits, err := e.accessBits(ctx, admin, perms, name, 0)
		if err != nil {
			return 0, err
		}
		return ModeRegular | (bits &^ 0o110), nil
	default:
		return 0, kind.Validate()
	}
}

func (e *Engine) accessBits(ctx context.Context, admin remote.Session, perms []remote.Permission, name string, base uint32) (uint32, error) {
	highest, ok, err := e.HighestPermission(ctx, admin, perms, name)
	if err != nil || !ok {
		return base, err
	}
	switch highest.Level {
	case remote.LevelOwn, remote.LevelWrite:
		return base | 0o600, nil
	case remote.LevelRead:
		return base | 0o400, nil
	default:
		return base, nil
	}
}

// ToPermission translates an ALLOW entry into a permission. It reports false
// for other entry types, for masks carrying no read, write or ownership bit,
// and for actors unknown to the remote store.
func (e *Engine) ToPermission(ctx context.Context, admin remote.Session, ace acl.ACE) (remote.Permission, bool) {
	if !ace.IsAllow() {
		logger.Debug("permission: skipping non-allow ACE", "ace", ace.String())
		return remote.Permission{}, false
	}

	var level remote.AccessLevel
	switch {
	case ace.AccessMask&acl.ACE4_WRITE_OWNER != 0:
		level = remote.LevelOwn
	case ace.AccessMask&(acl.ACE4_WRITE_DATA|acl.ACE4_APPEND_DATA) != 0:
		level = remote.LevelWrite
	case ace.AccessMask&acl.ACE4_READ_DATA != 0:
		level = remote.LevelRead
	default:
		logger.Warn("permission: unmapped ACE mask", "ace", ace.String())
		return remote.Permission{}, false
	}

	user, err := admin.FindUser(ctx, ace.Name())
	if err != nil {
		logger.Warn("permission: cannot resolve ACE principal", "ace", ace.String(), logger.KeyError, err)
		return remote.Permission{}, false
	}

	return remote.Permission{
		Name:  user.Name,
		ID:    user.ID,
		Zone:  user.Zone,
		Kind:  user.Kind,
		Level: level,
	}, true
}

// FromPermission is the ALLOW entry equivalent to p.
func FromPermission(p remote.Permission) acl.ACE {
	ace := acl.ACE{
		Type: acl.ACE4_ACCESS_ALLOWED_ACE_TYPE,
		Who:  p.Name + "@",
	}
	switch p.Level {
	case remote.LevelOwn:
		ace.AccessMask = acl.MaskOwn
	case remote.LevelWrite:
		ace.AccessMask = acl.MaskWrite
	case remote.LevelRead:
		ace.AccessMask = acl.MaskRead
	}
	if p.Kind == remote.ActorGroup {
		ace.Flag = acl.ACE4_IDENTIFIER_GROUP
	}
	return ace
}

// ACL returns the entries equivalent to the permissions of p.
func (e *Engine) ACL(ctx context.Context, admin remote.Session, p string) ([]acl.ACE, error) {
	perms, err := e.PermissionsFor(ctx, admin, p)
	if err != nil {
		return nil, err
	}
	aces := make([]acl.ACE, 0, len(perms))
	for _, perm := range perms {
		aces = append(aces, FromPermission(perm))
	}
	return aces, nil
}

// Diff compares the permissions of p with aces. Entries that do not
// translate are skipped.
func (e *Engine) Diff(ctx context.Context, admin remote.Session, p string, aces []acl.ACE) (Diff, error) {
	current, err := e.PermissionsFor(ctx, admin, p)
	if err != nil {
		return Diff{}, err
	}

	var incoming []remote.Permission
	for _, ace := range aces {
		perm, ok := e.ToPermission(ctx, admin, ace)
		if !ok || containsPermission(incoming, perm) {
			continue
		}
		incoming = append(incoming, perm)
	}

	var d Diff
	for _, perm := range incoming {
		if !containsPermission(current, perm) {
			d.Added = append(d.Added, perm)
		}
	}
	for _, perm := range current {
		if !containsPermission(incoming, perm) {
			d.Removed = append(d.Removed, perm)
		}
	}
	return d, nil
}

func containsPermission(perms []remote.Permission, p remote.Permission) bool {
	for _, q := range perms {
		if q.Equal(p) {
			return true
		}
	}
	return false
}

// ApplyDiff revokes every removed permission, then grants every added one.
// A failure stops the sequence; steps already applied stay applied.
func (e *Engine) ApplyDiff(ctx context.Context, admin remote.Session, p string, d Diff) error {
	kind, err := e.ObjectType(ctx, admin, p)
	if err != nil {
		return err
	}

	for _, perm := range d.Removed {
		if err := admin.RevokeAsAdmin(ctx, kind, perm.Zone, p, perm.Name); err != nil {
			return fmt.Errorf("revoke %s on %s: %w", perm, p, err)
		}
	}
	for _, perm := range d.Added {
		if err := admin.GrantAsAdmin(ctx, kind, perm.Zone, p, perm.Name, perm.Level); err != nil {
			return fmt.Errorf("grant %s on %s: %w", perm, p, err)
		}
	}

	logger.Debug("permission: acl applied",
		logger.KeyPath, p,
		"added", len(d.Added),
		"removed", len(d.Removed))
	return nil
}

func accessKey(uid int, mask uint32, p string) string {
	return strconv.Itoa(uid) + "#" + strconv.FormatUint(uint64(mask), 10) + "#" + p
}

// CheckACL decides whether subject may perform mask on p. Decisions are
// cached per uid, mask and path. A subject unknown to the remote store is
// denied.
func (e *Engine) CheckACL(ctx context.Context, admin remote.Session, subject Subject, p string, mask uint32) (acl.Access, error) {
	key := accessKey(subject.UID, mask, p)
	if decision, ok := e.access.Get(key); ok {
		return decision, nil
	}

	decision, err := e.decide(ctx, admin, subject, p, mask)
	if err != nil {
		return acl.Deny, err
	}
	e.access.Put(key, decision)

	logger.Debug("permission: access decided",
		logger.KeyPath, p,
		logger.KeyUsername, subject.Name,
		logger.KeyMask, fmt.Sprintf("0x%x", mask),
		logger.KeyDecision, decision.String())
	return decision, nil
}

func (e *Engine) decide(ctx context.Context, admin remote.Session, subject Subject, p string, mask uint32) (acl.Access, error) {
	if e.IsSpecialCollection(p) {
		return acl.Allow, nil
	}

	user, err := admin.FindUser(ctx, subject.Name)
	if errors.Is(err, remote.ErrUserNotFound) {
		return acl.Deny, nil
	}
	if err != nil {
		return acl.Deny, err
	}
	if user.Kind == remote.ActorAdmin {
		return acl.Allow, nil
	}

	kind, err := e.ObjectType(ctx, admin, p)
	if err != nil {
		return acl.Deny, err
	}
	if kind.IsCollection() && mask&acl.ACE4_GENERIC_EXECUTE != 0 {
		return acl.Allow, nil
	}

	perms, err := e.PermissionsFor(ctx, admin, p)
	if err != nil {
		return acl.Deny, err
	}
	highest, ok, err := e.HighestPermission(ctx, admin, perms, subject.Name)
	if err != nil {
		return acl.Deny, err
	}
	if !ok {
		return acl.Deny, nil
	}

	switch highest.Level {
	case remote.LevelOwn:
		return acl.Allow, nil
	case remote.LevelWrite:
		if mask&accessWriteMask != 0 {
			return acl.Allow, nil
		}
	case remote.LevelRead:
		if mask&accessReadMask != 0 {
			return acl.Allow, nil
		}
	}
	return acl.Deny, nil
}
