package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rodsnfs/pkg/acl"
	"github.com/marmos91/rodsnfs/pkg/remote"
	"github.com/marmos91/rodsnfs/pkg/remote/catalog"
)

const (
	zone     = "tempZone"
	home     = "/tempZone/home/alice"
	dataPath = "/tempZone/home/alice/report.csv"
	collPath = "/tempZone/home/alice/results"
)

// countingSession counts the remote calls the engine makes.
type countingSession struct {
	remote.Session

	mu     sync.Mutex
	stats  int
	lists  int
	groups int
}

func (c *countingSession) Stat(ctx context.Context, p string) (*remote.ObjStat, error) {
	c.mu.Lock()
	c.stats++
	c.mu.Unlock()
	return c.Session.Stat(ctx, p)
}

func (c *countingSession) ListDataObjectPermissions(ctx context.Context, p string) ([]remote.Permission, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.Session.ListDataObjectPermissions(ctx, p)
}

func (c *countingSession) ListCollectionPermissions(ctx context.Context, p string) ([]remote.Permission, error) {
	c.mu.Lock()
	c.lists++
	c.mu.Unlock()
	return c.Session.ListCollectionPermissions(ctx, p)
}

func (c *countingSession) GroupsForUser(ctx context.Context, user string) ([]string, error) {
	c.mu.Lock()
	c.groups++
	c.mu.Unlock()
	return c.Session.GroupsForUser(ctx, user)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine *Engine
	admin  *countingSession
	clock  *fakeClock
}

// newFixture provisions alice (member of lab), bob and carol. alice owns
// dataPath and collPath; bob holds WRITE on dataPath; lab holds READ on
// collPath.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	c, err := catalog.NewMemory(ctx, catalog.Config{
		Zone:          zone,
		AdminUser:     "rods",
		AdminPassword: "rods",
		Users: []catalog.UserSpec{
			{Name: "alice", Groups: []string{"lab"}},
			{Name: "bob"},
			{Name: "carol", Groups: []string{"lab"}},
			{Name: "root", Kind: remote.ActorAdmin},
		},
	})
	require.NoError(t, err)

	open := func(user string) remote.Session {
		s, err := c.Open(ctx, remote.Account{User: user, Zone: zone, ProxyUser: "rods", Password: "rods"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	alice := open("alice")
	require.NoError(t, alice.CreateDataObject(ctx, dataPath))
	require.NoError(t, alice.CreateCollection(ctx, collPath))
	require.NoError(t, alice.Grant(ctx, remote.KindDataObject, zone, dataPath, "bob", remote.LevelWrite))
	require.NoError(t, alice.Grant(ctx, remote.KindCollection, zone, collPath, "lab", remote.LevelRead))

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	engine, err := NewEngine(Config{
		Zone:      zone,
		AccessTTL: time.Second,
		GroupsTTL: time.Second,
		Now:       clock.Now,
	})
	require.NoError(t, err)

	return &fixture{
		engine: engine,
		admin:  &countingSession{Session: open("rods")},
		clock:  clock,
	}
}

func TestIsSpecialCollection(t *testing.T) {
	e, err := NewEngine(Config{Zone: zone})
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/tempZone", true},
		{"/tempZone/home", true},
		{"/tempZone/home/", true},
		{"/tempZone/public", true},
		{"/tempZone/trash", true},
		{"/tempZone/home/alice", false},
		{"/otherZone", false},
		{"/tempZone/homes", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, e.IsSpecialCollection(tt.path))
		})
	}

	_, err = NewEngine(Config{})
	assert.Error(t, err)
}

func TestObjectTypeIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kind, err := f.engine.ObjectType(ctx, f.admin, dataPath)
	require.NoError(t, err)
	assert.Equal(t, remote.KindDataObject, kind)

	kind, err = f.engine.ObjectType(ctx, f.admin, collPath)
	require.NoError(t, err)
	assert.Equal(t, remote.KindCollection, kind)

	_, err = f.engine.ObjectType(ctx, f.admin, dataPath)
	require.NoError(t, err)
	assert.Equal(t, 2, f.admin.stats)

	f.clock.Advance(DefaultObjectTypeTTL + time.Millisecond)
	_, err = f.engine.ObjectType(ctx, f.admin, dataPath)
	require.NoError(t, err)
	assert.Equal(t, 3, f.admin.stats)

	_, err = f.engine.ObjectType(ctx, f.admin, home+"/missing")
	assert.ErrorIs(t, err, remote.ErrNoSuchObject)
}

func TestHighestPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	perms := []remote.Permission{
		{Name: "alice", Kind: remote.ActorUser, Level: remote.LevelRead},
		{Name: "lab", Kind: remote.ActorGroup, Level: remote.LevelWrite},
		{Name: "other", Kind: remote.ActorGroup, Level: remote.LevelOwn},
		{Name: "bob", Kind: remote.ActorUser, Level: remote.LevelOwn},
	}

	tests := []struct {
		name      string
		wantFound bool
		wantLevel remote.AccessLevel
	}{
		{"alice", true, remote.LevelWrite},
		{"carol", true, remote.LevelWrite},
		{"bob", true, remote.LevelOwn},
		{"mallory", false, remote.LevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := f.engine.HighestPermission(ctx, f.admin, perms, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, ok)
			assert.Equal(t, tt.wantLevel, got.Level)
		})
	}

	t.Run("no group entries skips the membership lookup", func(t *testing.T) {
		before := f.admin.groups
		_, _, err := f.engine.HighestPermission(ctx, f.admin, perms[:1], "zed")
		require.NoError(t, err)
		assert.Equal(t, before, f.admin.groups)
	})
}

func TestMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	own := []remote.Permission{{Name: "alice", Kind: remote.ActorUser, Level: remote.LevelOwn}}
	write := []remote.Permission{{Name: "alice", Kind: remote.ActorUser, Level: remote.LevelWrite}}
	read := []remote.Permission{{Name: "alice", Kind: remote.ActorUser, Level: remote.LevelRead}}

	tests := []struct {
		name  string
		path  string
		kind  remote.ObjectKind
		perms []remote.Permission
		want  uint32
	}{
		{"root", "/", remote.KindCollection, nil, ModeDir | 0o700},
		{"home", "/tempZone/home", remote.KindCollection, read, ModeDir | 0o700},
		{"trash", "/tempZone/trash", remote.KindCollectionStandIn, nil, ModeDir | 0o700},
		{"stand-in", "/tempZone/home/bob", remote.KindCollectionStandIn, own, ModeDir},
		{"collection own", collPath, remote.KindCollection, own, ModeDir | 0o700},
		{"collection write", collPath, remote.KindCollection, write, ModeDir | 0o700},
		{"collection read", collPath, remote.KindCollection, read, ModeDir | 0o500},
		{"collection none", collPath, remote.KindCollection, nil, ModeDir | 0o100},
		{"data own", dataPath, remote.KindDataObject, own, ModeRegular | 0o600},
		{"data write", dataPath, remote.KindDataObject, write, ModeRegular | 0o600},
		{"data read", dataPath, remote.KindDataObject, read, ModeRegular | 0o400},
		{"data none", dataPath, remote.KindDataObject, nil, ModeRegular},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.Mode(ctx, f.admin, tt.path, tt.kind, tt.perms, "alice")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "mode %o", got)
			if tt.kind == remote.KindDataObject {
				assert.Zero(t, got&0o111)
			}
		})
	}

	_, err := f.engine.Mode(ctx, f.admin, dataPath, remote.ObjectKind(42), own, "alice")
	assert.ErrorIs(t, err, remote.ErrUnexpectedKind)
}

func TestToPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		ace    acl.ACE
		wantOK bool
		want   remote.AccessLevel
	}{
		{"write owner is own", acl.ACE{AccessMask: acl.ACE4_WRITE_OWNER, Who: "bob@"}, true, remote.LevelOwn},
		{"own mask", acl.ACE{AccessMask: acl.MaskOwn, Who: "bob@"}, true, remote.LevelOwn},
		{"write data", acl.ACE{AccessMask: acl.ACE4_WRITE_DATA, Who: "bob@"}, true, remote.LevelWrite},
		{"append data", acl.ACE{AccessMask: acl.ACE4_APPEND_DATA | acl.ACE4_READ_DATA, Who: "bob@"}, true, remote.LevelWrite},
		{"read data", acl.ACE{AccessMask: acl.ACE4_READ_DATA, Who: "bob@example.org"}, true, remote.LevelRead},
		{"deny dropped", acl.ACE{Type: acl.ACE4_ACCESS_DENIED_ACE_TYPE, AccessMask: acl.ACE4_READ_DATA, Who: "bob@"}, false, remote.LevelNone},
		{"unmapped mask", acl.ACE{AccessMask: acl.ACE4_EXECUTE | acl.ACE4_READ_ATTRIBUTES, Who: "bob@"}, false, remote.LevelNone},
		{"unknown user", acl.ACE{AccessMask: acl.ACE4_READ_DATA, Who: "mallory@"}, false, remote.LevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := f.engine.ToPermission(ctx, f.admin, tt.ace)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got.Level)
				assert.Equal(t, "bob", got.Name)
				assert.Equal(t, zone, got.Zone)
				assert.NotEmpty(t, got.ID)
			}
		})
	}
}

func TestACLRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, actor := range []string{"bob", "lab"} {
		user, err := f.admin.FindUser(ctx, actor)
		require.NoError(t, err)

		for _, level := range []remote.AccessLevel{remote.LevelRead, remote.LevelWrite, remote.LevelOwn} {
			perm := remote.Permission{Name: user.Name, ID: user.ID, Zone: user.Zone, Kind: user.Kind, Level: level}

			ace := FromPermission(perm)
			assert.True(t, ace.IsAllow())
			assert.Equal(t, user.Kind == remote.ActorGroup, ace.IsGroup())

			back, ok := f.engine.ToPermission(ctx, f.admin, ace)
			require.True(t, ok, "%s %s", actor, level)
			assert.True(t, perm.Equal(back), "%s != %s", perm, back)
		}
	}
}

func TestACL(t *testing.T) {
	f := newFixture(t)

	aces, err := f.engine.ACL(context.Background(), f.admin, dataPath)
	require.NoError(t, err)
	assert.ElementsMatch(t, []acl.ACE{
		{AccessMask: acl.MaskOwn, Who: "alice@"},
		{AccessMask: acl.MaskWrite, Who: "bob@"},
	}, aces)

	aces, err = f.engine.ACL(context.Background(), f.admin, collPath)
	require.NoError(t, err)
	assert.Contains(t, aces, acl.ACE{Flag: acl.ACE4_IDENTIFIER_GROUP, AccessMask: acl.MaskRead, Who: "lab@"})
}

func TestDiffAndApplyConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	target := []acl.ACE{
		{AccessMask: acl.MaskOwn, Who: "alice@"},
		{AccessMask: acl.MaskRead, Who: "bob@"},
		{Flag: acl.ACE4_IDENTIFIER_GROUP, AccessMask: acl.MaskWrite, Who: "lab@"},
		{Type: acl.ACE4_ACCESS_DENIED_ACE_TYPE, AccessMask: acl.MaskOwn, Who: "carol@"},
		{AccessMask: acl.MaskRead, Who: "mallory@"},
	}

	d, err := f.engine.Diff(ctx, f.admin, dataPath, target)
	require.NoError(t, err)
	require.Len(t, d.Removed, 1)
	assert.Equal(t, "bob", d.Removed[0].Name)
	assert.Equal(t, remote.LevelWrite, d.Removed[0].Level)
	require.Len(t, d.Added, 2)

	require.NoError(t, f.engine.ApplyDiff(ctx, f.admin, dataPath, d))

	again, err := f.engine.Diff(ctx, f.admin, dataPath, target)
	require.NoError(t, err)
	assert.True(t, again.Empty(), "added=%v removed=%v", again.Added, again.Removed)

	perms, err := f.admin.ListDataObjectPermissions(ctx, dataPath)
	require.NoError(t, err)
	levels := make(map[string]remote.AccessLevel)
	for _, p := range perms {
		levels[p.Name] = p.Level
	}
	assert.Equal(t, map[string]remote.AccessLevel{
		"alice": remote.LevelOwn,
		"bob":   remote.LevelRead,
		"lab":   remote.LevelWrite,
	}, levels)
}

func TestCheckACL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := Subject{UID: 1001, Name: "alice"}
	bob := Subject{UID: 1002, Name: "bob"}
	carol := Subject{UID: 1003, Name: "carol"}

	tests := []struct {
		name    string
		subject Subject
		path    string
		mask    uint32
		want    acl.Access
	}{
		{"special collection", Subject{UID: 9, Name: "mallory"}, "/tempZone/trash", acl.ACE4_WRITE_DATA, acl.Allow},
		{"admin kind", Subject{UID: 0, Name: "root"}, dataPath, acl.ACE4_WRITE_OWNER, acl.Allow},
		{"unknown user", Subject{UID: 9, Name: "mallory"}, dataPath, acl.ACE4_READ_DATA, acl.Deny},
		{"collection traverse", bob, collPath, acl.ACE4_EXECUTE, acl.Allow},
		{"owner anything", alice, dataPath, acl.ACE4_DELETE | acl.ACE4_WRITE_ACL, acl.Allow},
		{"write holder writes", bob, dataPath, acl.ACE4_WRITE_DATA, acl.Allow},
		{"write holder reads acl", bob, dataPath, acl.ACE4_READ_ACL, acl.Allow},
		{"write holder delete child", bob, dataPath, acl.ACE4_DELETE_CHILD, acl.Deny},
		{"write holder write acl", bob, dataPath, acl.ACE4_WRITE_ACL, acl.Deny},
		{"group read lists", carol, collPath, acl.ACE4_LIST_DIRECTORY, acl.Allow},
		{"group read cannot add", carol, collPath, acl.ACE4_ADD_FILE, acl.Deny},
		{"no permission", carol, dataPath, acl.ACE4_READ_DATA, acl.Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.CheckACL(ctx, f.admin, tt.subject, tt.path, tt.mask)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckACLIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := Subject{UID: 1002, Name: "bob"}

	first, err := f.engine.CheckACL(ctx, f.admin, bob, dataPath, acl.ACE4_READ_DATA)
	require.NoError(t, err)
	lists := f.admin.lists

	second, err := f.engine.CheckACL(ctx, f.admin, bob, dataPath, acl.ACE4_READ_DATA)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, lists, f.admin.lists, "second decision must come from the cache")

	// Keys are scoped by uid: another principal is decided afresh.
	_, err = f.engine.CheckACL(ctx, f.admin, Subject{UID: 1003, Name: "carol"}, dataPath, acl.ACE4_READ_DATA)
	require.NoError(t, err)
	assert.Equal(t, lists+1, f.admin.lists)

	f.clock.Advance(2 * time.Second)
	_, err = f.engine.CheckACL(ctx, f.admin, bob, dataPath, acl.ACE4_READ_DATA)
	require.NoError(t, err)
	assert.Equal(t, lists+2, f.admin.lists, "expired decision must be recomputed")
}
