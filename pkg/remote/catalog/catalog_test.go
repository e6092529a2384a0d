package catalog_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rodsnfs/pkg/remote"
	"github.com/marmos91/rodsnfs/pkg/remote/catalog"
)

const (
	testZone          = "tempZone"
	testAdmin         = "rods"
	testAdminPassword = "rods-secret"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c, err := catalog.NewMemory(context.Background(), catalog.Config{
		Zone:          testZone,
		AdminUser:     testAdmin,
		AdminPassword: testAdminPassword,
		Users: []catalog.UserSpec{
			{Name: "alice", Password: "alice-pw", Groups: []string{"research"}},
			{Name: "bob", Password: "bob-pw"},
		},
		Now: func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// proxySession opens a session acting as user through the admin proxy.
func proxySession(t *testing.T, c *catalog.Catalog, user string) remote.Session {
	t.Helper()

	s, err := c.Open(context.Background(), remote.Account{
		User:      user,
		Zone:      testZone,
		ProxyUser: testAdmin,
		Password:  testAdminPassword,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBootstrap(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	admin := proxySession(t, c, testAdmin)

	for _, p := range []string{"/", "/tempZone", "/tempZone/home", "/tempZone/public", "/tempZone/trash", "/tempZone/home/alice"} {
		st, err := admin.Stat(ctx, p)
		require.NoError(t, err, p)
		assert.Equal(t, remote.KindCollection, st.Kind, p)
	}

	alice, err := admin.FindUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, remote.ActorUser, alice.Kind)
	assert.Equal(t, testZone, alice.Zone)
	assert.NotEmpty(t, alice.ID)

	groups, err := admin.GroupsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"public", "research"}, groups)

	research, err := admin.FindUser(ctx, "research")
	require.NoError(t, err)
	assert.Equal(t, remote.ActorGroup, research.Kind)

	_, err = admin.FindUser(ctx, "mallory")
	assert.ErrorIs(t, err, remote.ErrUserNotFound)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv := catalog.NewMemoryKV()
	cfg := catalog.Config{
		Zone:          testZone,
		AdminUser:     testAdmin,
		AdminPassword: testAdminPassword,
		Users:         []catalog.UserSpec{{Name: "alice", Password: "pw"}},
	}

	c1, err := catalog.New(ctx, kv, nil, cfg)
	require.NoError(t, err)
	s1 := proxySession(t, c1, "alice")
	u1, err := s1.FindUser(ctx, "alice")
	require.NoError(t, err)

	c2, err := catalog.New(ctx, kv, nil, cfg)
	require.NoError(t, err)
	s2 := proxySession(t, c2, "alice")
	u2, err := s2.FindUser(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, u1.ID, u2.ID)
}

func TestOpen(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		acct    remote.Account
		wantErr error
	}{
		{"direct login", remote.Account{User: "alice", Password: "alice-pw", Zone: testZone}, nil},
		{"wrong password", remote.Account{User: "alice", Password: "nope", Zone: testZone}, remote.ErrAuthentication},
		{"unknown user", remote.Account{User: "mallory", Password: "x", Zone: testZone}, remote.ErrAuthentication},
		{"proxy login", remote.Account{User: "bob", ProxyUser: testAdmin, Password: testAdminPassword, Zone: testZone}, nil},
		{"proxy not admin", remote.Account{User: "bob", ProxyUser: "alice", Password: "alice-pw", Zone: testZone}, remote.ErrAuthentication},
		{"proxy for unknown user", remote.Account{User: "mallory", ProxyUser: testAdmin, Password: testAdminPassword, Zone: testZone}, remote.ErrUserNotFound},
		{"wrong zone", remote.Account{User: "alice", Password: "alice-pw", Zone: "otherZone"}, remote.ErrAuthentication},
		{"group login", remote.Account{User: "research", ProxyUser: testAdmin, Password: testAdminPassword, Zone: testZone}, remote.ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := c.Open(ctx, tt.acct)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.acct.User, s.Account().User)
			require.NoError(t, s.Close())
		})
	}
}

func TestOpenSessionsCounter(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	acct := remote.Account{User: "alice", Password: "alice-pw", Zone: testZone}

	s1, err := c.Open(ctx, acct)
	require.NoError(t, err)
	s2, err := c.Open(ctx, acct)
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.OpenSessions())

	require.NoError(t, s1.Close())
	require.NoError(t, s1.Close())
	assert.EqualValues(t, 1, c.OpenSessions())

	require.NoError(t, s2.Close())
	assert.EqualValues(t, 0, c.OpenSessions())

	_, err = s1.Stat(ctx, "/")
	assert.ErrorIs(t, err, remote.ErrSessionClosed)
}

func TestCreateAndList(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	alice := proxySession(t, c, "alice")
	home := "/tempZone/home/alice"

	require.NoError(t, alice.CreateCollection(ctx, home+"/docs"))
	require.NoError(t, alice.CreateDataObject(ctx, home+"/b.txt"))
	require.NoError(t, alice.CreateDataObject(ctx, home+"/a.txt"))

	entries, err := alice.List(ctx, home)
	require.NoError(t, err)
	assert.Equal(t, []remote.Entry{
		{Name: "a.txt", Kind: remote.KindDataObject},
		{Name: "b.txt", Kind: remote.KindDataObject},
		{Name: "docs", Kind: remote.KindCollection},
	}, entries)

	err = alice.CreateDataObject(ctx, home+"/a.txt")
	assert.ErrorIs(t, err, remote.ErrAlreadyExists)

	err = alice.CreateDataObject(ctx, home+"/missing/x")
	assert.ErrorIs(t, err, remote.ErrNoSuchObject)

	err = alice.CreateDataObject(ctx, home+"/a.txt/x")
	assert.ErrorIs(t, err, remote.ErrNotCollection)

	perms, err := alice.ListDataObjectPermissions(ctx, home+"/a.txt")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "alice", perms[0].Name)
	assert.Equal(t, remote.LevelOwn, perms[0].Level)
	assert.Equal(t, remote.ActorUser, perms[0].Kind)
}

func TestPermissionChecks(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	alice := proxySession(t, c, "alice")
	bob := proxySession(t, c, "bob")
	home := "/tempZone/home/alice"

	require.NoError(t, alice.CreateDataObject(ctx, home+"/secret.txt"))
	require.NoError(t, alice.CreateCollection(ctx, home+"/private"))

	t.Run("data object hidden without permission", func(t *testing.T) {
		_, err := bob.Stat(ctx, home+"/secret.txt")
		assert.ErrorIs(t, err, remote.ErrNoSuchObject)
	})

	t.Run("collection reported as stand-in without permission", func(t *testing.T) {
		st, err := bob.Stat(ctx, home+"/private")
		require.NoError(t, err)
		assert.Equal(t, remote.KindCollectionStandIn, st.Kind)
		assert.Empty(t, st.OwnerName)
	})

	t.Run("list needs read", func(t *testing.T) {
		_, err := bob.List(ctx, home)
		assert.ErrorIs(t, err, remote.ErrAccessDenied)
	})

	t.Run("create needs write on parent", func(t *testing.T) {
		err := bob.CreateDataObject(ctx, home+"/bob.txt")
		assert.ErrorIs(t, err, remote.ErrAccessDenied)
	})

	t.Run("grant needs own", func(t *testing.T) {
		err := bob.Grant(ctx, remote.KindDataObject, testZone, home+"/secret.txt", "bob", remote.LevelOwn)
		assert.ErrorIs(t, err, remote.ErrAccessDenied)
	})

	t.Run("admin variants need an admin", func(t *testing.T) {
		err := alice.GrantAsAdmin(ctx, remote.KindDataObject, testZone, home+"/secret.txt", "bob", remote.LevelRead)
		assert.ErrorIs(t, err, remote.ErrAccessDenied)
	})

	t.Run("read grant makes the object visible but read-only", func(t *testing.T) {
		require.NoError(t, alice.Grant(ctx, remote.KindDataObject, testZone, home+"/secret.txt", "bob", remote.LevelRead))

		st, err := bob.Stat(ctx, home+"/secret.txt")
		require.NoError(t, err)
		assert.Equal(t, remote.KindDataObject, st.Kind)

		f, err := bob.OpenRandomAccess(ctx, home+"/secret.txt")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		_, err = f.Write([]byte("x"))
		assert.ErrorIs(t, err, remote.ErrAccessDenied)

		err = bob.DeleteDataObject(ctx, home+"/secret.txt")
		assert.ErrorIs(t, err, remote.ErrAccessDenied)
	})

	t.Run("group grant applies to members", func(t *testing.T) {
		require.NoError(t, alice.Grant(ctx, remote.KindCollection, testZone, home+"/private", "public", remote.LevelRead))

		_, err := bob.List(ctx, home+"/private")
		assert.NoError(t, err)
	})

	t.Run("revoke removes the entry", func(t *testing.T) {
		require.NoError(t, alice.Revoke(ctx, remote.KindDataObject, testZone, home+"/secret.txt", "bob"))

		_, err := bob.Stat(ctx, home+"/secret.txt")
		assert.ErrorIs(t, err, remote.ErrNoSuchObject)
	})

	t.Run("grant to unknown user", func(t *testing.T) {
		err := alice.Grant(ctx, remote.KindDataObject, testZone, home+"/secret.txt", "mallory", remote.LevelRead)
		assert.ErrorIs(t, err, remote.ErrUserNotFound)
	})

	t.Run("grant with kind mismatch", func(t *testing.T) {
		err := alice.Grant(ctx, remote.KindCollection, testZone, home+"/secret.txt", "bob", remote.LevelRead)
		assert.ErrorIs(t, err, remote.ErrNotCollection)
	})
}

func TestReadWrite(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	alice := proxySession(t, c, "alice")
	p := "/tempZone/home/alice/data.bin"

	require.NoError(t, alice.CreateDataObject(ctx, p))

	f, err := alice.OpenRandomAccess(ctx, p)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	_, err = f.Seek(6, io.SeekStart)
	require.NoError(t, err)
	_, err = f.Write([]byte("WORLD"))
	require.NoError(t, err)

	end, err := f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 11, end)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello WORLD", string(data))

	_, err = f.Seek(-1, io.SeekStart)
	assert.Error(t, err)
	require.NoError(t, f.Close())

	st, err := alice.Stat(ctx, p)
	require.NoError(t, err)
	assert.EqualValues(t, 11, st.Size)

	_, err = alice.OpenRandomAccess(ctx, "/tempZone/home/alice")
	assert.ErrorIs(t, err, remote.ErrNotDataObject)
}

func TestDelete(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	alice := proxySession(t, c, "alice")
	home := "/tempZone/home/alice"

	require.NoError(t, alice.CreateCollection(ctx, home+"/dir"))
	require.NoError(t, alice.CreateDataObject(ctx, home+"/dir/f"))

	err := alice.DeleteCollection(ctx, home+"/dir")
	assert.ErrorIs(t, err, remote.ErrNotEmpty)

	err = alice.DeleteCollection(ctx, home+"/dir/f")
	assert.ErrorIs(t, err, remote.ErrNotCollection)

	require.NoError(t, alice.DeleteDataObject(ctx, home+"/dir/f"))
	require.NoError(t, alice.DeleteCollection(ctx, home+"/dir"))

	_, err = alice.Stat(ctx, home+"/dir")
	assert.ErrorIs(t, err, remote.ErrNoSuchObject)

	entries, err := alice.List(ctx, home)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRename(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	alice := proxySession(t, c, "alice")
	home := "/tempZone/home/alice"

	require.NoError(t, alice.CreateCollection(ctx, home+"/a"))
	require.NoError(t, alice.CreateCollection(ctx, home+"/a/sub"))
	require.NoError(t, alice.CreateDataObject(ctx, home+"/a/sub/f"))
	require.NoError(t, alice.CreateDataObject(ctx, home+"/x"))

	t.Run("data object", func(t *testing.T) {
		require.NoError(t, alice.RenameDataObject(ctx, home+"/x", home+"/y"))

		_, err := alice.Stat(ctx, home+"/x")
		assert.ErrorIs(t, err, remote.ErrNoSuchObject)
		st, err := alice.Stat(ctx, home+"/y")
		require.NoError(t, err)
		assert.Equal(t, remote.KindDataObject, st.Kind)
	})

	t.Run("collection moves its subtree", func(t *testing.T) {
		require.NoError(t, alice.RenameCollection(ctx, home+"/a", home+"/b"))

		_, err := alice.Stat(ctx, home+"/a/sub/f")
		assert.ErrorIs(t, err, remote.ErrNoSuchObject)

		st, err := alice.Stat(ctx, home+"/b/sub/f")
		require.NoError(t, err)
		assert.Equal(t, remote.KindDataObject, st.Kind)

		entries, err := alice.List(ctx, home+"/b/sub")
		require.NoError(t, err)
		assert.Equal(t, []remote.Entry{{Name: "f", Kind: remote.KindDataObject}}, entries)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		err := alice.RenameCollection(ctx, home+"/y", home+"/z")
		assert.ErrorIs(t, err, remote.ErrNotCollection)
		err = alice.RenameDataObject(ctx, home+"/b", home+"/z")
		assert.ErrorIs(t, err, remote.ErrNotDataObject)
	})

	t.Run("destination exists", func(t *testing.T) {
		require.NoError(t, alice.CreateDataObject(ctx, home+"/z"))
		err := alice.RenameDataObject(ctx, home+"/y", home+"/z")
		assert.ErrorIs(t, err, remote.ErrAlreadyExists)
	})

	t.Run("into itself", func(t *testing.T) {
		err := alice.RenameCollection(ctx, home+"/b", home+"/b/sub/c")
		assert.ErrorIs(t, err, remote.ErrInvalidPath)
	})
}

func TestInvalidPath(t *testing.T) {
	c := newTestCatalog(t)
	alice := proxySession(t, c, "alice")

	_, err := alice.Stat(context.Background(), "relative/path")
	assert.ErrorIs(t, err, remote.ErrInvalidPath)
}
