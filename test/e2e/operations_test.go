package e2e

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/rodsnfs/internal/protocol/nfs/types"
)

func TestMount(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		alice := tc.Dial(aliceUID, labGID)

		status, root := alice.Mount(testMount)
		require.Equal(t, uint32(types.MountOK), status)
		assert.Equal(t, []byte(tc.Stack.FS.RootInode()), root)

		status, home := alice.Mount(testMount + "/alice")
		require.Equal(t, uint32(types.MountOK), status)

		st, h, ftype := alice.Lookup(root, "alice")
		require.Equal(t, uint32(types.NFS3OK), st)
		assert.Equal(t, home, h)
		assert.Equal(t, uint32(types.NF3Dir), ftype)

		status, _ = alice.Mount("/otherZone")
		assert.Equal(t, uint32(types.MountErrNoEnt), status)
	})
}

func TestCreateWriteRead(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		alice := tc.Dial(aliceUID, labGID)
		_, root := alice.Mount(testMount)
		_, home, _ := alice.Lookup(root, "alice")

		status, file := alice.Create(home, "results.csv")
		require.Equal(t, uint32(types.NFS3OK), status)

		payload := bytes.Repeat([]byte("sample,value\n"), 1000)
		status, n := alice.Write(file, 0, payload)
		require.Equal(t, uint32(types.NFS3OK), status)
		assert.Equal(t, uint32(len(payload)), n)

		status, uid, size := alice.GetAttr(file)
		require.Equal(t, uint32(types.NFS3OK), status)
		assert.Equal(t, uint32(aliceUID), uid)
		assert.Equal(t, uint64(len(payload)), size)

		status, data, eof := alice.Read(file, 0, uint32(len(payload)+10))
		require.Equal(t, uint32(types.NFS3OK), status)
		assert.True(t, eof)
		assert.Equal(t, payload, data)

		status, data, eof = alice.Read(file, 13, 12)
		require.Equal(t, uint32(types.NFS3OK), status)
		assert.False(t, eof)
		assert.Equal(t, "sample,value", string(data))

		status, _ = alice.Create(home, "results.csv")
		assert.Equal(t, uint32(types.NFS3ErrExist), status)
	})
}

func TestDirectoryOperations(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		alice := tc.Dial(aliceUID, labGID)
		_, root := alice.Mount(testMount)
		_, home, _ := alice.Lookup(root, "alice")

		status, project := alice.Mkdir(home, "project")
		require.Equal(t, uint32(types.NFS3OK), status)

		status, file := alice.Create(project, "draft.txt")
		require.Equal(t, uint32(types.NFS3OK), status)

		status, names := alice.ReadDir(project)
		require.Equal(t, uint32(types.NFS3OK), status)
		assert.Contains(t, names, "draft.txt")

		t.Run("rename keeps the handle", func(t *testing.T) {
			require.Equal(t, uint32(types.NFS3OK), alice.Rename(project, "draft.txt", home, "final.txt"))

			st, h, _ := alice.Lookup(home, "final.txt")
			require.Equal(t, uint32(types.NFS3OK), st)
			assert.Equal(t, file, h)

			st, _, _ = alice.Lookup(project, "draft.txt")
			assert.Equal(t, uint32(types.NFS3ErrNoEnt), st)
		})

		t.Run("remove", func(t *testing.T) {
			assert.Equal(t, uint32(types.NFS3ErrIsDir), alice.Remove(home, "project"))
			assert.Equal(t, uint32(types.NFS3OK), alice.Rmdir(home, "project"))
			assert.Equal(t, uint32(types.NFS3OK), alice.Remove(home, "final.txt"))

			st, _, _ := alice.Lookup(home, "final.txt")
			assert.Equal(t, uint32(types.NFS3ErrNoEnt), st)
		})
	})
}

func TestPermissionIsolation(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		alice := tc.Dial(aliceUID, labGID)
		bob := tc.Dial(bobUID, labGID)

		_, root := alice.Mount(testMount)
		_, home, _ := alice.Lookup(root, "alice")
		status, file := alice.Create(home, "private.txt")
		require.Equal(t, uint32(types.NFS3OK), status)
		status, _ = alice.Write(file, 0, []byte("secret"))
		require.Equal(t, uint32(types.NFS3OK), status)

		status, _, _ = bob.Read(file, 0, 16)
		assert.Equal(t, uint32(types.NFS3ErrAcces), status)

		status, _ = bob.Write(file, 0, []byte("tampered"))
		assert.Equal(t, uint32(types.NFS3ErrAcces), status)

		status, _ = bob.Create(home, "intruder.txt")
		assert.Equal(t, uint32(types.NFS3ErrAcces), status)

		t.Run("unknown uid", func(t *testing.T) {
			stranger := tc.Dial(4242, 4242)
			st, _, _ := stranger.Lookup(root, "alice")
			assert.Equal(t, uint32(types.NFS3ErrAcces), st)
		})
	})
}
