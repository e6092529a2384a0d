package testing

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/marmos91/rodsnfs/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite checks the content.Store contract. It is shared by every
// implementation so they behave identically towards the catalog.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &contenttesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.Store { return mystore.New() },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store for each sub-test.
	NewStore func(t *testing.T) content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("WriteThenRead", suite.testWriteThenRead)
	t.Run("ReadPastEnd", suite.testReadPastEnd)
	t.Run("SparseWrite", suite.testSparseWrite)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("MissingContent", suite.testMissingContent)
	t.Run("Delete", suite.testDelete)
	t.Run("InvalidArguments", suite.testInvalidArguments)
	t.Run("ConcurrentDistinctIDs", suite.testConcurrentDistinctIDs)
}

func (suite *StoreTestSuite) testWriteThenRead(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	n, err := store.WriteAt(ctx, "obj-1", []byte("hello world"), 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	buf := make([]byte, 5)
	n, err = store.ReadAt(ctx, "obj-1", buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	size, err := store.Size(ctx, "obj-1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
}

func (suite *StoreTestSuite) testReadPastEnd(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	_, err := store.WriteAt(ctx, "obj", []byte("abc"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := store.ReadAt(ctx, "obj", buf, 1)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "bc", string(buf[:n]))

	n, err = store.ReadAt(ctx, "obj", buf, 3)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func (suite *StoreTestSuite) testSparseWrite(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	_, err := store.WriteAt(ctx, "sparse", []byte("xy"), 4)
	require.NoError(t, err)

	buf := make([]byte, 6)
	n, err := store.ReadAt(ctx, "sparse", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{0, 0, 0, 0, 'x', 'y'}, buf)
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	_, err := store.WriteAt(ctx, "o", []byte("aaaaaa"), 0)
	require.NoError(t, err)
	_, err = store.WriteAt(ctx, "o", []byte("BB"), 2)
	require.NoError(t, err)

	buf := make([]byte, 6)
	_, err = store.ReadAt(ctx, "o", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "aaBBaa", string(buf))
}

func (suite *StoreTestSuite) testMissingContent(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	exists, err := store.Exists(ctx, "never")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Size(ctx, "never")
	assert.True(t, errors.Is(err, content.ErrContentNotFound))

	n, err := store.ReadAt(ctx, "never", make([]byte, 4), 0)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	_, err := store.WriteAt(ctx, "gone", []byte("data"), 0)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "gone"))
	require.NoError(t, store.Delete(ctx, "gone"), "second delete is not an error")

	exists, err := store.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *StoreTestSuite) testInvalidArguments(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	_, err := store.WriteAt(ctx, "", []byte("x"), 0)
	assert.ErrorIs(t, err, content.ErrInvalidContentID)

	_, err = store.WriteAt(ctx, "x", []byte("x"), -1)
	assert.ErrorIs(t, err, content.ErrInvalidOffset)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.WriteAt(cancelled, "x", []byte("x"), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func (suite *StoreTestSuite) testConcurrentDistinctIDs(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	ids := []content.ContentID{"c1", "c2", "c3", "c4"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id content.ContentID) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := store.WriteAt(ctx, id, []byte{byte(i)}, int64(i))
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		size, err := store.Size(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(20), size)
	}
}
