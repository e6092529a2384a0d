package fs

import (
	"context"
	"testing"

	"github.com/marmos91/rodsnfs/pkg/content"
	contenttesting "github.com/marmos91/rodsnfs/pkg/content/testing"
	"github.com/stretchr/testify/require"
)

// TestFSContentStore runs the content.Store suite against FSContentStore.
func TestFSContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			store, err := NewFSContentStore(context.Background(), t.TempDir())
			require.NoError(t, err)
			return store
		},
	}

	suite.Run(t)
}
