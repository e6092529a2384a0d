package memory

import (
	"testing"

	"github.com/marmos91/rodsnfs/pkg/content"
	contenttesting "github.com/marmos91/rodsnfs/pkg/content/testing"
)

// TestMemoryContentStore runs the content.Store suite against MemoryContentStore.
func TestMemoryContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			return NewMemoryContentStore()
		},
	}

	suite.Run(t)
}
