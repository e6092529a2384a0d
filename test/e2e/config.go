package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/rodsnfs/pkg/config"
)

// BackendType selects where the remote catalog keeps its state.
type BackendType string

const (
	BackendMemory BackendType = "memory"
	BackendBadger BackendType = "badger"
)

// ContentType selects where data object bytes are stored.
type ContentType string

const (
	ContentMemory     ContentType = "memory"
	ContentFilesystem ContentType = "filesystem"
)

const (
	testZone  = "tempZone"
	testMount = "/tempZone/home"

	aliceUID = 1001
	bobUID   = 1002
	labGID   = 100
)

const passwd = `root:x:0:0:root:/root:/bin/sh
alice:x:1001:100:Alice:/home/alice:/bin/sh
bob:x:1002:100:Bob:/home/bob:/bin/sh
`

// TestConfig is one backend combination the suite runs against.
type TestConfig struct {
	Name    string
	Backend BackendType
	Content ContentType
}

func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s/%s", tc.Backend, tc.Content)
}

// AllConfigurations returns every combination exercised by the suite.
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{Name: "memory-memory", Backend: BackendMemory, Content: ContentMemory},
		{Name: "memory-filesystem", Backend: BackendMemory, Content: ContentFilesystem},
		{Name: "badger-filesystem", Backend: BackendBadger, Content: ContentFilesystem},
	}
}

// Build returns a gateway configuration rooted in a temporary directory.
func (tc *TestConfig) Build(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	passwdFile := filepath.Join(dir, "passwd")
	if err := os.WriteFile(passwdFile, []byte(passwd), 0644); err != nil {
		t.Fatalf("Failed to write passwd file: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			MountPoint:               testMount,
			UserInformationRefreshMs: 1000,
			FileInformationRefreshMs: 1000,
			UserAccessRefreshMs:      1000,
			ShutdownTimeout:          2 * time.Second,
		},
		Identity: config.IdentityConfig{
			PasswdFile: passwdFile,
			WatchFiles: []string{passwdFile},
		},
		Remote: config.RemoteConfig{
			Zone: testZone,
			ProxyAdmin: config.ProxyAdminConfig{
				Username: "rods",
				Password: "rods",
			},
			Backend: config.BackendConfig{
				Type: string(tc.Backend),
				Badger: map[string]any{
					"db_path": filepath.Join(dir, "catalog"),
				},
				Users: []config.UserConfig{
					{Name: "alice", Groups: []string{"lab"}},
					{Name: "bob", Groups: []string{"lab"}},
				},
			},
		},
		Content: config.ContentConfig{
			Type: string(tc.Content),
			Filesystem: map[string]any{
				"path": filepath.Join(dir, "content"),
			},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}
