package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/rodsnfs/pkg/vfs"
)

const minimalConfig = `
server:
  port: 2049
  mount_point: /tempZone/home
  user_information_refresh_ms: 1000
  file_information_refresh_ms: 2000
  user_access_refresh_ms: 3000

remote:
  zone: tempZone
  proxy_admin:
    username: rods
    password: rods
  backend:
    type: memory
    users:
      - name: alice
        groups: [lab]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.IdleTimeout)
	assert.Zero(t, cfg.Server.MaxConnections)

	assert.Equal(t, "/etc/passwd", cfg.Identity.PasswdFile)
	assert.Equal(t, []string{"/etc/passwd", "/etc/shadow"}, cfg.Identity.WatchFiles)
	assert.Equal(t, 10*time.Minute, cfg.Identity.PurgeInterval)
	assert.Equal(t, 65534, cfg.Identity.NobodyUID)

	assert.Equal(t, "localhost", cfg.Remote.Host)
	assert.Equal(t, 1247, cfg.Remote.Port)
	assert.Equal(t, "CS_NEG_REFUSE", cfg.Remote.SSLNegotiationPolicy)
	assert.Equal(t, "memory", cfg.Content.Type)
	assert.Equal(t, 9090, cfg.Metrics.Port)

	require.Len(t, cfg.Remote.Backend.Users, 1)
	assert.Equal(t, []string{"lab"}, cfg.Remote.Backend.Users[0].Groups)

	assert.Equal(t, time.Second, cfg.Server.UserInformationRefresh())
	assert.Equal(t, 2*time.Second, cfg.Server.FileInformationRefresh())
	assert.Equal(t, 3*time.Second, cfg.Server.UserAccessRefresh())
}

func TestLoadRequiresServerSettings(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		wantErr string
	}{
		{"port", "  port: 2049\n", "Port"},
		{"mount point", "  mount_point: /tempZone/home\n", "MountPoint"},
		{"user information refresh", "  user_information_refresh_ms: 1000\n", "UserInformationRefreshMs"},
		{"file information refresh", "  file_information_refresh_ms: 2000\n", "FileInformationRefreshMs"},
		{"user access refresh", "  user_access_refresh_ms: 3000\n", "UserAccessRefreshMs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := strings.Replace(minimalConfig, tt.drop, "", 1)
			require.NotEqual(t, minimalConfig, content)

			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("RODSNFS_LOGGING_LEVEL", "debug")
	t.Setenv("RODSNFS_REMOTE_HOST", "irods.example.org")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "irods.example.org", cfg.Remote.Host)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default config", func(*Config) {}, false},
		{"relative mount point", func(c *Config) { c.Server.MountPoint = "tempZone/home" }, true},
		{"zero refresh", func(c *Config) { c.Server.UserAccessRefreshMs = 0 }, true},
		{"negative max connections", func(c *Config) { c.Server.MaxConnections = -1 }, true},
		{"bad ssl policy", func(c *Config) { c.Remote.SSLNegotiationPolicy = "CS_NEG_MAYBE" }, true},
		{"zone with slash", func(c *Config) { c.Remote.Zone = "a/b" }, true},
		{"missing proxy admin", func(c *Config) { c.Remote.ProxyAdmin.Username = "" }, true},
		{"unknown backend", func(c *Config) { c.Remote.Backend.Type = "postgres" }, true},
		{"unknown content", func(c *Config) { c.Content.Type = "tape" }, true},
		{"bad user kind", func(c *Config) {
			c.Remote.Backend.Users = []UserConfig{{Name: "alice", Kind: "superuser"}}
		}, true},
		{"duplicate users", func(c *Config) {
			c.Remote.Backend.Users = []UserConfig{{Name: "alice"}, {Name: "alice"}}
		}, true},
		{"user shadows proxy admin", func(c *Config) {
			c.Remote.Backend.Users = []UserConfig{{Name: "rods"}}
		}, true},
		{"s3 without bucket", func(c *Config) {
			c.Content.Type = "s3"
			c.Content.S3 = map[string]any{"region": "eu-west-1"}
		}, true},
		{"metrics on server port", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = c.Server.Port
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	written, err := InitConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# rodsnfs configuration file"))

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	for _, section := range []string{"logging", "server", "identity", "remote", "content", "metrics"} {
		assert.Contains(t, parsed, section)
	}

	_, err = InitConfig(path, false)
	assert.Error(t, err, "existing file is not overwritten")
	_, err = InitConfig(path, true)
	assert.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().Server, cfg.Server)
}

func TestCreateContentStore(t *testing.T) {
	ctx := context.Background()

	store, err := CreateContentStore(ctx, &ContentConfig{Type: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, store)

	store, err = CreateContentStore(ctx, &ContentConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": filepath.Join(t.TempDir(), "content")},
	})
	require.NoError(t, err)
	assert.NotNil(t, store)

	_, err = CreateContentStore(ctx, &ContentConfig{Type: "filesystem", Filesystem: map[string]any{}})
	assert.Error(t, err)

	_, err = CreateContentStore(ctx, &ContentConfig{Type: "s3", S3: map[string]any{"region": "eu-west-1"}})
	assert.Error(t, err)

	_, err = CreateContentStore(ctx, &ContentConfig{Type: "tape"})
	assert.Error(t, err)
}

func TestCreateCatalog(t *testing.T) {
	ctx := context.Background()
	store, err := CreateContentStore(ctx, &ContentConfig{Type: "memory"})
	require.NoError(t, err)

	remoteCfg := GetDefaultConfig().Remote
	remoteCfg.Backend.Users = []UserConfig{{Name: "alice", Kind: "user", Groups: []string{"lab"}}}

	t.Run("memory", func(t *testing.T) {
		cat, err := CreateCatalog(ctx, &remoteCfg, store)
		require.NoError(t, err)
		defer func() { _ = cat.Close() }()
		assert.Equal(t, "tempZone", cat.Zone())
	})

	t.Run("badger", func(t *testing.T) {
		cfg := remoteCfg
		cfg.Backend.Type = "badger"
		cfg.Backend.Badger = map[string]any{"db_path": filepath.Join(t.TempDir(), "catalog")}

		cat, err := CreateCatalog(ctx, &cfg, store)
		require.NoError(t, err)
		assert.NoError(t, cat.Close())
	})

	t.Run("badger without path", func(t *testing.T) {
		cfg := remoteCfg
		cfg.Backend.Type = "badger"
		cfg.Backend.Badger = map[string]any{}

		_, err := CreateCatalog(ctx, &cfg, store)
		assert.Error(t, err)
	})

	t.Run("bad user kind", func(t *testing.T) {
		cfg := remoteCfg
		cfg.Backend.Users = []UserConfig{{Name: "eve", Kind: "wizard"}}

		_, err := CreateCatalog(ctx, &cfg, store)
		assert.Error(t, err)
	})
}

func TestBuild(t *testing.T) {
	passwd := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(passwd, []byte(
		"root:x:0:0:root:/root:/bin/sh\nalice:x:1001:100::/home/alice:/bin/sh\n"), 0644))

	cfg := GetDefaultConfig()
	cfg.Identity.PasswdFile = passwd
	cfg.Identity.WatchFiles = []string{passwd}
	cfg.Remote.Backend.Users = []UserConfig{{Name: "alice"}}

	stack, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = stack.Close() }()

	auth := &vfs.AuthContext{Context: context.Background(), UID: 1001}
	home, err := stack.FS.Lookup(auth, stack.FS.RootInode(), "alice")
	require.NoError(t, err)

	st, err := stack.FS.Getattr(auth, home)
	require.NoError(t, err)
	assert.Equal(t, uint32(1001), st.UID)
	assert.Zero(t, stack.Catalog.OpenSessions())
}
