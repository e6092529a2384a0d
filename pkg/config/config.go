package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete rodsnfs configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (RODSNFS_*)
//  2. Configuration file (YAML, TOML or JSON)
//  3. Default values
//
// Backend and content sections carry a Type field selecting the
// implementation; only the matching type-specific map is decoded by the
// factory.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Remote   RemoteConfig   `mapstructure:"remote" yaml:"remote"`
	Content  ContentConfig  `mapstructure:"content" yaml:"content"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (normalized to uppercase).
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig holds the NFS-facing settings. Port, mount point and the
// three refresh intervals have no defaults: a configuration missing any of
// them is rejected.
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`

	// MountPoint is the remote collection exported as the NFS root.
	MountPoint string `mapstructure:"mount_point" yaml:"mount_point" validate:"required,startswith=/"`

	// UserInformationRefreshMs bounds how long group memberships are reused.
	UserInformationRefreshMs int64 `mapstructure:"user_information_refresh_ms" yaml:"user_information_refresh_ms" validate:"required,gt=0"`

	// FileInformationRefreshMs bounds how long attributes are reused.
	FileInformationRefreshMs int64 `mapstructure:"file_information_refresh_ms" yaml:"file_information_refresh_ms" validate:"required,gt=0"`

	// UserAccessRefreshMs bounds how long access decisions are reused.
	UserAccessRefreshMs int64 `mapstructure:"user_access_refresh_ms" yaml:"user_access_refresh_ms" validate:"required,gt=0"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// MaxConnections caps concurrent NFS clients. Zero means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`

	// MetricsLogInterval is how often the connection count is logged.
	// Zero disables the log line.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"gte=0"`
}

// UserInformationRefresh returns UserInformationRefreshMs as a duration.
func (s ServerConfig) UserInformationRefresh() time.Duration {
	return time.Duration(s.UserInformationRefreshMs) * time.Millisecond
}

// FileInformationRefresh returns FileInformationRefreshMs as a duration.
func (s ServerConfig) FileInformationRefresh() time.Duration {
	return time.Duration(s.FileInformationRefreshMs) * time.Millisecond
}

// UserAccessRefresh returns UserAccessRefreshMs as a duration.
func (s ServerConfig) UserAccessRefresh() time.Duration {
	return time.Duration(s.UserAccessRefreshMs) * time.Millisecond
}

// IdentityConfig controls how local uids are mapped to remote accounts.
type IdentityConfig struct {
	// PasswdFile is the passwd(5) database names and uids are read from.
	PasswdFile string `mapstructure:"passwd_file" yaml:"passwd_file" validate:"required"`

	// WatchFiles trigger a purge of the identity cache when their
	// modification time changes.
	WatchFiles []string `mapstructure:"watch_files" yaml:"watch_files"`

	PurgeInterval time.Duration `mapstructure:"purge_interval" yaml:"purge_interval" validate:"required,gt=0"`

	NobodyUID int `mapstructure:"nobody_uid" yaml:"nobody_uid" validate:"gte=0"`
	NobodyGID int `mapstructure:"nobody_gid" yaml:"nobody_gid" validate:"gte=0"`
}

// RemoteConfig describes the remote store and the proxy admin account every
// session authenticates with.
type RemoteConfig struct {
	Host            string `mapstructure:"host" yaml:"host" validate:"required"`
	Port            int    `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`
	Zone            string `mapstructure:"zone" yaml:"zone" validate:"required,excludesall=/"`
	DefaultResource string `mapstructure:"default_resource" yaml:"default_resource"`

	SSLNegotiationPolicy string `mapstructure:"ssl_negotiation_policy" yaml:"ssl_negotiation_policy" validate:"required,oneof=CS_NEG_REFUSE CS_NEG_DONT_CARE CS_NEG_REQUIRE"`

	ProxyAdmin ProxyAdminConfig `mapstructure:"proxy_admin" yaml:"proxy_admin"`

	// MaxSessionsPerSecond throttles session opens. Zero disables throttling.
	MaxSessionsPerSecond uint `mapstructure:"max_sessions_per_second" yaml:"max_sessions_per_second"`
	Burst                uint `mapstructure:"burst" yaml:"burst"`

	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
}

// ProxyAdminConfig holds the admin credentials used to proxy every user.
type ProxyAdminConfig struct {
	Username string `mapstructure:"username" yaml:"username" validate:"required,excludesall=/#@"`
	Password string `mapstructure:"password" yaml:"password"`
}

// BackendConfig selects where the remote catalog keeps its state.
type BackendConfig struct {
	// Type is memory or badger.
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger is decoded into badger.Config when Type is badger.
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// Users are provisioned at startup.
	Users []UserConfig `mapstructure:"users" yaml:"users" validate:"dive"`
}

// UserConfig provisions one remote account.
type UserConfig struct {
	Name     string   `mapstructure:"name" yaml:"name" validate:"required,excludesall=/#@"`
	Password string   `mapstructure:"password" yaml:"password,omitempty"`
	Kind     string   `mapstructure:"kind" yaml:"kind,omitempty" validate:"omitempty,oneof=user admin group rodsuser rodsadmin rodsgroup"`
	Groups   []string `mapstructure:"groups" yaml:"groups,omitempty"`
}

// ContentConfig selects where data object bytes are stored.
type ContentConfig struct {
	// Type is filesystem, memory or s3.
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`
	S3         map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load reads configuration from configPath (or the default location when
// empty), the environment and defaults, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment overrides and the config file location.
// Environment variables use the RODSNFS_ prefix, for example
// RODSNFS_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("RODSNFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// envKeys are the scalar keys that may be set through the environment alone.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.port",
	"server.mount_point",
	"server.user_information_refresh_ms",
	"server.file_information_refresh_ms",
	"server.user_access_refresh_ms",
	"server.shutdown_timeout",
	"server.max_connections",
	"server.read_timeout",
	"server.write_timeout",
	"server.idle_timeout",
	"server.metrics_log_interval",
	"identity.passwd_file",
	"identity.purge_interval",
	"remote.host",
	"remote.port",
	"remote.zone",
	"remote.default_resource",
	"remote.ssl_negotiation_policy",
	"remote.proxy_admin.username",
	"remote.proxy_admin.password",
	"remote.max_sessions_per_second",
	"remote.burst",
	"remote.backend.type",
	"content.type",
	"metrics.enabled",
	"metrics.port",
}

// readConfigFile reads the configuration file. A missing file is not an
// error; the configuration then comes from the environment and defaults.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/rodsnfs, ~/.config/rodsnfs, or "."
// when the home directory is unknown.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "rodsnfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "rodsnfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// SaveConfig writes cfg to path as YAML, creating parent directories. The
// file is readable by the owner only since it carries the proxy password.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# rodsnfs configuration file\n# Environment variables (RODSNFS_*) override these values.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitConfig writes the default configuration to path (or the default
// location when empty). It refuses to overwrite an existing file unless
// force is set.
func InitConfig(path string, force bool) (string, error) {
	if path == "" {
		path = GetDefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	if err := SaveConfig(GetDefaultConfig(), path); err != nil {
		return "", err
	}
	return path, nil
}
