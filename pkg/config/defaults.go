package config

import (
	"strings"
	"time"

	"github.com/marmos91/rodsnfs/pkg/identity"
)

// ApplyDefaults fills zero-valued fields. Server port, mount point and the
// refresh intervals are left alone so that validation rejects a
// configuration that does not set them.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyIdentityDefaults(&cfg.Identity)
	applyRemoteDefaults(&cfg.Remote)
	applyContentDefaults(&cfg.Content)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
}

func applyIdentityDefaults(cfg *IdentityConfig) {
	if cfg.PasswdFile == "" {
		cfg.PasswdFile = "/etc/passwd"
	}
	if cfg.WatchFiles == nil {
		cfg.WatchFiles = append([]string(nil), identity.DefaultWatchFiles...)
	}
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = identity.DefaultPurgeInterval
	}
	if cfg.NobodyUID == 0 {
		cfg.NobodyUID = identity.NobodyUID
	}
	if cfg.NobodyGID == 0 {
		cfg.NobodyGID = identity.NobodyGID
	}
}

func applyRemoteDefaults(cfg *RemoteConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 1247
	}
	if cfg.SSLNegotiationPolicy == "" {
		cfg.SSLNegotiationPolicy = "CS_NEG_REFUSE"
	}
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = "memory"
	}
	if cfg.Backend.Badger == nil {
		cfg.Backend.Badger = make(map[string]any)
	}
	if _, ok := cfg.Backend.Badger["db_path"]; !ok {
		cfg.Backend.Badger["db_path"] = "/var/lib/rodsnfs/catalog"
	}
}

func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/var/lib/rodsnfs/content"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a complete, valid configuration suitable for
// `config init`. Unlike ApplyDefaults it also sets the required server
// fields.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:                     2049,
			MountPoint:               "/tempZone/home",
			UserInformationRefreshMs: 1000,
			FileInformationRefreshMs: 1000,
			UserAccessRefreshMs:      1000,
		},
		Remote: RemoteConfig{
			Zone:            "tempZone",
			DefaultResource: "demoResc",
			ProxyAdmin: ProxyAdminConfig{
				Username: "rods",
				Password: "rods",
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
