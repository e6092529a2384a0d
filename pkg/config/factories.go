package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/internal/ratelimiter"
	"github.com/marmos91/rodsnfs/pkg/content"
	contentFs "github.com/marmos91/rodsnfs/pkg/content/fs"
	contentMemory "github.com/marmos91/rodsnfs/pkg/content/memory"
	contentS3 "github.com/marmos91/rodsnfs/pkg/content/s3"
	"github.com/marmos91/rodsnfs/pkg/identity"
	"github.com/marmos91/rodsnfs/pkg/permission"
	"github.com/marmos91/rodsnfs/pkg/remote"
	"github.com/marmos91/rodsnfs/pkg/remote/badger"
	"github.com/marmos91/rodsnfs/pkg/remote/catalog"
	"github.com/marmos91/rodsnfs/pkg/remote/throttle"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

// CreateContentStore creates the content store selected by cfg.Type.
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem)
	case "memory":
		return contentMemory.NewMemoryContentStore(), nil
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

func createFilesystemContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type FilesystemContentStoreConfig struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg FilesystemContentStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}
	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	store, err := contentFs.NewFSContentStore(ctx, storeCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}
	return store, nil
}

func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type S3ContentStoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeCfg S3ContentStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}
	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(storeCfg.Region),
	}

	// Static credentials when both halves are given, the default chain otherwise.
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(storeCfg.AccessKeyID, storeCfg.SecretAccessKey, ""),
		))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO and Localstack need path-style addressing.
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store, err := contentS3.NewS3ContentStore(ctx, contentS3.S3ContentStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized",
		"bucket", storeCfg.Bucket,
		"region", storeCfg.Region,
		"prefix", storeCfg.KeyPrefix)
	return store, nil
}

// catalogUsers converts the configured users into catalog provisioning specs.
func catalogUsers(users []UserConfig) ([]catalog.UserSpec, error) {
	specs := make([]catalog.UserSpec, 0, len(users))
	for i, u := range users {
		kind, err := remote.ParseActorKind(u.Kind)
		if err != nil {
			return nil, fmt.Errorf("remote.backend.users[%d]: %w", i, err)
		}
		specs = append(specs, catalog.UserSpec{
			Name:     u.Name,
			Password: u.Password,
			Kind:     kind,
			Groups:   u.Groups,
		})
	}
	return specs, nil
}

// CreateCatalog opens the remote catalog selected by cfg.Remote.Backend over
// store.
func CreateCatalog(ctx context.Context, cfg *RemoteConfig, store content.Store) (*catalog.Catalog, error) {
	users, err := catalogUsers(cfg.Backend.Users)
	if err != nil {
		return nil, err
	}
	catCfg := catalog.Config{
		Zone:          cfg.Zone,
		AdminUser:     cfg.ProxyAdmin.Username,
		AdminPassword: cfg.ProxyAdmin.Password,
		Users:         users,
	}

	switch cfg.Backend.Type {
	case "memory":
		return catalog.New(ctx, catalog.NewMemoryKV(), store, catCfg)
	case "badger":
		return createBadgerCatalog(ctx, cfg.Backend.Badger, store, catCfg)
	default:
		return nil, fmt.Errorf("unknown remote backend type: %q (supported: memory, badger)", cfg.Backend.Type)
	}
}

func createBadgerCatalog(ctx context.Context, options map[string]any, store content.Store, catCfg catalog.Config) (*catalog.Catalog, error) {
	var badgerCfg badger.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &badgerCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode badger backend options: %w", err)
	}
	if badgerCfg.DBPath == "" {
		return nil, fmt.Errorf("badger backend: db_path is required")
	}

	kv, err := badger.Open(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	cat, err := catalog.New(ctx, kv, store, catCfg)
	if err != nil {
		return nil, errors.Join(err, kv.Close())
	}
	return cat, nil
}

// CreateSessionFactory wraps next with the configured session-open throttle.
func CreateSessionFactory(next remote.SessionFactory, cfg *RemoteConfig) remote.SessionFactory {
	return throttle.New(next, ratelimiter.New(cfg.MaxSessionsPerSecond, cfg.Burst))
}

// CreateResolver builds the identity resolver over the passwd database.
func CreateResolver(cfg *Config, m *MetricsResult) (*identity.Resolver, error) {
	return identity.NewResolver(identity.NewPasswdProvider(cfg.Identity.PasswdFile), identity.Options{
		Host:                 cfg.Remote.Host,
		Port:                 cfg.Remote.Port,
		Zone:                 cfg.Remote.Zone,
		DefaultResource:      cfg.Remote.DefaultResource,
		SSLNegotiationPolicy: cfg.Remote.SSLNegotiationPolicy,
		ProxyUser:            cfg.Remote.ProxyAdmin.Username,
		ProxyPassword:        cfg.Remote.ProxyAdmin.Password,
		NobodyUID:            cfg.Identity.NobodyUID,
		NobodyGID:            cfg.Identity.NobodyGID,
		WatchFiles:           cfg.Identity.WatchFiles,
		PurgeInterval:        cfg.Identity.PurgeInterval,
		Metrics:              m.Identity,
	})
}

// CreateEngine builds the permission engine with the configured cache TTLs.
func CreateEngine(cfg *Config, m *MetricsResult) (*permission.Engine, error) {
	return permission.NewEngine(permission.Config{
		Zone:         cfg.Remote.Zone,
		AccessTTL:    cfg.Server.UserAccessRefresh(),
		GroupsTTL:    cfg.Server.UserInformationRefresh(),
		CacheMetrics: m.Cache,
	})
}

// Stack is the assembled backend: remote store, identity, permissions and
// the filesystem facade over them.
type Stack struct {
	Content  content.Store
	Catalog  *catalog.Catalog
	Sessions remote.SessionFactory
	Resolver *identity.Resolver
	Engine   *permission.Engine
	FS       *vfs.FileSystem
}

// Close releases the catalog storage.
func (s *Stack) Close() error {
	if s.Catalog == nil {
		return nil
	}
	return s.Catalog.Close()
}

// Build creates every component described by cfg.
func Build(ctx context.Context, cfg *Config, m *MetricsResult) (*Stack, error) {
	if m == nil {
		m = InitializeMetrics(&MetricsConfig{})
	}

	store, err := CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		return nil, err
	}
	cat, err := CreateCatalog(ctx, &cfg.Remote, store)
	if err != nil {
		return nil, err
	}
	stack := &Stack{
		Content:  store,
		Catalog:  cat,
		Sessions: CreateSessionFactory(cat, &cfg.Remote),
	}

	if stack.Resolver, err = CreateResolver(cfg, m); err != nil {
		return nil, errors.Join(err, stack.Close())
	}
	if stack.Engine, err = CreateEngine(cfg, m); err != nil {
		return nil, errors.Join(err, stack.Close())
	}

	stack.FS, err = vfs.New(vfs.Config{
		MountPoint:   cfg.Server.MountPoint,
		Sessions:     stack.Sessions,
		Resolver:     stack.Resolver,
		Engine:       stack.Engine,
		FileInfoTTL:  cfg.Server.FileInformationRefresh(),
		Metrics:      m.VFS,
		CacheMetrics: m.Cache,
	})
	if err != nil {
		return nil, errors.Join(err, stack.Close())
	}
	return stack, nil
}
