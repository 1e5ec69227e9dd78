// Package app assembles the portalfs services from configuration. The API
// server and the sweeper both start from App so they agree on backends.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/portalfs/pkg/api"
	"github.com/platinummonkey/portalfs/pkg/branches"
	"github.com/platinummonkey/portalfs/pkg/clipboard"
	"github.com/platinummonkey/portalfs/pkg/config"
	"github.com/platinummonkey/portalfs/pkg/jobs"
	"github.com/platinummonkey/portalfs/pkg/middleware"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/observability"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/sharelinks"
	"github.com/platinummonkey/portalfs/pkg/storage"
	"github.com/platinummonkey/portalfs/pkg/storage/minio"
	"github.com/platinummonkey/portalfs/pkg/storage/postgres"
	"github.com/platinummonkey/portalfs/pkg/storage/s3"
	"github.com/platinummonkey/portalfs/pkg/tags"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// App holds the connections and services of one process
type App struct {
	Config    *config.Config
	Logger    *observability.Logger
	JobLogger *logrus.Logger

	DB      *sql.DB
	Redis   *postgres.RedisClient // nil when no Redis URL is configured
	Objects storage.ObjectStore

	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	JobMetrics *jobs.Metrics

	Directory *permissions.CachedDirectory
	Services  api.Services
}

// Migrations returns every migration set, in dependency order
func Migrations() []postgres.MigrationSet {
	return []postgres.MigrationSet{
		nodes.Migrations(),
		branches.Migrations(),
		permissions.Migrations(),
		tags.Migrations(),
		sharelinks.Migrations(),
		jobs.Migrations(),
	}
}

// New connects to the database, Redis and the object backend, applies
// migrations and builds the services. extra options are passed to the job engine.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, extra ...jobs.Option) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    logger,
		JobLogger: NewJobLogger(cfg.Observability.LogLevel),
		Registry:  prometheus.NewRegistry(),
	}
	a.Metrics = observability.NewMetrics(a.Registry)
	a.JobMetrics = jobs.NewMetrics(a.Registry)

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:      cfg.Storage.PostgresURL,
		MaxConns: cfg.Storage.PostgresMaxConns,
		MinConns: cfg.Storage.PostgresMinConns,
		Timeout:  cfg.Storage.PostgresTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.DB = db

	if err := postgres.RunMigrations(ctx, db, Migrations()...); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if cfg.Storage.RedisURL != "" {
		redisClient, err := postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = redisClient
	}

	objects, err := NewObjectStore(ctx, cfg.Storage, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Objects = objects

	a.Services = a.buildServices(extra)
	return a, nil
}

func (a *App) buildServices(extra []jobs.Option) api.Services {
	cfg := a.Config
	clock := vfs.RealClock{}

	var locker nodes.Locker = nodes.NewLocalLocker()
	var clipboardStore clipboard.Store = clipboard.NewMemoryStore(clock)
	if a.Redis != nil {
		locker = nodes.NewRedisLocker(a.Redis, 0)
		clipboardStore = clipboard.NewRedisStore(a.Redis)
	}

	nodeService := nodes.NewService(a.DB, a.Objects, nodes.WithLocker(locker))

	a.Directory = permissions.NewCachedDirectory(
		permissions.NewSQLDirectory(a.DB),
		cfg.Permissions.TeamCacheSize,
		cfg.Permissions.TeamCacheTTL,
	)
	permissionService := permissions.NewService(a.DB, permissions.WithDirectoryCache(a.Directory))

	engineOpts := []jobs.Option{
		jobs.WithLogger(a.JobLogger),
		jobs.WithMetrics(a.JobMetrics),
		jobs.WithWorkers(cfg.Jobs.Workers),
		jobs.WithPollInterval(cfg.Jobs.PollInterval),
		jobs.WithJobTimeout(cfg.Jobs.JobTimeout),
		jobs.WithFileOperations(jobs.NewFileOperations(nodeService, jobs.ArchiveOptions{URLTTL: cfg.Jobs.ArchiveTTL})),
	}
	engineOpts = append(engineOpts, extra...)

	return api.Services{
		Nodes:       nodeService,
		Branches:    branches.NewRegistry(a.DB, clock),
		Permissions: permissionService,
		Resolver:    permissions.NewResolver(permissionService, nodeService, a.Directory),
		Tags:        tags.NewService(a.DB, clock),
		Clipboard:   clipboard.NewService(clipboardStore, clipboard.WithTTL(cfg.Clipboard.TTL)),
		ShareLinks:  sharelinks.NewService(a.DB, nodeService),
		Jobs:        jobs.NewEngine(a.DB, engineOpts...),
		Objects:     a.Objects,
	}
}

// ShareLinkLimiter returns a Redis-backed limiter when Redis is configured,
// so every server process counts against the same window
func (a *App) ShareLinkLimiter() middleware.Limiter {
	limits := ShareLinkRateLimit(a.Config.ShareLinks)
	if a.Redis != nil {
		return middleware.NewDistributedRateLimiter(a.Redis.GetClient(), limits, "portalfs:sharelinks")
	}
	return middleware.NewRateLimiter(limits, nil)
}

// HealthChecker probes the database, Redis, the object backend and the job table
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	objects, _ := a.Objects.(storage.HealthChecker)
	var checker *observability.HealthChecker
	if a.Redis != nil {
		checker = observability.NewHealthChecker(a.DB, a.Redis.GetClient(), objects, version)
	} else {
		checker = observability.NewHealthChecker(a.DB, nil, objects, version)
	}
	checker.AddProbe("jobs", false, func(ctx context.Context) error {
		_, err := a.Services.Jobs.CountByStatus(ctx, jobs.StatusPending)
		return err
	})
	return checker
}

// Close releases the database and Redis connections
func (a *App) Close() error {
	var firstErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			firstErr = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewObjectStore builds the configured backend wrapped with storage metrics
func NewObjectStore(ctx context.Context, cfg storage.Config, metrics *observability.Metrics) (storage.ObjectStore, error) {
	var store storage.ObjectStore
	switch cfg.Backend {
	case "filesystem":
		fs, err := storage.NewFileSystemStore(cfg.FilesystemRoot)
		if err != nil {
			return nil, err
		}
		fs.SetMinFreeBytes(cfg.FilesystemMinFree)
		store = fs
	case "s3":
		s3Store, err := s3.NewStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = s3Store
	case "minio":
		minioStore, err := minio.NewStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = minioStore
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
	return observability.InstrumentStore(store, cfg.Backend, metrics), nil
}

// ShareLinkRateLimit converts the per-minute share-link setting
func ShareLinkRateLimit(cfg config.ShareLinksConfig) *middleware.RateLimitConfig {
	limits := middleware.DefaultShareLinkRateLimitConfig()
	limits.RequestsPerWindow = cfg.RequestsPerMinute
	limits.BurstSize = cfg.Burst
	return limits
}

// NewJobLogger creates the logrus logger used by the job engine and the sweeper
func NewJobLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}
