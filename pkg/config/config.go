package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/portalfs/pkg/observability"
	"github.com/platinummonkey/portalfs/pkg/storage"
)

// FileEnvVar names the optional YAML config file
const FileEnvVar = "PORTALFS_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Clipboard     ClipboardConfig     `yaml:"clipboard"`
	ShareLinks    ShareLinksConfig    `yaml:"share_links"`
	Permissions   PermissionsConfig   `yaml:"permissions"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`

	// AllowedOrigins enables CORS for portal frontends served elsewhere; "*" allows any
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// JobsConfig holds bulk job engine settings
type JobsConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	Retention    time.Duration `yaml:"retention"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	ArchiveTTL   time.Duration `yaml:"archive_url_ttl"`

	// Empty AMQPURL keeps dispatch in process
	AMQPURL      string `yaml:"amqp_url"`
	AMQPQueue    string `yaml:"amqp_queue"`
	AMQPPrefetch int    `yaml:"amqp_prefetch"`
}

// MaintenanceConfig holds the sweeper's schedules and retention
type MaintenanceConfig struct {
	ClipboardSchedule string `yaml:"clipboard_schedule"`
	ShareLinkSchedule string `yaml:"share_link_schedule"`
	JobSchedule       string `yaml:"job_schedule"`
	VersionSchedule   string `yaml:"version_schedule"`

	// KeepVersions is how many versions of each file survive pruning
	KeepVersions int `yaml:"keep_versions"`
}

// ClipboardConfig holds clipboard settings
type ClipboardConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ShareLinksConfig holds public share-link settings
type ShareLinksConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// PermissionsConfig holds team directory cache settings
type PermissionsConfig struct {
	TeamCacheSize int           `yaml:"team_cache_size"`
	TeamCacheTTL  time.Duration `yaml:"team_cache_ttl"`
}

// AuthConfig holds caller identity settings
type AuthConfig struct {
	UserHeader      string `yaml:"user_header"`
	OIDCIssuerURL   string `yaml:"oidc_issuer_url"`
	OIDCClientID    string `yaml:"oidc_client_id"`
	OIDCGroupsClaim string `yaml:"oidc_groups_claim"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  512 << 20,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Jobs: JobsConfig{
			Workers:      4,
			QueueSize:    100,
			PollInterval: 30 * time.Second,
			JobTimeout:   30 * time.Minute,
			Retention:    30 * 24 * time.Hour,
			StaleAfter:   2 * time.Hour,
			ArchiveTTL:   time.Hour,
			AMQPQueue:    "portalfs.jobs",
			AMQPPrefetch: 4,
		},
		Clipboard: ClipboardConfig{TTL: 24 * time.Hour},
		ShareLinks: ShareLinksConfig{
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Permissions: PermissionsConfig{
			TeamCacheSize: 10000,
			TeamCacheTTL:  5 * time.Minute,
		},
		Auth: AuthConfig{
			UserHeader:      "X-User-ID",
			OIDCGroupsClaim: "groups",
		},
		Maintenance: MaintenanceConfig{
			ClipboardSchedule: "*/15 * * * *",
			ShareLinkSchedule: "0 * * * *",
			JobSchedule:       "30 * * * *",
			VersionSchedule:   "15 3 * * *",
			KeepVersions:      10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "portalfs",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load reads path (optional), applies environment overrides and validates
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server = loadServerConfig(cfg.Server)
	cfg.Storage = loadStorageConfig(cfg.Storage)
	cfg.Jobs = loadJobsConfig(cfg.Jobs)
	cfg.Clipboard.TTL = getEnvDuration("PORTALFS_CLIPBOARD_TTL", cfg.Clipboard.TTL)
	cfg.ShareLinks.RequestsPerMinute = getEnvInt("PORTALFS_SHARE_LINK_RATE", cfg.ShareLinks.RequestsPerMinute)
	cfg.ShareLinks.Burst = getEnvInt("PORTALFS_SHARE_LINK_BURST", cfg.ShareLinks.Burst)
	cfg.Permissions.TeamCacheSize = getEnvInt("PORTALFS_TEAM_CACHE_SIZE", cfg.Permissions.TeamCacheSize)
	cfg.Permissions.TeamCacheTTL = getEnvDuration("PORTALFS_TEAM_CACHE_TTL", cfg.Permissions.TeamCacheTTL)
	cfg.Auth = loadAuthConfig(cfg.Auth)
	cfg.Observability = loadObservabilityConfig(cfg.Observability)
	cfg.Maintenance.KeepVersions = getEnvInt("PORTALFS_KEEP_VERSIONS", cfg.Maintenance.KeepVersions)
}

// loadServerConfig overlays server configuration from environment
func loadServerConfig(base ServerConfig) ServerConfig {
	return ServerConfig{
		Host:            getEnv("PORTALFS_HOST", base.Host),
		Port:            getEnv("PORTALFS_PORT", base.Port),
		ReadTimeout:     getEnvDuration("PORTALFS_READ_TIMEOUT", base.ReadTimeout),
		WriteTimeout:    getEnvDuration("PORTALFS_WRITE_TIMEOUT", base.WriteTimeout),
		IdleTimeout:     getEnvDuration("PORTALFS_IDLE_TIMEOUT", base.IdleTimeout),
		ShutdownTimeout: getEnvDuration("PORTALFS_SHUTDOWN_TIMEOUT", base.ShutdownTimeout),
		MaxUploadBytes:  getEnvInt64("PORTALFS_MAX_UPLOAD_BYTES", base.MaxUploadBytes),
		HealthPort:      getEnv("PORTALFS_HEALTH_PORT", base.HealthPort),
		AllowedOrigins:  getEnvList("PORTALFS_ALLOWED_ORIGINS", base.AllowedOrigins),
	}
}

// loadStorageConfig overlays storage configuration from environment
func loadStorageConfig(cfg storage.Config) storage.Config {
	cfg.Backend = getEnv("PORTALFS_STORAGE_BACKEND", cfg.Backend)

	// Filesystem config
	cfg.FilesystemRoot = getEnv("PORTALFS_FILESYSTEM_ROOT", cfg.FilesystemRoot)
	if minFree := getEnvInt64("PORTALFS_FILESYSTEM_MIN_FREE", -1); minFree >= 0 {
		cfg.FilesystemMinFree = uint64(minFree)
	}

	// PostgreSQL config
	cfg.PostgresURL = getEnv("PORTALFS_POSTGRES_URL", cfg.PostgresURL)
	if maxConns := getEnvInt("PORTALFS_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("PORTALFS_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("PORTALFS_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// S3 / MinIO config
	cfg.S3Endpoint = getEnv("PORTALFS_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("PORTALFS_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("PORTALFS_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("PORTALFS_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("PORTALFS_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("PORTALFS_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	cfg.S3UseSSL = getEnvBool("PORTALFS_S3_USE_SSL", cfg.S3UseSSL)

	// Redis config
	cfg.RedisURL = getEnv("PORTALFS_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("PORTALFS_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("PORTALFS_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("PORTALFS_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("PORTALFS_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

func loadJobsConfig(base JobsConfig) JobsConfig {
	return JobsConfig{
		Workers:      getEnvInt("PORTALFS_JOB_WORKERS", base.Workers),
		QueueSize:    getEnvInt("PORTALFS_JOB_QUEUE_SIZE", base.QueueSize),
		PollInterval: getEnvDuration("PORTALFS_JOB_POLL_INTERVAL", base.PollInterval),
		JobTimeout:   getEnvDuration("PORTALFS_JOB_TIMEOUT", base.JobTimeout),
		Retention:    getEnvDuration("PORTALFS_JOB_RETENTION", base.Retention),
		StaleAfter:   getEnvDuration("PORTALFS_JOB_STALE_AFTER", base.StaleAfter),
		ArchiveTTL:   getEnvDuration("PORTALFS_ARCHIVE_URL_TTL", base.ArchiveTTL),
		AMQPURL:      getEnv("PORTALFS_AMQP_URL", base.AMQPURL),
		AMQPQueue:    getEnv("PORTALFS_AMQP_QUEUE", base.AMQPQueue),
		AMQPPrefetch: getEnvInt("PORTALFS_AMQP_PREFETCH", base.AMQPPrefetch),
	}
}

func loadAuthConfig(base AuthConfig) AuthConfig {
	return AuthConfig{
		UserHeader:      getEnv("PORTALFS_USER_HEADER", base.UserHeader),
		OIDCIssuerURL:   getEnv("PORTALFS_OIDC_ISSUER_URL", base.OIDCIssuerURL),
		OIDCClientID:    getEnv("PORTALFS_OIDC_CLIENT_ID", base.OIDCClientID),
		OIDCGroupsClaim: getEnv("PORTALFS_OIDC_GROUPS_CLAIM", base.OIDCGroupsClaim),
	}
}

// loadObservabilityConfig overlays observability configuration from environment
func loadObservabilityConfig(base ObservabilityConfig) ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("PORTALFS_LOG_LEVEL", base.LogLevel),
		MetricsEnabled:     getEnvBool("PORTALFS_METRICS_ENABLED", base.MetricsEnabled),
		OTelEnabled:        getEnvBool("PORTALFS_OTEL_ENABLED", base.OTelEnabled),
		OTelEndpoint:       getEnv("PORTALFS_OTEL_ENDPOINT", base.OTelEndpoint),
		OTelServiceName:    getEnv("PORTALFS_OTEL_SERVICE_NAME", base.OTelServiceName),
		OTelServiceVersion: getEnv("PORTALFS_OTEL_SERVICE_VERSION", base.OTelServiceVersion),
		OTelInsecure:       getEnvBool("PORTALFS_OTEL_INSECURE", base.OTelInsecure),
		OTelSampleRatio:    getEnvFloat("PORTALFS_OTEL_SAMPLE_RATIO", base.OTelSampleRatio),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on backend
	switch c.Storage.Backend {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "s3", "minio":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("bucket is required for %s storage", c.Storage.Backend)
		}
		if c.Storage.Backend == "minio" && c.Storage.S3Endpoint == "" {
			return fmt.Errorf("endpoint is required for minio storage")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be filesystem, s3, or minio)", c.Storage.Backend)
	}

	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("job workers must be positive")
	}
	if c.Jobs.QueueSize <= 0 {
		return fmt.Errorf("job queue size must be positive")
	}
	if c.Jobs.PollInterval <= 0 || c.Jobs.JobTimeout <= 0 {
		return fmt.Errorf("job poll interval and timeout must be positive")
	}
	if c.Jobs.AMQPURL != "" && c.Jobs.AMQPQueue == "" {
		return fmt.Errorf("AMQP queue name is required when AMQP dispatch is enabled")
	}

	if c.Clipboard.TTL <= 0 {
		return fmt.Errorf("clipboard TTL must be positive")
	}
	if c.ShareLinks.RequestsPerMinute <= 0 {
		return fmt.Errorf("share link rate limit must be positive")
	}
	if c.Maintenance.KeepVersions < 1 {
		return fmt.Errorf("at least one file version must be kept")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList reads a comma separated list
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
