package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by Get and Copy when the key does not exist
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"` // sha256, hex encoded
}

// ObjectStore is the byte store behind file nodes. Keys are opaque to callers.
type ObjectStore interface {
	// Put stores content under key and reports its size and checksum
	Put(ctx context.Context, key string, content io.Reader, contentType string) (ObjectInfo, error)

	// Get opens the object for reading. Callers must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Copy duplicates srcKey to dstKey without routing bytes through the caller when the backend allows it
	Copy(ctx context.Context, srcKey, dstKey string) (ObjectInfo, error)

	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)
}

// URLSigner is implemented by backends that can hand out time-limited download URLs
type URLSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// HealthChecker is implemented by backends that can verify connectivity
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config for the metadata database, object backend and Redis
type Config struct {
	// Object backend: "filesystem", "s3" or "minio"
	Backend string `yaml:"backend"`

	// Filesystem config
	FilesystemRoot    string `yaml:"filesystem_root"`
	FilesystemMinFree uint64 `yaml:"filesystem_min_free"` // bytes; zero disables the readiness floor

	// PostgreSQL config
	PostgresURL      string        `yaml:"postgres_url"`
	PostgresMaxConns int           `yaml:"postgres_max_conns"`
	PostgresMinConns int           `yaml:"postgres_min_conns"`
	PostgresTimeout  time.Duration `yaml:"postgres_timeout"`

	// S3 / MinIO config
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
	S3UseSSL       bool   `yaml:"s3_use_ssl"`

	// Redis config. Empty URL disables Redis-backed components.
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Backend:          "filesystem",
		FilesystemRoot:   "/tmp/portalfs",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		S3Region:         "us-east-1",
		S3Bucket:         "portalfs",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}
