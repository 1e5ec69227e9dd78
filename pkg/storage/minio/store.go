// Package minio implements storage.ObjectStore with the MinIO client.
package minio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/portalfs/pkg/storage"
)

const checksumMetadataKey = "Checksum-Sha256"

var tracer = otel.Tracer("github.com/platinummonkey/portalfs/pkg/storage/minio")

// Store wraps MinIO operations with tracing
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore connects to MinIO and creates the bucket when missing
func NewStore(ctx context.Context, cfg storage.Config) (*Store, error) {
	host, secure, err := endpointHost(cfg.S3Endpoint, cfg.S3UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: secure,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{Region: cfg.S3Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Store{client: client, bucket: cfg.S3Bucket}, nil
}

// Put uploads content with its sha256 as user metadata
func (s *Store) Put(ctx context.Context, key string, content io.Reader, contentType string) (storage.ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "minio.put_object",
		trace.WithAttributes(attribute.String("object_key", key)),
	)
	defer span.End()

	data, err := io.ReadAll(content)
	if err != nil {
		return storage.ObjectInfo{}, spanError(span, fmt.Errorf("failed to read content: %w", err))
	}
	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{checksumMetadataKey: checksum},
	})
	if err != nil {
		return storage.ObjectInfo{}, spanError(span, fmt.Errorf("failed to upload object: %w", err))
	}

	span.SetAttributes(attribute.Int("size_bytes", len(data)))
	span.SetStatus(codes.Ok, "object uploaded")
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), Checksum: checksum}, nil
}

// Get opens an object. A missing key is reported up front rather than on first read.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "minio.get_object",
		trace.WithAttributes(attribute.String("object_key", key)),
	)
	defer span.End()

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to get object: %w", err))
	}
	if _, err := object.Stat(); err != nil {
		object.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
		}
		return nil, spanError(span, fmt.Errorf("failed to stat object: %w", err))
	}
	return object, nil
}

// Delete removes an object
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "minio.remove_object",
		trace.WithAttributes(attribute.String("object_key", key)),
	)
	defer span.End()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return spanError(span, fmt.Errorf("failed to delete object: %w", err))
	}
	return nil
}

// Copy duplicates an object server side, keeping its metadata
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) (storage.ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "minio.copy_object",
		trace.WithAttributes(
			attribute.String("source_key", srcKey),
			attribute.String("object_key", dstKey),
		),
	)
	defer span.End()

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey},
	)
	if err != nil {
		if isNotFound(err) {
			return storage.ObjectInfo{}, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, srcKey)
		}
		return storage.ObjectInfo{}, spanError(span, fmt.Errorf("failed to copy object: %w", err))
	}

	stat, err := s.client.StatObject(ctx, s.bucket, dstKey, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, spanError(span, fmt.Errorf("failed to stat copied object: %w", err))
	}
	return storage.ObjectInfo{
		Key:      dstKey,
		Size:     stat.Size,
		Checksum: metadataValue(stat.UserMetadata, checksumMetadataKey),
	}, nil
}

// Exists reports whether key is present
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// PresignGet returns a time-limited download URL
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign object: %w", err)
	}
	return u.String(), nil
}

// HealthCheck verifies the bucket is reachable
func (s *Store) HealthCheck(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("minio health check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("minio health check failed: bucket %s missing", s.bucket)
	}
	return nil
}

// endpointHost accepts either host:port or a URL and returns the host plus whether TLS is used
func endpointHost(endpoint string, useSSL bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("minio endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid minio endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid minio endpoint: %q", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

// metadataValue looks up user metadata regardless of header canonicalization
func metadataValue(meta map[string]string, key string) string {
	for k, v := range meta {
		if strings.EqualFold(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"), key) {
			return v
		}
	}
	return ""
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
