package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
)

// FileSystemStore implements ObjectStore on a local directory
type FileSystemStore struct {
	rootDir      string
	minFreeBytes uint64
}

// NewFileSystemStore creates a filesystem-backed object store rooted at rootDir
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{rootDir: rootDir}, nil
}

// SetMinFreeBytes makes HealthCheck fail once free space under the root drops below n. Zero disables the check.
func (s *FileSystemStore) SetMinFreeBytes(n uint64) {
	s.minFreeBytes = n
}

// DiskUsage reports usage of the filesystem holding the root directory
func (s *FileSystemStore) DiskUsage(ctx context.Context) (*disk.UsageStat, error) {
	usage, err := disk.UsageWithContext(ctx, s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage: %w", err)
	}
	return usage, nil
}

// Put implements ObjectStore.Put. Content is written to a temp file and renamed into place.
func (s *FileSystemStore) Put(ctx context.Context, key string, content io.Reader, contentType string) (ObjectInfo, error) {
	path, err := s.path(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), contextReader{ctx: ctx, r: content})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to write object: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to store object: %w", err)
	}

	return ObjectInfo{Key: key, Size: size, Checksum: hex.EncodeToString(hash.Sum(nil))}, nil
}

// Get implements ObjectStore.Get
func (s *FileSystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// Delete implements ObjectStore.Delete
func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Copy implements ObjectStore.Copy
func (s *FileSystemStore) Copy(ctx context.Context, srcKey, dstKey string) (ObjectInfo, error) {
	src, err := s.Get(ctx, srcKey)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer src.Close()
	return s.Put(ctx, dstKey, src, "")
}

// Exists implements ObjectStore.Exists
func (s *FileSystemStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// HealthCheck verifies the root directory is reachable and, when configured, that enough disk is free
func (s *FileSystemStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.rootDir); err != nil {
		return fmt.Errorf("filesystem health check failed: %w", err)
	}
	if s.minFreeBytes == 0 {
		return nil
	}
	usage, err := s.DiskUsage(ctx)
	if err != nil {
		return fmt.Errorf("filesystem health check failed: %w", err)
	}
	if usage.Free < s.minFreeBytes {
		return fmt.Errorf("filesystem health check failed: %d bytes free, need %d", usage.Free, s.minFreeBytes)
	}
	return nil
}

// path maps a key to a file below rootDir, rejecting keys that would escape it
func (s *FileSystemStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(clean)), nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
