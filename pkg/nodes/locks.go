package nodes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// Locker serializes structural changes to one scope's tree
type Locker interface {
	// Lock blocks until key is held or ctx ends. The returned func releases it.
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker is an in-process keyed mutex
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedLock)}
}

// Lock implements Locker
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, fmt.Errorf("failed to lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// LockClient is the Redis surface needed for a distributed lock
type LockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) (bool, error)
}

// RedisLocker holds tree locks in Redis so several server processes can share one database
type RedisLocker struct {
	client LockClient
	ids    vfs.IDGenerator
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a distributed locker. ttl bounds how long a crashed holder can block others.
func NewRedisLocker(client LockClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client: client,
		ids:    vfs.UUIDGenerator{},
		ttl:    ttl,
		retry:  25 * time.Millisecond,
	}
}

// Lock implements Locker
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := "portalfs:lock:tree:" + key
	token := l.ids.New()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to lock %s: %w", key, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release even if the caller's context is already cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			l.client.Unlock(releaseCtx, redisKey, token)
		})
	}, nil
}
