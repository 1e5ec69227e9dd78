package clipboard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// Store keeps at most one entry per user
type Store interface {
	// Put replaces the user's entry. The store may drop it after ttl; a zero ttl keeps the current deadline.
	Put(ctx context.Context, entry *Entry, ttl time.Duration) error

	// Get returns the user's entry, or false when there is none
	Get(ctx context.Context, userID string) (*Entry, bool, error)

	// Delete removes the user's entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, userID string) error

	// List returns every stored entry
	List(ctx context.Context) ([]*Entry, error)
}

// KeyValue is the subset of the Redis client the Redis store needs
type KeyValue interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

const keyPrefix = "clipboard:"

// RedisStore keeps entries under clipboard:<userID>
type RedisStore struct {
	kv KeyValue
}

// NewRedisStore creates a store over a Redis client
func NewRedisStore(kv KeyValue) *RedisStore {
	return &RedisStore{kv: kv}
}

func (s *RedisStore) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	return s.kv.SetJSON(ctx, keyPrefix+entry.UserID, entry, ttl)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*Entry, bool, error) {
	var entry Entry
	found, err := s.kv.GetJSON(ctx, keyPrefix+userID, &entry)
	if err != nil || !found {
		return nil, false, err
	}
	return &entry, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, keyPrefix+userID)
}

func (s *RedisStore) List(ctx context.Context) ([]*Entry, error) {
	keys, err := s.kv.ScanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		entry, found, err := s.Get(ctx, strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			return nil, err
		}
		// the key may have expired between scan and get
		if found {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

type memoryItem struct {
	entry    *Entry
	deadline time.Time
}

// MemoryStore keeps entries in process. It is used when Redis is not configured.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	clock vfs.Clock
}

// NewMemoryStore creates an in-process store. A nil clock uses the wall clock.
func NewMemoryStore(clock vfs.Clock) *MemoryStore {
	if clock == nil {
		clock = vfs.RealClock{}
	}
	return &MemoryStore{items: make(map[string]memoryItem), clock: clock}
}

func (s *MemoryStore) Put(ctx context.Context, entry *Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := memoryItem{entry: entry.clone()}
	switch existing, ok := s.items[entry.UserID]; {
	case ttl > 0:
		item.deadline = s.clock.Now().Add(ttl)
	case ok:
		item.deadline = existing.deadline
	}
	s.items[entry.UserID] = item
	return nil
}

// live returns the item for userID, dropping it once past its deadline. Callers hold mu.
func (s *MemoryStore) live(userID string) (memoryItem, bool) {
	item, ok := s.items[userID]
	if !ok {
		return memoryItem{}, false
	}
	if !item.deadline.IsZero() && !s.clock.Now().Before(item.deadline) {
		delete(s.items, userID)
		return memoryItem{}, false
	}
	return item, true
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.live(userID)
	if !ok {
		return nil, false, nil
	}
	return item.entry.clone(), true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, userID)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*Entry, 0, len(s.items))
	for userID := range s.items {
		if item, ok := s.live(userID); ok {
			entries = append(entries, item.entry.clone())
		}
	}
	return entries, nil
}
