package clipboard

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const (
	// DefaultTTL is how long a staged entry stays pasteable
	DefaultTTL = 24 * time.Hour

	// retentionGrace keeps expired entries around long enough for the sweep to see them
	retentionGrace = time.Hour
)

// Service stages copy and cut selections, one per user
type Service struct {
	store Store
	clock vfs.Clock
	ttl   time.Duration
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the wall clock
func WithClock(c vfs.Clock) Option {
	return func(s *Service) { s.clock = vfs.UTC(c) }
}

// WithTTL changes how long entries stay active
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService creates a clipboard service over store
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, clock: vfs.RealClock{}, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage replaces the user's entry with a new selection
func (s *Service) Stage(ctx context.Context, req StageRequest) (*Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(req.NodeIDs))
	ids := make([]int64, 0, len(req.NodeIDs))
	for _, id := range req.NodeIDs {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid node id %d", vfs.ErrInvalidArgument, id)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	now := s.clock.Now()
	entry := &Entry{
		UserID:         req.UserID,
		Operation:      req.Operation,
		NodeIDs:        ids,
		Source:         req.Source,
		SourceParentID: req.SourceParentID,
		Status:         StatusActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.store.Put(ctx, entry, s.ttl+retentionGrace); err != nil {
		return nil, fmt.Errorf("failed to stage clipboard entry: %w", err)
	}
	return entry, nil
}

// GetActive returns the user's entry if it can still be pasted.
// Absent, expired and consumed entries all yield vfs.ErrNotFound.
func (s *Service) GetActive(ctx context.Context, userID string) (*Entry, error) {
	entry, found, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load clipboard entry: %w", err)
	}
	if !found || !entry.IsActive(s.clock.Now()) {
		return nil, fmt.Errorf("%w: no active clipboard entry for %q", vfs.ErrNotFound, userID)
	}
	return entry, nil
}

// Clear removes the user's entry
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear clipboard entry: %w", err)
	}
	return nil
}

// MarkConsumed records that the user pasted their entry. A CUT entry stops
// being active; a COPY entry can be pasted again until it expires.
func (s *Service) MarkConsumed(ctx context.Context, userID string) (*Entry, error) {
	entry, err := s.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry.Operation != OperationCut {
		return entry, nil
	}

	now := s.clock.Now()
	entry.Status = StatusConsumed
	entry.ClosedAt = &now
	if err := s.store.Put(ctx, entry, 0); err != nil {
		return nil, fmt.Errorf("failed to mark clipboard entry consumed: %w", err)
	}
	return entry, nil
}

// ExpireDue marks active entries past their expiry as EXPIRED and drops
// closed entries once their grace period is over. It returns how many
// entries it marked expired. Reads never depend on it.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list clipboard entries: %w", err)
	}

	now := s.clock.Now()
	expired := 0
	for _, entry := range entries {
		switch {
		case entry.Status == StatusActive && !now.Before(entry.ExpiresAt):
			entry.Status = StatusExpired
			entry.ClosedAt = &now
			if err := s.store.Put(ctx, entry, 0); err != nil {
				return expired, fmt.Errorf("failed to expire clipboard entry of %q: %w", entry.UserID, err)
			}
			expired++
		case entry.Status != StatusActive && !now.Before(entry.ExpiresAt.Add(retentionGrace)):
			if err := s.store.Delete(ctx, entry.UserID); err != nil {
				return expired, fmt.Errorf("failed to drop clipboard entry of %q: %w", entry.UserID, err)
			}
		}
	}
	return expired, nil
}
