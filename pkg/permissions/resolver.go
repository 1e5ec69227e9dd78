package permissions

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// AncestorSource returns a node followed by its parents up to the root
type AncestorSource interface {
	AncestorIDs(ctx context.Context, nodeID int64) ([]int64, error)
}

// GrantSource returns the grants placed directly on a node
type GrantSource interface {
	ListGrants(ctx context.Context, nodeID int64) ([]*Grant, error)
}

// Resolver computes effective permissions from grants and the ancestor chain
type Resolver struct {
	grants    GrantSource
	ancestors AncestorSource
	teams     TeamDirectory
}

// NewResolver creates a resolver
func NewResolver(grants GrantSource, ancestors AncestorSource, teams TeamDirectory) *Resolver {
	return &Resolver{grants: grants, ancestors: ancestors, teams: teams}
}

// EffectivePermission returns the level userID holds on nodeID, directly or through teamIDs
func (r *Resolver) EffectivePermission(ctx context.Context, nodeID int64, userID string, teamIDs []string) (Level, error) {
	return r.Session(userID, teamIDs).Effective(ctx, nodeID)
}

// ForUser returns a session for userID with teams looked up in the directory
func (r *Resolver) ForUser(ctx context.Context, userID string) (*Session, error) {
	var teams []string
	if r.teams != nil {
		var err error
		teams, err = r.teams.TeamsForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve teams of %q: %w", userID, err)
		}
	}
	return r.Session(userID, teams), nil
}

// Require fails with vfs.ErrPermissionDenied when userID holds less than required on nodeID
func (r *Resolver) Require(ctx context.Context, nodeID int64, userID string, required Level) error {
	session, err := r.ForUser(ctx, userID)
	if err != nil {
		return err
	}
	return session.Require(ctx, nodeID, required)
}

// Session starts a memoizing evaluation for one caller. Sessions are meant to
// live for a single request so that revoked grants are seen on the next one.
func (r *Resolver) Session(userID string, teamIDs []string) *Session {
	teams := make(map[string]bool, len(teamIDs))
	for _, t := range teamIDs {
		teams[t] = true
	}
	return &Session{
		resolver:  r,
		userID:    userID,
		teams:     teams,
		chains:    make(map[int64][]int64),
		nodeGrant: make(map[int64][]*Grant),
	}
}

// Session caches ancestor chains and per-node grants for one caller
type Session struct {
	resolver *Resolver
	userID   string
	teams    map[string]bool

	mu        sync.Mutex
	chains    map[int64][]int64
	nodeGrant map[int64][]*Grant
}

// UserID returns the caller this session evaluates for
func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) chain(ctx context.Context, nodeID int64) ([]int64, error) {
	s.mu.Lock()
	chain, ok := s.chains[nodeID]
	s.mu.Unlock()
	if ok {
		return chain, nil
	}

	chain, err := s.resolver.ancestors.AncestorIDs(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// every suffix of a chain is the chain of its first element
	for i := range chain {
		s.chains[chain[i]] = chain[i:]
	}
	s.mu.Unlock()
	return chain, nil
}

// applicable returns the caller's grants placed directly on nodeID
func (s *Session) applicable(ctx context.Context, nodeID int64) ([]*Grant, error) {
	s.mu.Lock()
	grants, ok := s.nodeGrant[nodeID]
	s.mu.Unlock()
	if ok {
		return grants, nil
	}

	all, err := s.resolver.grants.ListGrants(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	grants = make([]*Grant, 0, len(all))
	for _, g := range all {
		if g.appliesTo(s.userID, s.teams) {
			grants = append(grants, g)
		}
	}

	s.mu.Lock()
	s.nodeGrant[nodeID] = grants
	s.mu.Unlock()
	return grants, nil
}

// Effective returns the caller's level on nodeID.
//
// Grants on the node itself count whether or not they are inheritable. Above
// the node only inheritable grants count, and the nearest ancestor holding
// one decides. At any level the highest of the user's and teams' grants wins.
func (s *Session) Effective(ctx context.Context, nodeID int64) (Level, error) {
	chain, err := s.chain(ctx, nodeID)
	if err != nil {
		return LevelNone, err
	}

	for depth, id := range chain {
		grants, err := s.applicable(ctx, id)
		if err != nil {
			return LevelNone, err
		}

		found := false
		best := LevelNone
		for _, g := range grants {
			if depth > 0 && !g.Inheritable {
				continue
			}
			found = true
			best = Max(best, g.Level)
		}
		if found {
			return best, nil
		}
	}
	return LevelNone, nil
}

// Require fails with vfs.ErrPermissionDenied when the caller holds less than required
func (s *Session) Require(ctx context.Context, nodeID int64, required Level) error {
	level, err := s.Effective(ctx, nodeID)
	if err != nil {
		return err
	}
	if !level.Satisfies(required) {
		return fmt.Errorf("%w: %s on node %d requires %s, has %s", vfs.ErrPermissionDenied, s.userID, nodeID, required, level)
	}
	return nil
}
