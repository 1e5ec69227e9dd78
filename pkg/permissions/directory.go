package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// TeamDirectory resolves a user to the teams they belong to
type TeamDirectory interface {
	TeamsForUser(ctx context.Context, userID string) ([]string, error)
}

// SQLDirectory reads memberships from the team_members table
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory over team_members
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// TeamsForUser returns the user's team ids, sorted
func (d *SQLDirectory) TeamsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT team_id FROM team_members WHERE user_id = $1 ORDER BY team_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams for user: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// CachedDirectory keeps recent lookups of another directory in an expiring LRU.
// Concurrent misses for the same user share one lookup.
type CachedDirectory struct {
	next   TeamDirectory
	cache  *lru.LRU[string, []string]
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedDirectory wraps next with a cache of size entries that expire after ttl
func NewCachedDirectory(next TeamDirectory, size int, ttl time.Duration) *CachedDirectory {
	if size < 1 {
		size = 1
	}
	return &CachedDirectory{
		next:  next,
		cache: lru.NewLRU[string, []string](size, nil, ttl),
	}
}

// TeamsForUser returns cached memberships or loads them from the wrapped directory
func (c *CachedDirectory) TeamsForUser(ctx context.Context, userID string) ([]string, error) {
	if teams, ok := c.cache.Get(userID); ok {
		c.hits.Add(1)
		return teams, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		teams, err := c.next.TeamsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.cache.Add(userID, teams)
		return teams, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Invalidate drops the cached memberships of a user
func (c *CachedDirectory) Invalidate(userID string) {
	c.cache.Remove(userID)
}

// Stats returns cache hit and miss counts
func (c *CachedDirectory) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
