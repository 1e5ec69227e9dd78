package permissions

import (
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// Level is an access rank. Higher levels imply every lower one.
type Level string

const (
	LevelNone  Level = "NONE"
	LevelRead  Level = "READ"
	LevelWrite Level = "WRITE"
	LevelAdmin Level = "ADMIN"
)

func (l Level) rank() int {
	switch l {
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	case LevelAdmin:
		return 3
	}
	return 0
}

// Satisfies reports whether l is at least required
func (l Level) Satisfies(required Level) bool {
	return l.rank() >= required.rank()
}

// Max returns the higher of two levels
func Max(a, b Level) Level {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// ParseLevel accepts level names in any case
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(s)); l {
	case LevelNone, LevelRead, LevelWrite, LevelAdmin:
		return l, nil
	}
	return "", fmt.Errorf("%w: unknown permission level %q", vfs.ErrInvalidArgument, s)
}

// Grant binds a user or a team to a node at a level
type Grant struct {
	ID          int64     `json:"id"`
	NodeID      int64     `json:"node_id"`
	UserID      *string   `json:"user_id,omitempty"`
	TeamID      *string   `json:"team_id,omitempty"`
	Level       Level     `json:"level"`
	Inheritable bool      `json:"inheritable"`
	GrantedBy   string    `json:"granted_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// appliesTo reports whether the grant's subject is the user or one of the teams
func (g *Grant) appliesTo(userID string, teams map[string]bool) bool {
	if g.UserID != nil {
		return *g.UserID == userID
	}
	return g.TeamID != nil && teams[*g.TeamID]
}

// GrantRequest creates or replaces the grant of one subject on a node
type GrantRequest struct {
	NodeID      int64  `json:"node_id"`
	UserID      string `json:"user_id,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	Level       Level  `json:"level"`
	Inheritable bool   `json:"inheritable"`
	Actor       string `json:"-"`
}

// Validate checks that exactly one subject is named and the level is grantable
func (r GrantRequest) Validate() error {
	if r.NodeID <= 0 {
		return fmt.Errorf("%w: node id must be positive", vfs.ErrInvalidArgument)
	}
	if (r.UserID == "") == (r.TeamID == "") {
		return fmt.Errorf("%w: exactly one of user_id and team_id is required", vfs.ErrInvalidArgument)
	}
	switch r.Level {
	case LevelRead, LevelWrite, LevelAdmin:
		return nil
	}
	return fmt.Errorf("%w: level %q cannot be granted", vfs.ErrInvalidArgument, r.Level)
}

// Team is a named group of users
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
