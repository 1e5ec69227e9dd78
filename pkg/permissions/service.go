package permissions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const grantColumns = `id, node_id, user_id, team_id, level, inheritable, granted_by, created_at, updated_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// Service manages grants and team membership
type Service struct {
	db    *sql.DB
	clock vfs.Clock
	cache *CachedDirectory
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the wall clock
func WithClock(c vfs.Clock) Option {
	return func(s *Service) { s.clock = vfs.UTC(c) }
}

// WithDirectoryCache invalidates cached memberships when they change
func WithDirectoryCache(c *CachedDirectory) Option {
	return func(s *Service) { s.cache = c }
}

// NewService creates a permission service
func NewService(db *sql.DB, opts ...Option) *Service {
	s := &Service{db: db, clock: vfs.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func scanGrant(row scanner) (*Grant, error) {
	var g Grant
	var userID, teamID sql.NullString
	var level string

	err := row.Scan(&g.ID, &g.NodeID, &userID, &teamID, &level, &g.Inheritable, &g.GrantedBy, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Level = Level(level)
	if userID.Valid {
		g.UserID = &userID.String
	}
	if teamID.Valid {
		g.TeamID = &teamID.String
	}
	return &g, nil
}

func listGrants(ctx context.Context, q querier, nodeID int64) ([]*Grant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+grantColumns+` FROM permission_grants WHERE node_id = $1 ORDER BY id ASC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}
	return grants, nil
}

// Grant creates the grant of a subject on a node, or replaces its level and inheritability
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*Grant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	subjectColumn, subject := "user_id", req.UserID
	if req.TeamID != "" {
		subjectColumn, subject = "team_id", req.TeamID
	}

	existing, err := scanGrant(tx.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM permission_grants WHERE node_id = $1 AND `+subjectColumn+` = $2`,
		req.NodeID, subject))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	now := s.clock.Now()
	var g *Grant
	if existing != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE permission_grants SET level = $1, inheritable = $2, granted_by = $3, updated_at = $4 WHERE id = $5`,
			string(req.Level), req.Inheritable, req.Actor, now, existing.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to update grant: %w", err)
		}
		g = existing
		g.Level = req.Level
		g.Inheritable = req.Inheritable
		g.GrantedBy = req.Actor
		g.UpdatedAt = now
	} else {
		g = &Grant{
			NodeID:      req.NodeID,
			Level:       req.Level,
			Inheritable: req.Inheritable,
			GrantedBy:   req.Actor,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		var userID, teamID sql.NullString
		if req.UserID != "" {
			g.UserID = &req.UserID
			userID = sql.NullString{String: req.UserID, Valid: true}
		} else {
			g.TeamID = &req.TeamID
			teamID = sql.NullString{String: req.TeamID, Valid: true}
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO permission_grants (node_id, user_id, team_id, level, inheritable, granted_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, g.NodeID, userID, teamID, string(g.Level), g.Inheritable, g.GrantedBy, g.CreatedAt, g.UpdatedAt,
		).Scan(&g.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to create grant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return g, nil
}

// GetGrant returns a grant by id
func (s *Service) GetGrant(ctx context.Context, id int64) (*Grant, error) {
	g, err := scanGrant(s.db.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM permission_grants WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: grant %d", vfs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

// Revoke removes a grant by id
func (s *Service) Revoke(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM permission_grants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: grant %d", vfs.ErrNotFound, id)
	}
	return nil
}

// RevokeSubject removes the grant a user or team holds on a node
func (s *Service) RevokeSubject(ctx context.Context, nodeID int64, userID, teamID string) error {
	if (userID == "") == (teamID == "") {
		return fmt.Errorf("%w: exactly one of user_id and team_id is required", vfs.ErrInvalidArgument)
	}
	subjectColumn, subject := "user_id", userID
	if teamID != "" {
		subjectColumn, subject = "team_id", teamID
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM permission_grants WHERE node_id = $1 AND `+subjectColumn+` = $2`, nodeID, subject)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: no grant for %s %q on node %d", vfs.ErrNotFound, subjectColumn, subject, nodeID)
	}
	return nil
}

// ListGrants returns every grant placed directly on a node
func (s *Service) ListGrants(ctx context.Context, nodeID int64) ([]*Grant, error) {
	return listGrants(ctx, s.db, nodeID)
}

// CreateTeam registers a team
func (s *Service) CreateTeam(ctx context.Context, id, name string) (*Team, error) {
	if id == "" || name == "" {
		return nil, fmt.Errorf("%w: team id and name are required", vfs.ErrInvalidArgument)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM teams WHERE id = $1`, id).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to check team: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: team %q already exists", vfs.ErrConflict, id)
	}

	team := &Team{ID: id, Name: name, CreatedAt: s.clock.Now()}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, created_at) VALUES ($1, $2, $3)`, team.ID, team.Name, team.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create team: %w", err)
	}
	return team, nil
}

// GetTeam returns a team by id
func (s *Service) GetTeam(ctx context.Context, id string) (*Team, error) {
	var team Team
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM teams WHERE id = $1`, id,
	).Scan(&team.ID, &team.Name, &team.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: team %q", vfs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return &team, nil
}

// AddMember adds a user to a team. Adding an existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, teamID, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", vfs.ErrInvalidArgument)
	}
	if _, err := s.GetTeam(ctx, teamID); err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO team_members (team_id, user_id, added_at) VALUES ($1, $2, $3)`,
			teamID, userID, s.clock.Now(),
		); err != nil {
			return fmt.Errorf("failed to add team member: %w", err)
		}
	}

	s.invalidate(userID)
	return nil
}

// RemoveMember removes a user from a team
func (s *Service) RemoveMember(ctx context.Context, teamID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: user %q is not a member of team %q", vfs.ErrNotFound, userID, teamID)
	}

	s.invalidate(userID)
	return nil
}

// ListMembers returns the user ids of a team, sorted
func (s *Service) ListMembers(ctx context.Context, teamID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM team_members WHERE team_id = $1 ORDER BY user_id ASC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query team members: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *Service) invalidate(userID string) {
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}
