package tags

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const (
	tagColumns      = `id, name, description, color, created_by, created_at`
	favoriteColumns = `id, user_id, node_id, label, created_at`
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// Service manages tags, node tagging and favorites
type Service struct {
	db    *sql.DB
	clock vfs.Clock
}

// NewService creates a tag service. A nil clock uses the wall clock.
func NewService(db *sql.DB, clock vfs.Clock) *Service {
	if clock == nil {
		clock = vfs.RealClock{}
	}
	return &Service{db: db, clock: vfs.UTC(clock)}
}

func scanTag(row scanner) (*Tag, error) {
	var t Tag
	var description, color sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &description, &color, &t.CreatedBy, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Description = description.String
	t.Color = color.String
	return &t, nil
}

func scanFavorite(row scanner) (*Favorite, error) {
	var f Favorite
	var label sql.NullString
	if err := row.Scan(&f.ID, &f.UserID, &f.NodeID, &label, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Label = label.String
	return &f, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Service) queryTags(ctx context.Context, query string, args ...interface{}) ([]*Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var result []*Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}
	return result, nil
}

func (s *Service) queryFavorites(ctx context.Context, query string, args ...interface{}) ([]*Favorite, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query favorites: %w", err)
	}
	defer rows.Close()

	var result []*Favorite
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate favorites: %w", err)
	}
	return result, nil
}

// CreateTag adds a tag with a unique name
func (s *Service) CreateTag(ctx context.Context, req CreateTagRequest) (*Tag, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)

	_, err := s.GetTagByName(ctx, name)
	if err == nil {
		return nil, fmt.Errorf("%w: tag %q already exists", vfs.ErrConflict, name)
	}
	if !errors.Is(err, vfs.ErrNotFound) {
		return nil, err
	}

	t := &Tag{
		Name:        name,
		Description: req.Description,
		Color:       strings.ToLower(req.Color),
		CreatedBy:   req.Actor,
		CreatedAt:   s.clock.Now(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tags (name, description, color, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, t.Name, nullString(t.Description), nullString(t.Color), t.CreatedBy, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag: %w", err)
	}
	return t, nil
}

// GetTag returns a tag by id
func (s *Service) GetTag(ctx context.Context, id int64) (*Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: tag %d", vfs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return t, nil
}

// GetTagByName returns a tag by its exact name
func (s *Service) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags WHERE name = $1`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: tag %q", vfs.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return t, nil
}

// ListTags returns every tag ordered by name
func (s *Service) ListTags(ctx context.Context) ([]*Tag, error) {
	return s.queryTags(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY name ASC`)
}

// DeleteTag removes a tag and detaches it from every node
func (s *Service) DeleteTag(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_tags WHERE tag_id = $1`, id); err != nil {
		return fmt.Errorf("failed to detach tag: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: tag %d", vfs.ErrNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TagNode attaches a tag to a node. Tagging twice is a no-op.
func (s *Service) TagNode(ctx context.Context, nodeID, tagID int64, actor string) error {
	if _, err := s.GetTag(ctx, tagID); err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM node_tags WHERE node_id = $1 AND tag_id = $2`, nodeID, tagID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to check node tag: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO node_tags (node_id, tag_id, tagged_by, created_at) VALUES ($1, $2, $3, $4)`,
		nodeID, tagID, actor, s.clock.Now(),
	); err != nil {
		return fmt.Errorf("failed to tag node: %w", err)
	}
	return nil
}

// UntagNode detaches a tag from a node
func (s *Service) UntagNode(ctx context.Context, nodeID, tagID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM node_tags WHERE node_id = $1 AND tag_id = $2`, nodeID, tagID)
	if err != nil {
		return fmt.Errorf("failed to untag node: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: tag %d on node %d", vfs.ErrNotFound, tagID, nodeID)
	}
	return nil
}

// TagsForNode returns the tags attached to a node, ordered by name
func (s *Service) TagsForNode(ctx context.Context, nodeID int64) ([]*Tag, error) {
	return s.queryTags(ctx, `
		SELECT t.id, t.name, t.description, t.color, t.created_by, t.created_at
		FROM tags t
		JOIN node_tags nt ON nt.tag_id = t.id
		WHERE nt.node_id = $1
		ORDER BY t.name ASC
	`, nodeID)
}

// NodesWithTag returns the ids of nodes carrying a tag, in tagging order
func (s *Service) NodesWithTag(ctx context.Context, tagID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id FROM node_tags WHERE tag_id = $1 ORDER BY created_at ASC, node_id ASC`, tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tagged nodes: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tagged nodes: %w", err)
	}
	return ids, nil
}

func (s *Service) getFavorite(ctx context.Context, userID string, nodeID int64) (*Favorite, error) {
	f, err := scanFavorite(s.db.QueryRowContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorites WHERE user_id = $1 AND node_id = $2`, userID, nodeID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: favorite of node %d for %q", vfs.ErrNotFound, nodeID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get favorite: %w", err)
	}
	return f, nil
}

// AddFavorite marks a node as a favorite of userID. An existing favorite keeps
// its creation time and takes the new label.
func (s *Service) AddFavorite(ctx context.Context, userID string, nodeID int64, label string) (*Favorite, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", vfs.ErrInvalidArgument)
	}
	if err := validateLabel(label); err != nil {
		return nil, err
	}

	existing, err := s.getFavorite(ctx, userID, nodeID)
	if err == nil {
		if existing.Label == label {
			return existing, nil
		}
		return s.UpdateLabel(ctx, userID, nodeID, label)
	}
	if !errors.Is(err, vfs.ErrNotFound) {
		return nil, err
	}

	f := &Favorite{UserID: userID, NodeID: nodeID, Label: label, CreatedAt: s.clock.Now()}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO favorites (user_id, node_id, label, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, f.UserID, f.NodeID, nullString(f.Label), f.CreatedAt).Scan(&f.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to add favorite: %w", err)
	}
	return f, nil
}

// RemoveFavorite unmarks a node
func (s *Service) RemoveFavorite(ctx context.Context, userID string, nodeID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE user_id = $1 AND node_id = $2`, userID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: favorite of node %d for %q", vfs.ErrNotFound, nodeID, userID)
	}
	return nil
}

// ToggleFavorite adds the favorite when absent and removes it when present.
// It reports whether the node is a favorite afterwards.
func (s *Service) ToggleFavorite(ctx context.Context, userID string, nodeID int64) (bool, error) {
	favorite, err := s.IsFavorite(ctx, userID, nodeID)
	if err != nil {
		return false, err
	}
	if favorite {
		return false, s.RemoveFavorite(ctx, userID, nodeID)
	}
	if _, err := s.AddFavorite(ctx, userID, nodeID, ""); err != nil {
		return false, err
	}
	return true, nil
}

// IsFavorite reports whether userID marked the node
func (s *Service) IsFavorite(ctx context.Context, userID string, nodeID int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM favorites WHERE user_id = $1 AND node_id = $2`, userID, nodeID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return count > 0, nil
}

// UpdateLabel changes the label of an existing favorite
func (s *Service) UpdateLabel(ctx context.Context, userID string, nodeID int64, label string) (*Favorite, error) {
	if err := validateLabel(label); err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE favorites SET label = $1 WHERE user_id = $2 AND node_id = $3`,
		nullString(label), userID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to update favorite label: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: favorite of node %d for %q", vfs.ErrNotFound, nodeID, userID)
	}
	return s.getFavorite(ctx, userID, nodeID)
}

// ListFavorites returns a user's favorites, newest first
func (s *Service) ListFavorites(ctx context.Context, userID string) ([]*Favorite, error) {
	return s.queryFavorites(ctx,
		`SELECT `+favoriteColumns+` FROM favorites WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

// SearchFavorites returns a user's favorites whose label contains fragment, case-insensitively
func (s *Service) SearchFavorites(ctx context.Context, userID, fragment string) ([]*Favorite, error) {
	return s.queryFavorites(ctx, `
		SELECT `+favoriteColumns+` FROM favorites
		WHERE user_id = $1 AND label IS NOT NULL AND LOWER(label) LIKE LOWER($2)
		ORDER BY created_at DESC, id DESC
	`, userID, "%"+fragment+"%")
}

// CountFavoritesOfNode returns how many users marked the node
func (s *Service) CountFavoritesOfNode(ctx context.Context, nodeID int64) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM favorites WHERE node_id = $1`, nodeID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count favorites: %w", err)
	}
	return count, nil
}
