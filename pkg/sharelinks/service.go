package sharelinks

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const (
	tokenBytes       = 32
	maxTokenAttempts = 3

	linkColumns = `id, token, node_id, created_by, created_at, expires_at, password_hash, max_downloads,
	download_count, is_active, allow_download, allow_preview, deactivated_at, last_accessed_at`
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// NodeSource looks up the active node a link points at
type NodeSource interface {
	Get(ctx context.Context, id int64) (*nodes.Node, error)
}

// Service issues and resolves share links
type Service struct {
	db       *sql.DB
	nodes    NodeSource
	clock    vfs.Clock
	newToken func() (string, error)
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the wall clock
func WithClock(c vfs.Clock) Option {
	return func(s *Service) { s.clock = vfs.UTC(c) }
}

// NewService creates a share link service
func NewService(db *sql.DB, nodeSource NodeSource, opts ...Option) *Service {
	s := &Service{db: db, nodes: nodeSource, clock: vfs.RealClock{}, newToken: randomToken}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// randomToken returns 32 bytes from the system CSPRNG, hex encoded
func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func scanLink(row scanner) (*Link, error) {
	var l Link
	var expiresAt, deactivatedAt, lastAccessedAt sql.NullTime
	var passwordHash sql.NullString
	var maxDownloads sql.NullInt64

	err := row.Scan(
		&l.ID,
		&l.Token,
		&l.NodeID,
		&l.CreatedBy,
		&l.CreatedAt,
		&expiresAt,
		&passwordHash,
		&maxDownloads,
		&l.DownloadCount,
		&l.IsActive,
		&l.AllowDownload,
		&l.AllowPreview,
		&deactivatedAt,
		&lastAccessedAt,
	)
	if err != nil {
		return nil, err
	}

	l.ExpiresAt = timePtr(expiresAt)
	l.DeactivatedAt = timePtr(deactivatedAt)
	l.LastAccessedAt = timePtr(lastAccessedAt)
	l.PasswordHash = passwordHash.String
	if maxDownloads.Valid {
		v := int(maxDownloads.Int64)
		l.MaxDownloads = &v
	}
	return &l, nil
}

func (s *Service) queryLinks(ctx context.Context, query string, args ...interface{}) ([]*Link, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query share links: %w", err)
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate share links: %w", err)
	}
	return links, nil
}

// Issue creates a link to nodeID
func (s *Service) Issue(ctx context.Context, nodeID int64, creatorID string, opts Options) (*Link, error) {
	if creatorID == "" {
		return nil, fmt.Errorf("%w: creator is required", vfs.ErrInvalidArgument)
	}
	now := s.clock.Now()
	if err := validateLimits(opts.ExpiresAt, opts.MaxDownloads, now); err != nil {
		return nil, err
	}
	if _, err := s.nodes.Get(ctx, nodeID); err != nil {
		return nil, err
	}

	link := &Link{
		NodeID:        nodeID,
		CreatedBy:     creatorID,
		CreatedAt:     now,
		ExpiresAt:     opts.ExpiresAt,
		PasswordHash:  opts.PasswordHash,
		MaxDownloads:  opts.MaxDownloads,
		IsActive:      true,
		AllowDownload: opts.AllowDownload == nil || *opts.AllowDownload,
		AllowPreview:  opts.AllowPreview == nil || *opts.AllowPreview,
	}

	for attempt := 0; ; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, err
		}
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM share_links WHERE token = $1`, token).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to check token: %w", err)
		}
		if count == 0 {
			link.Token = token
			break
		}
		if attempt+1 >= maxTokenAttempts {
			return nil, fmt.Errorf("failed to generate a unique token after %d attempts", maxTokenAttempts)
		}
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO share_links (token, node_id, created_by, created_at, expires_at, password_hash, max_downloads,
			download_count, is_active, allow_download, allow_preview)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		link.Token,
		link.NodeID,
		link.CreatedBy,
		link.CreatedAt,
		nullTime(link.ExpiresAt),
		sql.NullString{String: link.PasswordHash, Valid: link.PasswordHash != ""},
		nullInt(link.MaxDownloads),
		0,
		true,
		link.AllowDownload,
		link.AllowPreview,
	).Scan(&link.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create share link: %w", err)
	}
	return link, nil
}

// Get returns a link by token regardless of its state
func (s *Service) Get(ctx context.Context, token string) (*Link, error) {
	l, err := scanLink(s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM share_links WHERE token = $1`, token))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: share link", vfs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share link: %w", err)
	}
	return l, nil
}

// checkAccessible returns the error matching the first accessibility predicate the link fails
func checkAccessible(l *Link, now time.Time) error {
	switch {
	case !l.IsActive:
		return fmt.Errorf("%w: share link is deactivated", vfs.ErrInvalidState)
	case l.IsExpired(now):
		return fmt.Errorf("%w: share link expired at %s", vfs.ErrExpired, l.ExpiresAt.Format(time.RFC3339))
	case l.AtLimit():
		return fmt.Errorf("%w: share link reached its %d downloads", vfs.ErrLimitExceeded, *l.MaxDownloads)
	}
	return nil
}

// Resolve returns the node behind token when the link is accessible.
// Accessibility is evaluated on every call. When the link carries a password
// the caller must have verified it and pass passwordVerified.
func (s *Service) Resolve(ctx context.Context, token string, passwordVerified bool) (*Access, error) {
	link, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := checkAccessible(link, now); err != nil {
		return nil, err
	}
	if link.RequiresPassword() && !passwordVerified {
		return nil, fmt.Errorf("%w: share link requires a password", vfs.ErrPermissionDenied)
	}

	node, err := s.nodes.Get(ctx, link.NodeID)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE share_links SET last_accessed_at = $1 WHERE id = $2`, now, link.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to record share link access: %w", err)
	}
	link.LastAccessedAt = &now

	return &Access{
		Link:        link,
		Node:        node,
		CanDownload: link.AllowDownload,
		CanPreview:  link.AllowPreview,
	}, nil
}

// RecordDownload counts one download. The increment is a single conditional
// UPDATE, so concurrent downloads never push the count past the cap.
func (s *Service) RecordDownload(ctx context.Context, token string) (*Link, error) {
	link, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := checkAccessible(link, now); err != nil {
		return nil, err
	}
	if !link.AllowDownload {
		return nil, fmt.Errorf("%w: share link does not allow downloads", vfs.ErrPermissionDenied)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE share_links
		SET download_count = download_count + 1, last_accessed_at = $1
		WHERE token = $2 AND is_active = TRUE AND allow_download = TRUE
			AND (max_downloads IS NULL OR download_count < max_downloads)
	`, now, token)
	if err != nil {
		return nil, fmt.Errorf("failed to record download: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// lost a race; report what changed underneath
		current, err := s.Get(ctx, token)
		if err != nil {
			return nil, err
		}
		if err := checkAccessible(current, now); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: share link does not allow downloads", vfs.ErrPermissionDenied)
	}
	return s.Get(ctx, token)
}

// Deactivate disables a link. Deactivating an inactive link keeps its original timestamp.
func (s *Service) Deactivate(ctx context.Context, token string) (*Link, error) {
	link, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if !link.IsActive {
		return link, nil
	}
	now := s.clock.Now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE share_links SET is_active = FALSE, deactivated_at = $1 WHERE id = $2`, now, link.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to deactivate share link: %w", err)
	}
	link.IsActive = false
	link.DeactivatedAt = &now
	return link, nil
}

// Activate re-enables a deactivated link. Expiry and cap still apply on resolve.
func (s *Service) Activate(ctx context.Context, token string) (*Link, error) {
	link, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE share_links SET is_active = TRUE, deactivated_at = NULL WHERE id = $1`, link.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to activate share link: %w", err)
	}
	link.IsActive = true
	link.DeactivatedAt = nil
	return link, nil
}

// Update changes the expiry, download cap and toggles of a link
func (s *Service) Update(ctx context.Context, token string, opts UpdateOptions) (*Link, error) {
	if err := validateLimits(opts.ExpiresAt, opts.MaxDownloads, s.clock.Now()); err != nil {
		return nil, err
	}
	link, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	switch {
	case opts.ClearExpiry:
		link.ExpiresAt = nil
	case opts.ExpiresAt != nil:
		link.ExpiresAt = opts.ExpiresAt
	}
	switch {
	case opts.ClearMaxDownloads:
		link.MaxDownloads = nil
	case opts.MaxDownloads != nil:
		link.MaxDownloads = opts.MaxDownloads
	}
	if opts.AllowDownload != nil {
		link.AllowDownload = *opts.AllowDownload
	}
	if opts.AllowPreview != nil {
		link.AllowPreview = *opts.AllowPreview
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE share_links
		SET expires_at = $1, max_downloads = $2, allow_download = $3, allow_preview = $4
		WHERE id = $5
	`, nullTime(link.ExpiresAt), nullInt(link.MaxDownloads), link.AllowDownload, link.AllowPreview, link.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update share link: %w", err)
	}
	return link, nil
}

// SetPasswordHash replaces the password hash. An empty hash removes the password.
func (s *Service) SetPasswordHash(ctx context.Context, token, hash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE share_links SET password_hash = $1 WHERE token = $2`,
		sql.NullString{String: hash, Valid: hash != ""}, token)
	if err != nil {
		return fmt.Errorf("failed to set share link password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: share link", vfs.ErrNotFound)
	}
	return nil
}

// ListByNode returns the links pointing at a node, newest first
func (s *Service) ListByNode(ctx context.Context, nodeID int64) ([]*Link, error) {
	return s.queryLinks(ctx,
		`SELECT `+linkColumns+` FROM share_links WHERE node_id = $1 ORDER BY created_at DESC, id DESC`, nodeID)
}

// ListByCreator returns the links a user issued, newest first
func (s *Service) ListByCreator(ctx context.Context, creatorID string) ([]*Link, error) {
	return s.queryLinks(ctx,
		`SELECT `+linkColumns+` FROM share_links WHERE created_by = $1 ORDER BY created_at DESC, id DESC`, creatorID)
}

// Delete removes a link permanently
func (s *Service) Delete(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM share_links WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete share link: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: share link", vfs.ErrNotFound)
	}
	return nil
}

// DeactivateInvalid deactivates active links that are expired or at their cap.
// It returns how many links it deactivated.
func (s *Service) DeactivateInvalid(ctx context.Context) (int, error) {
	active, err := s.queryLinks(ctx, `SELECT `+linkColumns+` FROM share_links WHERE is_active = TRUE ORDER BY id ASC`)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	count := 0
	for _, link := range active {
		if !link.IsExpired(now) && !link.AtLimit() {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE share_links SET is_active = FALSE, deactivated_at = $1 WHERE id = $2 AND is_active = TRUE`,
			now, link.ID,
		); err != nil {
			return count, fmt.Errorf("failed to deactivate share link %d: %w", link.ID, err)
		}
		count++
	}
	return count, nil
}
