package branches

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const branchColumns = `id, repository_id, name, description, is_principal, is_protected,
	last_commit_hash, last_commit_message, last_commit_author, last_commit_at, created_by, created_at, updated_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// Registry tracks the branches of every repository
type Registry struct {
	db    *sql.DB
	clock vfs.Clock
}

// NewRegistry creates a branch registry
func NewRegistry(db *sql.DB, clock vfs.Clock) *Registry {
	if clock == nil {
		clock = vfs.RealClock{}
	}
	return &Registry{db: db, clock: vfs.UTC(clock)}
}

func scanBranch(row scanner) (*Branch, error) {
	var b Branch
	var description, hash, message, author sql.NullString
	var commitAt sql.NullTime

	err := row.Scan(
		&b.ID,
		&b.RepositoryID,
		&b.Name,
		&description,
		&b.IsPrincipal,
		&b.IsProtected,
		&hash,
		&message,
		&author,
		&commitAt,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Description = description.String
	b.LastCommitHash = hash.String
	b.LastCommitMessage = message.String
	b.LastCommitAuthor = author.String
	if commitAt.Valid {
		t := commitAt.Time
		b.LastCommitAt = &t
	}
	return &b, nil
}

func (r *Registry) queryBranches(ctx context.Context, query string, args ...interface{}) ([]*Branch, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query branches: %w", err)
	}
	defer rows.Close()

	var result []*Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate branches: %w", err)
	}
	return result, nil
}

func getBranch(ctx context.Context, q querier, id int64) (*Branch, error) {
	b, err := scanBranch(q.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: branch %d", vfs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return b, nil
}

func nameTaken(ctx context.Context, q querier, repositoryID int64, name string, excludeID int64) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM branches WHERE repository_id = $1 AND name = $2 AND id <> $3`,
		repositoryID, name, excludeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check branch name: %w", err)
	}
	return count > 0, nil
}

// InitRepository creates the principal branch of a new repository
func (r *Registry) InitRepository(ctx context.Context, repositoryID int64, principalName, actor string) (*Branch, error) {
	existing, err := r.List(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: repository %d already has branches", vfs.ErrConflict, repositoryID)
	}
	return r.CreateBranch(ctx, CreateRequest{RepositoryID: repositoryID, Name: principalName, Actor: actor})
}

// CreateBranch adds a branch. The first branch of a repository becomes its principal.
func (r *Registry) CreateBranch(ctx context.Context, req CreateRequest) (*Branch, error) {
	if req.RepositoryID <= 0 {
		return nil, fmt.Errorf("%w: repository id must be positive", vfs.ErrInvalidArgument)
	}
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	taken, err := nameTaken(ctx, tx, req.RepositoryID, req.Name, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: branch %q already exists", vfs.ErrConflict, req.Name)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM branches WHERE repository_id = $1`, req.RepositoryID,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count branches: %w", err)
	}

	now := r.clock.Now()
	b := &Branch{
		RepositoryID: req.RepositoryID,
		Name:         req.Name,
		Description:  req.Description,
		IsPrincipal:  count == 0,
		CreatedBy:    req.Actor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO branches (repository_id, name, description, is_principal, is_protected, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, b.RepositoryID, b.Name, sql.NullString{String: b.Description, Valid: b.Description != ""},
		b.IsPrincipal, false, b.CreatedBy, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create branch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return b, nil
}

// SetPrincipal makes branchID the principal of its repository.
// The old principal is cleared in the same transaction.
func (r *Registry) SetPrincipal(ctx context.Context, repositoryID, branchID int64) (*Branch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := getBranch(ctx, tx, branchID)
	if err != nil {
		return nil, err
	}
	if b.RepositoryID != repositoryID {
		return nil, fmt.Errorf("%w: branch %d in repository %d", vfs.ErrNotFound, branchID, repositoryID)
	}
	if b.IsPrincipal {
		return b, nil
	}

	now := r.clock.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE branches SET is_principal = FALSE, updated_at = $1 WHERE repository_id = $2 AND is_principal = TRUE`,
		now, repositoryID,
	); err != nil {
		return nil, fmt.Errorf("failed to clear principal: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE branches SET is_principal = TRUE, updated_at = $1 WHERE id = $2`,
		now, branchID,
	); err != nil {
		return nil, fmt.Errorf("failed to set principal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	b.IsPrincipal = true
	b.UpdatedAt = now
	return b, nil
}

// Protect blocks deletion of a branch
func (r *Registry) Protect(ctx context.Context, id int64) (*Branch, error) {
	return r.setProtected(ctx, id, true)
}

// Unprotect allows deletion of a branch again
func (r *Registry) Unprotect(ctx context.Context, id int64) (*Branch, error) {
	return r.setProtected(ctx, id, false)
}

func (r *Registry) setProtected(ctx context.Context, id int64, protected bool) (*Branch, error) {
	now := r.clock.Now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE branches SET is_protected = $1, updated_at = $2 WHERE id = $3`,
		protected, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update branch protection: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: branch %d", vfs.ErrNotFound, id)
	}
	return r.Get(ctx, id)
}

// Delete removes a branch. Principal and protected branches cannot be deleted.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := getBranch(ctx, tx, id)
	if err != nil {
		return err
	}
	if b.IsPrincipal {
		return fmt.Errorf("%w: branch %q is the principal branch", vfs.ErrConflict, b.Name)
	}
	if b.IsProtected {
		return fmt.Errorf("%w: branch %q is protected", vfs.ErrInvalidState, b.Name)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM branches WHERE id = $1 AND is_principal = FALSE AND is_protected = FALSE`, id,
	); err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rename changes a branch name, keeping it unique within the repository
func (r *Registry) Rename(ctx context.Context, id int64, newName string) (*Branch, error) {
	if err := ValidateName(newName); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := getBranch(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	taken, err := nameTaken(ctx, tx, b.RepositoryID, newName, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: branch %q already exists", vfs.ErrConflict, newName)
	}

	now := r.clock.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE branches SET name = $1, updated_at = $2 WHERE id = $3`, newName, now, id,
	); err != nil {
		return nil, fmt.Errorf("failed to rename branch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	b.Name = newName
	b.UpdatedAt = now
	return b, nil
}

// RecordCommit stores the latest commit metadata shown next to a branch
func (r *Registry) RecordCommit(ctx context.Context, id int64, commit Commit) (*Branch, error) {
	if commit.Hash == "" {
		return nil, fmt.Errorf("%w: commit hash is required", vfs.ErrInvalidArgument)
	}
	at := commit.At
	if at.IsZero() {
		at = r.clock.Now()
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE branches
		SET last_commit_hash = $1, last_commit_message = $2, last_commit_author = $3, last_commit_at = $4, updated_at = $5
		WHERE id = $6
	`, commit.Hash, commit.Message, commit.Author, at.UTC(), r.clock.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to record commit: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: branch %d", vfs.ErrNotFound, id)
	}
	return r.Get(ctx, id)
}

// Get returns a branch by id
func (r *Registry) Get(ctx context.Context, id int64) (*Branch, error) {
	return getBranch(ctx, r.db, id)
}

// List returns a repository's branches, principal first then by name
func (r *Registry) List(ctx context.Context, repositoryID int64) ([]*Branch, error) {
	return r.queryBranches(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repository_id = $1 ORDER BY is_principal DESC, name ASC`,
		repositoryID)
}

// GetByName finds a branch by its name
func (r *Registry) GetByName(ctx context.Context, repositoryID int64, name string) (*Branch, error) {
	b, err := scanBranch(r.db.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repository_id = $1 AND name = $2`, repositoryID, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: branch %q in repository %d", vfs.ErrNotFound, name, repositoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return b, nil
}

// Principal returns the principal branch of a repository
func (r *Registry) Principal(ctx context.Context, repositoryID int64) (*Branch, error) {
	b, err := scanBranch(r.db.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repository_id = $1 AND is_principal = TRUE`, repositoryID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: principal branch of repository %d", vfs.ErrNotFound, repositoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal branch: %w", err)
	}
	return b, nil
}

// ResolveOrPrincipal returns the named branch, or the principal when name is empty
func (r *Registry) ResolveOrPrincipal(ctx context.Context, repositoryID int64, name string) (*Branch, error) {
	if name == "" {
		return r.Principal(ctx, repositoryID)
	}
	return r.GetByName(ctx, repositoryID, name)
}

// Search finds branches whose name contains fragment, case-insensitively
func (r *Registry) Search(ctx context.Context, repositoryID int64, fragment string) ([]*Branch, error) {
	return r.queryBranches(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repository_id = $1 AND LOWER(name) LIKE LOWER($2) ORDER BY name ASC`,
		repositoryID, "%"+fragment+"%")
}

// ListProtected returns the protected branches of a repository
func (r *Registry) ListProtected(ctx context.Context, repositoryID int64) ([]*Branch, error) {
	return r.queryBranches(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repository_id = $1 AND is_protected = TRUE ORDER BY name ASC`,
		repositoryID)
}
