package nodes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const nodeColumns = `id, container_type, container_id, branch_id, parent_id, name, kind, path, size,
	mime_type, storage_key, checksum, created_by, updated_by, created_at, updated_at, is_deleted, deleted_at`

const scopeFilter = `container_type = $1 AND container_id = $2 AND COALESCE(branch_id, 0) = $3`

// Store handles node persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new node store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for services that share transactions
func (s *Store) DB() *sql.DB {
	return s.db
}

func scanNode(row scanner) (*Node, error) {
	var n Node
	var containerType string
	var branchID, parentID sql.NullInt64
	var mimeType, storageKey, checksum sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(
		&n.ID,
		&containerType,
		&n.Scope.ContainerID,
		&branchID,
		&parentID,
		&n.Name,
		&n.Kind,
		&n.Path,
		&n.Size,
		&mimeType,
		&storageKey,
		&checksum,
		&n.CreatedBy,
		&n.UpdatedBy,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.IsDeleted,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Scope.ContainerType = vfs.ContainerType(containerType)
	if branchID.Valid {
		id := branchID.Int64
		n.Scope.BranchID = &id
	}
	if parentID.Valid {
		id := parentID.Int64
		n.ParentID = &id
	}
	n.MimeType = mimeType.String
	n.StorageKey = storageKey.String
	n.Checksum = checksum.String
	if deletedAt.Valid {
		t := deletedAt.Time
		n.DeletedAt = &t
	}
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	defer rows.Close()

	var result []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}
	return result, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// getNode loads a node. Soft-deleted nodes are NotFound unless includeDeleted is set.
func getNode(ctx context.Context, q querier, id int64, includeDeleted bool) (*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`
	n, err := scanNode(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: node %d", vfs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if n.IsDeleted && !includeDeleted {
		return nil, fmt.Errorf("%w: node %d", vfs.ErrNotFound, id)
	}
	return n, nil
}

func insertNode(ctx context.Context, q querier, n *Node) error {
	query := `
		INSERT INTO nodes (container_type, container_id, branch_id, parent_id, name, kind, path, size,
			mime_type, storage_key, checksum, created_by, updated_by, created_at, updated_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		string(n.Scope.ContainerType),
		n.Scope.ContainerID,
		n.Scope.BranchID,
		n.ParentID,
		n.Name,
		string(n.Kind),
		n.Path,
		n.Size,
		nullString(n.MimeType),
		nullString(n.StorageKey),
		nullString(n.Checksum),
		n.CreatedBy,
		n.UpdatedBy,
		n.CreatedAt,
		n.UpdatedAt,
		false,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	return nil
}

// siblingExists reports whether an active node named name already sits under parentID in scope
func siblingExists(ctx context.Context, q querier, scope vfs.Scope, parentID *int64, name string, excludeID int64) (bool, error) {
	var parent int64
	if parentID != nil {
		parent = *parentID
	}
	query := `
		SELECT COUNT(*) FROM nodes
		WHERE ` + scopeFilter + ` AND COALESCE(parent_id, 0) = $4 AND name = $5 AND is_deleted = FALSE AND id <> $6
	`
	var count int
	err := q.QueryRowContext(ctx, query,
		string(scope.ContainerType), scope.ContainerID, scope.BranchKey(), parent, name, excludeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check sibling names: %w", err)
	}
	return count > 0, nil
}

func listChildren(ctx context.Context, q querier, parentID int64) ([]*Node, error) {
	return queryChildren(ctx, q, parentID, false)
}

// queryChildren lists the children of parentID, including trashed ones when includeDeleted is set
func queryChildren(ctx context.Context, q querier, parentID int64, includeDeleted bool) ([]*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE parent_id = $1 AND (is_deleted = FALSE OR $2)
		ORDER BY kind DESC, name ASC`
	rows, err := q.QueryContext(ctx, query, parentID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	return scanNodes(rows)
}

func listRoots(ctx context.Context, q querier, scope vfs.Scope) ([]*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE ` + scopeFilter + ` AND parent_id IS NULL AND is_deleted = FALSE
		ORDER BY kind DESC, name ASC`
	rows, err := q.QueryContext(ctx, query, string(scope.ContainerType), scope.ContainerID, scope.BranchKey())
	if err != nil {
		return nil, fmt.Errorf("failed to list roots: %w", err)
	}
	return scanNodes(rows)
}

func getByPath(ctx context.Context, q querier, scope vfs.Scope, path string) (*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE ` + scopeFilter + ` AND path = $4 AND is_deleted = FALSE`
	n, err := scanNode(q.QueryRowContext(ctx, query, string(scope.ContainerType), scope.ContainerID, scope.BranchKey(), path))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: path %s in %s", vfs.ErrNotFound, path, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return n, nil
}

func totalSize(ctx context.Context, q querier, scope vfs.Scope) (int64, error) {
	query := `SELECT COALESCE(SUM(size), 0) FROM nodes
		WHERE ` + scopeFilter + ` AND kind = 'FILE' AND is_deleted = FALSE`
	var total int64
	if err := q.QueryRowContext(ctx, query, string(scope.ContainerType), scope.ContainerID, scope.BranchKey()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum sizes: %w", err)
	}
	return total, nil
}

func listTrash(ctx context.Context, q querier, scope vfs.Scope) ([]*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE ` + scopeFilter + ` AND is_deleted = TRUE
		ORDER BY deleted_at DESC, id DESC`
	rows, err := q.QueryContext(ctx, query, string(scope.ContainerType), scope.ContainerID, scope.BranchKey())
	if err != nil {
		return nil, fmt.Errorf("failed to list trash: %w", err)
	}
	return scanNodes(rows)
}

func updatePlacement(ctx context.Context, q querier, n *Node) error {
	query := `
		UPDATE nodes
		SET parent_id = $1, name = $2, path = $3, updated_by = $4, updated_at = $5
		WHERE id = $6
	`
	if _, err := q.ExecContext(ctx, query, n.ParentID, n.Name, n.Path, n.UpdatedBy, n.UpdatedAt, n.ID); err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	return nil
}

func updatePath(ctx context.Context, q querier, id int64, path string) error {
	if _, err := q.ExecContext(ctx, `UPDATE nodes SET path = $1 WHERE id = $2`, path, id); err != nil {
		return fmt.Errorf("failed to update path: %w", err)
	}
	return nil
}

func updateContent(ctx context.Context, q querier, n *Node) error {
	query := `
		UPDATE nodes
		SET size = $1, mime_type = $2, storage_key = $3, checksum = $4, updated_by = $5, updated_at = $6
		WHERE id = $7
	`
	_, err := q.ExecContext(ctx, query,
		n.Size, nullString(n.MimeType), nullString(n.StorageKey), nullString(n.Checksum), n.UpdatedBy, n.UpdatedAt, n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}
	return nil
}

func markDeleted(ctx context.Context, q querier, id int64, actor string, at time.Time) error {
	query := `
		UPDATE nodes
		SET is_deleted = TRUE, deleted_at = $1, updated_by = $2, updated_at = $1
		WHERE id = $3 AND is_deleted = FALSE
	`
	if _, err := q.ExecContext(ctx, query, at, actor, id); err != nil {
		return fmt.Errorf("failed to delete node %d: %w", id, err)
	}
	return nil
}

// rewriteDescendantPaths recomputes paths below parent after its own path
// changed. Trashed descendants follow too so the trash shows where they lived.
func rewriteDescendantPaths(ctx context.Context, q querier, parent *Node) error {
	children, err := queryChildren(ctx, q, parent.ID, true)
	if err != nil {
		return err
	}
	for _, child := range children {
		child.Path = ChildPath(parent.Path, child.Name)
		if err := updatePath(ctx, q, child.ID, child.Path); err != nil {
			return err
		}
		if child.IsFolder() {
			if err := rewriteDescendantPaths(ctx, q, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectSubtree returns root followed by its active descendants in pre-order
func collectSubtree(ctx context.Context, q querier, root *Node) ([]*Node, error) {
	result := []*Node{root}
	if !root.IsFolder() {
		return result, nil
	}
	children, err := listChildren(ctx, q, root.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		sub, err := collectSubtree(ctx, q, child)
		if err != nil {
			return nil, err
		}
		result = append(result, sub...)
	}
	return result, nil
}

// ancestors returns the chain from id up to its root, node first
func ancestors(ctx context.Context, q querier, id int64) ([]*Node, error) {
	var chain []*Node
	seen := make(map[int64]bool)
	next := &id
	for next != nil {
		if seen[*next] {
			return nil, fmt.Errorf("cycle detected at node %d", *next)
		}
		seen[*next] = true

		n, err := getNode(ctx, q, *next, false)
		if err != nil {
			return nil, err
		}
		chain = append(chain, n)
		next = n.ParentID
	}
	return chain, nil
}
