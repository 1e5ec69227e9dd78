package nodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/platinummonkey/portalfs/pkg/storage"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const versionColumns = `id, node_id, version, storage_key, size, checksum, mime_type, is_current, is_obsolete, created_by, created_at`

func scanVersion(row scanner) (*FileVersion, error) {
	var v FileVersion
	var checksum, mimeType sql.NullString
	err := row.Scan(
		&v.ID,
		&v.NodeID,
		&v.Version,
		&v.StorageKey,
		&v.Size,
		&checksum,
		&mimeType,
		&v.IsCurrent,
		&v.IsObsolete,
		&v.CreatedBy,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Checksum = checksum.String
	v.MimeType = mimeType.String
	return &v, nil
}

func insertVersion(ctx context.Context, q querier, v *FileVersion) error {
	query := `
		INSERT INTO file_versions (node_id, version, storage_key, size, checksum, mime_type, is_current, is_obsolete, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		v.NodeID, v.Version, v.StorageKey, v.Size, nullString(v.Checksum), nullString(v.MimeType),
		v.IsCurrent, v.IsObsolete, v.CreatedBy, v.CreatedAt,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("failed to create file version: %w", err)
	}
	return nil
}

func listVersions(ctx context.Context, q querier, nodeID int64) ([]*FileVersion, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM file_versions WHERE node_id = $1 ORDER BY version DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ReplaceContent stores new content for a file. The previous version becomes obsolete.
func (s *Service) ReplaceContent(ctx context.Context, id int64, content io.Reader, mimeType, actor string) (*Node, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsFolder() {
		return nil, fmt.Errorf("%w: node %d is a folder", vfs.ErrInvalidArgument, id)
	}
	if content == nil {
		return nil, fmt.Errorf("%w: content is required", vfs.ErrInvalidArgument)
	}

	info, err := s.objects.Put(ctx, s.NewObjectKey(), content, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	var node *Node
	err = s.withTree(ctx, current.Scope, func(tx *sql.Tx) error {
		node, err = getNode(ctx, tx, id, false)
		if err != nil {
			return err
		}

		var latest int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM file_versions WHERE node_id = $1`, id,
		).Scan(&latest); err != nil {
			return fmt.Errorf("failed to read latest version: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE file_versions SET is_current = FALSE, is_obsolete = TRUE WHERE node_id = $1 AND is_current = TRUE`, id,
		); err != nil {
			return fmt.Errorf("failed to retire current version: %w", err)
		}

		now := s.clock.Now()
		if mimeType != "" {
			node.MimeType = mimeType
		}
		node.Size = info.Size
		node.StorageKey = info.Key
		node.Checksum = info.Checksum
		node.UpdatedBy = actor
		node.UpdatedAt = now

		if err := insertVersion(ctx, tx, &FileVersion{
			NodeID:     id,
			Version:    latest + 1,
			StorageKey: info.Key,
			Size:       info.Size,
			Checksum:   info.Checksum,
			MimeType:   node.MimeType,
			IsCurrent:  true,
			CreatedBy:  actor,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		return updateContent(ctx, tx, node)
	})
	if err != nil {
		s.objects.Delete(context.WithoutCancel(ctx), info.Key)
		return nil, err
	}
	return node, nil
}

// ListVersions returns a file's versions, newest first
func (s *Service) ListVersions(ctx context.Context, id int64) ([]*FileVersion, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return listVersions(ctx, s.store.db, id)
}

// CurrentVersion returns the version the node's content points at
func (s *Service) CurrentVersion(ctx context.Context, id int64) (*FileVersion, error) {
	v, err := scanVersion(s.store.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM file_versions WHERE node_id = $1 AND is_current = TRUE`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no current version for node %d", vfs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}
	return v, nil
}

// PruneVersions keeps the newest keep obsolete versions of a file and deletes the rest with their content.
// It returns how many versions were removed.
func (s *Service) PruneVersions(ctx context.Context, id int64, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep must not be negative", vfs.ErrInvalidArgument)
	}
	versions, err := listVersions(ctx, s.store.db, id)
	if err != nil {
		return 0, err
	}

	var doomed []*FileVersion
	kept := 0
	for _, v := range versions {
		if !v.IsObsolete {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		doomed = append(doomed, v)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, v := range doomed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_versions WHERE id = $1 AND is_current = FALSE`, v.ID); err != nil {
			return 0, fmt.Errorf("failed to delete version %d: %w", v.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, v := range doomed {
		if err := s.objects.Delete(ctx, v.StorageKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return len(doomed), fmt.Errorf("failed to delete content of version %d: %w", v.ID, err)
		}
	}
	return len(doomed), nil
}

// NodesWithObsoleteVersions lists files holding more than keep obsolete versions
func (s *Service) NodesWithObsoleteVersions(ctx context.Context, keep int) ([]int64, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT node_id FROM file_versions
		WHERE is_obsolete = TRUE
		GROUP BY node_id
		HAVING COUNT(*) > $1
		ORDER BY node_id
	`, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to find prunable nodes: %w", err)
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
	return ids, rows.Err()
}
