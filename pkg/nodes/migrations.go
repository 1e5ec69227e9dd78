package nodes

import "github.com/platinummonkey/portalfs/pkg/storage/postgres"

// Migrations returns the node tree schema
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Name: "nodes",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create nodes table",
				SQL: `
					CREATE TABLE IF NOT EXISTS nodes (
						id BIGSERIAL PRIMARY KEY,
						container_type VARCHAR(16) NOT NULL CHECK (container_type IN ('PROJECT', 'REPOSITORY')),
						container_id BIGINT NOT NULL,
						branch_id BIGINT,
						parent_id BIGINT REFERENCES nodes(id),
						name VARCHAR(255) NOT NULL,
						kind VARCHAR(8) NOT NULL CHECK (kind IN ('FOLDER', 'FILE')),
						path TEXT NOT NULL,
						size BIGINT NOT NULL DEFAULT 0,
						mime_type VARCHAR(255),
						storage_key VARCHAR(512),
						checksum VARCHAR(64),
						created_by VARCHAR(255) NOT NULL,
						updated_by VARCHAR(255) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
						is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
						deleted_at TIMESTAMP
					);

					-- Active paths are unique per (container, branch)
					CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_active_path
						ON nodes (container_type, container_id, COALESCE(branch_id, 0), path)
						WHERE is_deleted = FALSE;

					CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id) WHERE is_deleted = FALSE;
					CREATE INDEX IF NOT EXISTS idx_nodes_scope ON nodes(container_type, container_id, branch_id);
					CREATE INDEX IF NOT EXISTS idx_nodes_trash ON nodes(container_type, container_id, deleted_at DESC) WHERE is_deleted = TRUE;
				`,
			},
			{
				Version:     2,
				Description: "Create file_versions table",
				SQL: `
					CREATE TABLE IF NOT EXISTS file_versions (
						id BIGSERIAL PRIMARY KEY,
						node_id BIGINT NOT NULL REFERENCES nodes(id),
						version INT NOT NULL,
						storage_key VARCHAR(512) NOT NULL,
						size BIGINT NOT NULL DEFAULT 0,
						checksum VARCHAR(64),
						mime_type VARCHAR(255),
						is_current BOOLEAN NOT NULL DEFAULT FALSE,
						is_obsolete BOOLEAN NOT NULL DEFAULT FALSE,
						created_by VARCHAR(255) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT NOW(),
						UNIQUE(node_id, version)
					);

					CREATE UNIQUE INDEX IF NOT EXISTS idx_file_versions_current ON file_versions(node_id) WHERE is_current = TRUE;
					CREATE INDEX IF NOT EXISTS idx_file_versions_obsolete ON file_versions(node_id) WHERE is_obsolete = TRUE;
				`,
			},
		},
	}
}
