package sharelinks

import "github.com/platinummonkey/portalfs/pkg/storage/postgres"

// Migrations returns the share link schema
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Name: "sharelinks",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create share_links table",
				SQL: `
					CREATE TABLE IF NOT EXISTS share_links (
						id BIGSERIAL PRIMARY KEY,
						token VARCHAR(64) NOT NULL UNIQUE,
						node_id BIGINT NOT NULL REFERENCES nodes(id),
						created_by VARCHAR(255) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT NOW(),
						expires_at TIMESTAMP,
						password_hash VARCHAR(255),
						max_downloads INTEGER CHECK (max_downloads IS NULL OR max_downloads > 0),
						download_count INTEGER NOT NULL DEFAULT 0,
						is_active BOOLEAN NOT NULL DEFAULT TRUE,
						allow_download BOOLEAN NOT NULL DEFAULT TRUE,
						allow_preview BOOLEAN NOT NULL DEFAULT TRUE,
						deactivated_at TIMESTAMP,
						last_accessed_at TIMESTAMP
					);

					CREATE INDEX IF NOT EXISTS idx_share_links_node ON share_links(node_id);
					CREATE INDEX IF NOT EXISTS idx_share_links_creator ON share_links(created_by);
					CREATE INDEX IF NOT EXISTS idx_share_links_active ON share_links(is_active) WHERE is_active = TRUE;
				`,
			},
		},
	}
}
