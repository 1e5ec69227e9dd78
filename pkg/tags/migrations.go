package tags

import "github.com/platinummonkey/portalfs/pkg/storage/postgres"

// Migrations returns the tag and favorite schema
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Name: "tags",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create tags and node_tags tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS tags (
						id BIGSERIAL PRIMARY KEY,
						name VARCHAR(64) NOT NULL UNIQUE,
						description TEXT,
						color VARCHAR(7),
						created_by VARCHAR(255) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT NOW()
					);

					CREATE TABLE IF NOT EXISTS node_tags (
						node_id BIGINT NOT NULL REFERENCES nodes(id),
						tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
						tagged_by VARCHAR(255) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT NOW(),
						PRIMARY KEY (node_id, tag_id)
					);

					CREATE INDEX IF NOT EXISTS idx_node_tags_tag ON node_tags(tag_id);
				`,
			},
			{
				Version:     2,
				Description: "Create favorites table",
				SQL: `
					CREATE TABLE IF NOT EXISTS favorites (
						id BIGSERIAL PRIMARY KEY,
						user_id VARCHAR(255) NOT NULL,
						node_id BIGINT NOT NULL REFERENCES nodes(id),
						label VARCHAR(255),
						created_at TIMESTAMP NOT NULL DEFAULT NOW(),
						UNIQUE(user_id, node_id)
					);

					CREATE INDEX IF NOT EXISTS idx_favorites_node ON favorites(node_id);
				`,
			},
		},
	}
}
