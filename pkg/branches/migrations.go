package branches

import "github.com/platinummonkey/portalfs/pkg/storage/postgres"

// Migrations returns the branch registry schema
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Name: "branches",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create branches table",
				SQL: `
					CREATE TABLE IF NOT EXISTS branches (
						id BIGSERIAL PRIMARY KEY,
						repository_id BIGINT NOT NULL,
						name VARCHAR(100) NOT NULL,
						description TEXT,
						is_principal BOOLEAN NOT NULL DEFAULT FALSE,
						is_protected BOOLEAN NOT NULL DEFAULT FALSE,
						last_commit_hash VARCHAR(64),
						last_commit_message TEXT,
						last_commit_author VARCHAR(255),
						last_commit_at TIMESTAMP,
						created_by VARCHAR(255) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
						UNIQUE(repository_id, name)
					);

					-- At most one principal per repository; the registry keeps it at exactly one
					CREATE UNIQUE INDEX IF NOT EXISTS idx_branches_principal ON branches(repository_id) WHERE is_principal = TRUE;
					CREATE INDEX IF NOT EXISTS idx_branches_protected ON branches(repository_id) WHERE is_protected = TRUE;
				`,
			},
		},
	}
}
