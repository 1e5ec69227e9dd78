package permissions

import "github.com/platinummonkey/portalfs/pkg/storage/postgres"

// Migrations returns the teams and grants schema
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Name: "permissions",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create teams and team_members tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS teams (
						id VARCHAR(255) PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT NOW()
					);

					CREATE TABLE IF NOT EXISTS team_members (
						team_id VARCHAR(255) NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
						user_id VARCHAR(255) NOT NULL,
						added_at TIMESTAMP NOT NULL DEFAULT NOW(),
						PRIMARY KEY (team_id, user_id)
					);

					CREATE INDEX IF NOT EXISTS idx_team_members_user ON team_members(user_id);
				`,
			},
			{
				Version:     2,
				Description: "Create permission_grants table",
				SQL: `
					CREATE TABLE IF NOT EXISTS permission_grants (
						id BIGSERIAL PRIMARY KEY,
						node_id BIGINT NOT NULL REFERENCES nodes(id),
						user_id VARCHAR(255),
						team_id VARCHAR(255) REFERENCES teams(id) ON DELETE CASCADE,
						level VARCHAR(8) NOT NULL CHECK (level IN ('READ', 'WRITE', 'ADMIN')),
						inheritable BOOLEAN NOT NULL DEFAULT TRUE,
						granted_by VARCHAR(255) NOT NULL,
						created_at TIMESTAMP NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
						CHECK ((user_id IS NULL) <> (team_id IS NULL))
					);

					CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_user ON permission_grants(node_id, user_id) WHERE user_id IS NOT NULL;
					CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_team ON permission_grants(node_id, team_id) WHERE team_id IS NOT NULL;
					CREATE INDEX IF NOT EXISTS idx_grants_node ON permission_grants(node_id);
				`,
			},
		},
	}
}
