package jobs

import "github.com/platinummonkey/portalfs/pkg/storage/postgres"

// Migrations returns the bulk job schema
func Migrations() postgres.MigrationSet {
	return postgres.MigrationSet{
		Name: "jobs",
		Migrations: []postgres.Migration{
			{
				Version:     1,
				Description: "Create bulk_jobs table",
				SQL: `
					CREATE TABLE IF NOT EXISTS bulk_jobs (
						id BIGSERIAL PRIMARY KEY,
						user_id VARCHAR(255) NOT NULL,
						operation VARCHAR(32) NOT NULL CHECK (operation IN ('COMPRESS', 'BULK_UPLOAD', 'BULK_DOWNLOAD', 'MOVE', 'COPY', 'DELETE_BULK')),
						node_ids JSONB NOT NULL DEFAULT '[]',
						items JSONB NOT NULL DEFAULT '[]',
						target_container_type VARCHAR(16),
						target_container_id BIGINT,
						target_branch_id BIGINT,
						target_parent_id BIGINT,
						status VARCHAR(16) NOT NULL CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'CANCELLED')),
						processed_files INTEGER NOT NULL DEFAULT 0,
						total_files INTEGER NOT NULL DEFAULT 0,
						progress_percent INTEGER NOT NULL DEFAULT 0 CHECK (progress_percent BETWEEN 0 AND 100),
						result TEXT,
						error_message TEXT,
						resubmitted_from BIGINT REFERENCES bulk_jobs(id) ON DELETE SET NULL,
						created_at TIMESTAMP NOT NULL DEFAULT NOW(),
						started_at TIMESTAMP,
						completed_at TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_bulk_jobs_user ON bulk_jobs(user_id, created_at DESC);
					CREATE INDEX IF NOT EXISTS idx_bulk_jobs_pending ON bulk_jobs(created_at) WHERE status = 'PENDING';
					CREATE INDEX IF NOT EXISTS idx_bulk_jobs_finished ON bulk_jobs(completed_at) WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED');
				`,
			},
		},
	}
}
