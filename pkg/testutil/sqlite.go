package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3" // test database driver
)

// SQLite equivalents of the postgres migrations, one per owning package.
const (
	NodesSchema = `
		CREATE TABLE nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			container_type TEXT NOT NULL,
			container_id INTEGER NOT NULL,
			branch_id INTEGER,
			parent_id INTEGER REFERENCES nodes(id),
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			mime_type TEXT,
			storage_key TEXT,
			checksum TEXT,
			created_by TEXT NOT NULL,
			updated_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			is_deleted BOOLEAN NOT NULL DEFAULT 0,
			deleted_at TIMESTAMP
		);
		CREATE UNIQUE INDEX idx_nodes_active_path
			ON nodes (container_type, container_id, COALESCE(branch_id, 0), path)
			WHERE is_deleted = 0;

		CREATE TABLE file_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id INTEGER NOT NULL REFERENCES nodes(id),
			version INTEGER NOT NULL,
			storage_key TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			checksum TEXT,
			mime_type TEXT,
			is_current BOOLEAN NOT NULL DEFAULT 0,
			is_obsolete BOOLEAN NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(node_id, version)
		);
		CREATE UNIQUE INDEX idx_file_versions_current ON file_versions(node_id) WHERE is_current = 1;
	`

	BranchesSchema = `
		CREATE TABLE branches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repository_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			is_principal BOOLEAN NOT NULL DEFAULT 0,
			is_protected BOOLEAN NOT NULL DEFAULT 0,
			last_commit_hash TEXT,
			last_commit_message TEXT,
			last_commit_author TEXT,
			last_commit_at TIMESTAMP,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(repository_id, name)
		);
		CREATE UNIQUE INDEX idx_branches_principal ON branches(repository_id) WHERE is_principal = 1;
	`

	PermissionsSchema = `
		CREATE TABLE teams (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE team_members (
			team_id TEXT NOT NULL REFERENCES teams(id),
			user_id TEXT NOT NULL,
			added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (team_id, user_id)
		);

		CREATE TABLE permission_grants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id INTEGER NOT NULL,
			user_id TEXT,
			team_id TEXT,
			level TEXT NOT NULL,
			inheritable BOOLEAN NOT NULL DEFAULT 1,
			granted_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK ((user_id IS NULL) <> (team_id IS NULL))
		);
		CREATE UNIQUE INDEX idx_grants_user ON permission_grants(node_id, user_id) WHERE user_id IS NOT NULL;
		CREATE UNIQUE INDEX idx_grants_team ON permission_grants(node_id, team_id) WHERE team_id IS NOT NULL;
	`

	TagsSchema = `
		CREATE TABLE tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			color TEXT,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE node_tags (
			node_id INTEGER NOT NULL,
			tag_id INTEGER NOT NULL REFERENCES tags(id),
			tagged_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (node_id, tag_id)
		);

		CREATE TABLE favorites (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			node_id INTEGER NOT NULL,
			label TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, node_id)
		);
	`

	ShareLinksSchema = `
		CREATE TABLE share_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token TEXT NOT NULL UNIQUE,
			node_id INTEGER NOT NULL,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP,
			password_hash TEXT,
			max_downloads INTEGER,
			download_count INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			allow_download BOOLEAN NOT NULL DEFAULT 1,
			allow_preview BOOLEAN NOT NULL DEFAULT 1,
			deactivated_at TIMESTAMP,
			last_accessed_at TIMESTAMP
		);
	`

	JobsSchema = `
		CREATE TABLE bulk_jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			node_ids TEXT NOT NULL DEFAULT '[]',
			items TEXT NOT NULL DEFAULT '[]',
			target_container_type TEXT,
			target_container_id INTEGER,
			target_branch_id INTEGER,
			target_parent_id INTEGER,
			status TEXT NOT NULL,
			processed_files INTEGER NOT NULL DEFAULT 0,
			total_files INTEGER NOT NULL DEFAULT 0,
			progress_percent INTEGER NOT NULL DEFAULT 0,
			result TEXT,
			error_message TEXT,
			resubmitted_from INTEGER,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
)

// OpenSQLite returns an in-memory database with the given schemas applied.
// The pool is pinned to one connection so every query sees the same memory database.
func OpenSQLite(t testing.TB, schemas ...string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			t.Fatalf("Failed to create schema: %v", err)
		}
	}

	t.Cleanup(func() { db.Close() })
	return db
}
