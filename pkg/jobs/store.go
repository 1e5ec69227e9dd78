package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const jobColumns = `id, user_id, operation, node_ids, items, target_container_type, target_container_id,
	target_branch_id, target_parent_id, status, processed_files, total_files, progress_percent,
	result, error_message, resubmitted_from, created_at, started_at, completed_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

// Store persists jobs. Every status change is a conditional UPDATE on the
// current status, so two workers can never both move a job forward.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var nodeIDs, items string
	var containerType, result, errorMessage sql.NullString
	var containerID, branchID, parentID, resubmittedFrom sql.NullInt64
	var startedAt, completedAt sql.NullTime
	var operation, status string

	err := row.Scan(
		&j.ID,
		&j.UserID,
		&operation,
		&nodeIDs,
		&items,
		&containerType,
		&containerID,
		&branchID,
		&parentID,
		&status,
		&j.ProcessedFiles,
		&j.TotalFiles,
		&j.ProgressPercent,
		&result,
		&errorMessage,
		&resubmittedFrom,
		&j.CreatedAt,
		&startedAt,
		&completedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Operation = Operation(operation)
	j.Status = Status(status)
	j.Result = result.String
	j.ErrorMessage = errorMessage.String

	if err := json.Unmarshal([]byte(nodeIDs), &j.NodeIDs); err != nil {
		return nil, fmt.Errorf("failed to decode node ids of job %d: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(items), &j.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items of job %d: %w", j.ID, err)
	}
	if containerType.Valid {
		j.Target = &Target{Scope: vfs.Scope{
			ContainerType: vfs.ContainerType(containerType.String),
			ContainerID:   containerID.Int64,
		}}
		if branchID.Valid {
			id := branchID.Int64
			j.Target.Scope.BranchID = &id
		}
		if parentID.Valid {
			id := parentID.Int64
			j.Target.ParentID = &id
		}
	}
	if resubmittedFrom.Valid {
		id := resubmittedFrom.Int64
		j.ResubmittedFrom = &id
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// Insert stores a new job and sets its id
func (s *Store) Insert(ctx context.Context, j *Job) error {
	if j.NodeIDs == nil {
		j.NodeIDs = []int64{}
	}
	if j.Items == nil {
		j.Items = []UploadItem{}
	}
	nodeIDs, err := json.Marshal(j.NodeIDs)
	if err != nil {
		return fmt.Errorf("failed to encode node ids: %w", err)
	}
	items, err := json.Marshal(j.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	var containerType sql.NullString
	var containerID, branchID, parentID sql.NullInt64
	if j.Target != nil {
		containerType = sql.NullString{String: string(j.Target.Scope.ContainerType), Valid: true}
		containerID = sql.NullInt64{Int64: j.Target.Scope.ContainerID, Valid: true}
		branchID = nullInt64(j.Target.Scope.BranchID)
		parentID = nullInt64(j.Target.ParentID)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO bulk_jobs (user_id, operation, node_ids, items, target_container_type, target_container_id,
			target_branch_id, target_parent_id, status, processed_files, total_files, progress_percent,
			resubmitted_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`,
		j.UserID,
		string(j.Operation),
		string(nodeIDs),
		string(items),
		containerType,
		containerID,
		branchID,
		parentID,
		string(j.Status),
		j.ProcessedFiles,
		j.TotalFiles,
		j.ProgressPercent,
		nullInt64(j.ResubmittedFrom),
		j.CreatedAt,
		j.UpdatedAt,
	).Scan(&j.ID)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Get returns a job by id
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM bulk_jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: job %d", vfs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// Status returns only the status of a job
func (s *Store) Status(ctx context.Context, id int64) (Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM bulk_jobs WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: job %d", vfs.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return Status(status), nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return result, nil
}

// ListByUser returns a user's jobs, newest first
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM bulk_jobs WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
}

// ListPendingIDs returns the oldest PENDING job ids
func (s *Store) ListPendingIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM bulk_jobs WHERE status = $1 ORDER BY created_at ASC, id ASC LIMIT $2`,
		string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending jobs: %w", err)
	}
	return ids, nil
}

// CountByStatus returns the number of jobs in a status
func (s *Store) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bulk_jobs WHERE status = $1`, string(status),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// transitioned turns a zero-row conditional update into the right error
func (s *Store) transitioned(ctx context.Context, result sql.Result, id int64, action string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s job: %w", action, err)
	}
	if n > 0 {
		return nil
	}
	status, err := s.Status(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s job %d in status %s", vfs.ErrInvalidState, action, id, status)
}

// Claim moves a PENDING job to PROCESSING
func (s *Store) Claim(ctx context.Context, id int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bulk_jobs SET status = $1, started_at = $2, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(StatusProcessing), now, id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return s.transitioned(ctx, result, id, "start")
}

// UpdateProgress stores counters on a PROCESSING job without lowering its percent
func (s *Store) UpdateProgress(ctx context.Context, id int64, processed, total, percent int, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bulk_jobs
		SET processed_files = $1, total_files = $2,
			progress_percent = CASE WHEN progress_percent > $3 THEN progress_percent ELSE $3 END,
			updated_at = $4
		WHERE id = $5 AND status = $6
	`, processed, total, percent, now, id, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to report progress: %w", err)
	}
	return s.transitioned(ctx, result, id, "report progress on")
}

// Finish moves a PROCESSING job to COMPLETED or FAILED
func (s *Store) Finish(ctx context.Context, id int64, status Status, result, message string, now time.Time) error {
	percent := "progress_percent"
	if status == StatusCompleted {
		percent = "100"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE bulk_jobs
		SET status = $1, result = $2, error_message = $3, progress_percent = `+percent+`, completed_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
	`,
		string(status),
		sql.NullString{String: result, Valid: result != ""},
		sql.NullString{String: message, Valid: message != ""},
		now, id, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	action := "complete"
	if status == StatusFailed {
		action = "fail"
	}
	return s.transitioned(ctx, res, id, action)
}

// Cancel moves a PENDING or PROCESSING job to CANCELLED
func (s *Store) Cancel(ctx context.Context, id int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bulk_jobs SET status = $1, completed_at = $2, updated_at = $2 WHERE id = $3 AND status IN ($4, $5)`,
		string(StatusCancelled), now, id, string(StatusPending), string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return s.transitioned(ctx, result, id, "cancel")
}

// FailStale fails PROCESSING jobs not updated since before, returning how many
func (s *Store) FailStale(ctx context.Context, before, now time.Time, message string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bulk_jobs SET status = $1, error_message = $2, completed_at = $3, updated_at = $3
		WHERE status = $4 AND updated_at < $5
	`, string(StatusFailed), message, now, string(StatusProcessing), before)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// PurgeFinished deletes terminal jobs that finished before the cutoff
func (s *Store) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM bulk_jobs
		WHERE status IN ($1, $2, $3) AND completed_at < $4
	`, string(StatusCompleted), string(StatusFailed), string(StatusCancelled), before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
