package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyreel/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, project_id, user_id, type, status, priority, sequence, attempts, provider, payload_json, error_detail, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.ProjectID,
		job.UserID,
		job.Type,
		job.Status,
		job.Priority,
		job.Sequence,
		job.Attempts,
		job.Provider,
		job.PayloadJSON,
		job.ErrorDetail,
		job.CreatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := selectJob + `WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// ListByProject returns a project's jobs, newest first.
func (r *JobRepositoryPG) ListByProject(ctx context.Context, projectID string) ([]domain.Job, error) {
	query := selectJob + `WHERE project_id = $1 ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkActive transitions queued -> active. The status precondition in the
// WHERE clause makes the transition a compare-and-set: a row that already
// moved on yields zero affected rows and ErrConflict.
func (r *JobRepositoryPG) MarkActive(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = $2,
    started_at = NOW()
WHERE id = $1 AND status = $3;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusActive, domain.JobStatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, jobID)
	}
	return nil
}

// Finish writes a terminal state. The legal source states are encoded in
// the WHERE clause so concurrent terminal writers race on the database row
// and exactly one wins; the loser gets ErrConflict.
func (r *JobRepositoryPG) Finish(ctx context.Context, jobID string, status domain.JobStatus, errDetail string, resultJSON json.RawMessage) error {
	query := `
UPDATE jobs
SET status = $2,
    error_detail = $3,
    result_json = COALESCE($4, result_json),
    completed_at = NOW()
WHERE id = $1 AND status = ANY($5);
`
	sources := legalSources(status)
	tag, err := r.pool.Exec(ctx, query, jobID, status, errDetail, nullableBytes(resultJSON), sources)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, jobID)
	}
	return nil
}

// Requeue returns a job to the queue for another attempt, keeping its
// identity and bumping the attempt counter.
func (r *JobRepositoryPG) Requeue(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = $2,
    attempts = attempts + 1,
    started_at = NULL
WHERE id = $1 AND status = $3;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusQueued, domain.JobStatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, jobID)
	}
	return nil
}

// ClaimOrphans returns jobs left active by a crashed worker to the queue
// and reports them so the in-memory lanes can be refilled. SKIP LOCKED
// keeps concurrent recoverers from fighting over the same rows.
func (r *JobRepositoryPG) ClaimOrphans(ctx context.Context, limit int) ([]domain.Job, error) {
	query := `
UPDATE jobs
SET status = $1,
    attempts = attempts + 1,
    started_at = NULL
WHERE id IN (
    SELECT id FROM jobs
    WHERE status = $2
    ORDER BY created_at
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING id, project_id, user_id, type, status, priority, sequence, attempts, provider, payload_json, result_json, error_detail, created_at, started_at, completed_at;
`
	rows, err := r.pool.Query(ctx, query, domain.JobStatusQueued, domain.JobStatusActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListQueued returns waiting jobs in dispatch order, for refilling the
// in-memory lanes at startup.
func (r *JobRepositoryPG) ListQueued(ctx context.Context) ([]domain.Job, error) {
	query := selectJob + `WHERE status = $1 ORDER BY priority, sequence;`
	rows, err := r.pool.Query(ctx, query, domain.JobStatusQueued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Counts aggregates jobs per status.
func (r *JobRepositoryPG) Counts(ctx context.Context) (map[domain.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM jobs GROUP BY status;`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// conflictOrMissing distinguishes a lost compare-and-set from a row that
// never existed.
func (r *JobRepositoryPG) conflictOrMissing(ctx context.Context, jobID string) error {
	var status domain.JobStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job is %s", domain.ErrConflict, status)
}

func legalSources(status domain.JobStatus) []string {
	switch status {
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		return []string{string(domain.JobStatusActive)}
	case domain.JobStatusCancelled:
		return []string{string(domain.JobStatusQueued), string(domain.JobStatusActive)}
	}
	return nil
}

const selectJob = `
SELECT id, project_id, user_id, type, status, priority, sequence, attempts, provider, payload_json, result_json, error_detail, created_at, started_at, completed_at
FROM jobs
`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&job.UserID,
		&job.Type,
		&job.Status,
		&job.Priority,
		&job.Sequence,
		&job.Attempts,
		&job.Provider,
		&job.PayloadJSON,
		&job.ResultJSON,
		&job.ErrorDetail,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
