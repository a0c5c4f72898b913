package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, status, progress, progress_message, entity_id, action, reference_image_url, description, operation_id, metadata, result, error_message, created_at, updated_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	result, err := marshalResult(job.Result)
	if err != nil {
		return err
	}
	query := `
INSERT INTO jobs (id, status, progress, progress_message, entity_id, action, reference_image_url, description, operation_id, metadata, result, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.Progress,
		job.ProgressMessage,
		job.Input.EntityID,
		job.Input.Action,
		job.Input.ReferenceImageURL,
		job.Input.Description,
		nullableString(job.OperationID),
		metadata,
		result,
		job.ErrorMessage,
	)
	return err
}

// Update applies a partial update and returns the resulting row.
func (r *JobRepositoryPG) Update(ctx context.Context, jobID string, upd domain.JobUpdate) (*domain.Job, error) {
	result, err := marshalResult(upd.Result)
	if err != nil {
		return nil, err
	}
	query := `
UPDATE jobs
SET status = COALESCE($2, status),
    progress = COALESCE($3, progress),
    progress_message = COALESCE($4, progress_message),
    operation_id = COALESCE($5, operation_id),
    result = COALESCE($6, result),
    error_message = COALESCE($7, error_message),
    updated_at = NOW()
WHERE id = $1
RETURNING ` + jobColumns + `;
`
	row := r.pool.QueryRow(ctx, query, jobID, upd.Status, upd.Progress, upd.ProgressMessage, upd.OperationID, result, upd.ErrorMessage)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	job, err := scanJob(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByStatus returns all jobs currently in the given status, oldest first.
func (r *JobRepositoryPG) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, query, status)
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

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		operationID *string
		metadata    []byte
		result      []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Progress,
		&job.ProgressMessage,
		&job.Input.EntityID,
		&job.Input.Action,
		&job.Input.ReferenceImageURL,
		&job.Input.Description,
		&operationID,
		&metadata,
		&result,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if operationID != nil {
		job.OperationID = *operationID
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(result) > 0 {
		var res domain.JobResult
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &res
	}
	return &job, nil
}

func marshalResult(res *domain.JobResult) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
