package domain

import "context"

// JobRepository defines persistence for job entities. Implementations must
// apply updates atomically; callers never hold a lock across store calls.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, jobID string, upd JobUpdate) (*Job, error)
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListByStatus(ctx context.Context, status JobStatus) ([]Job, error)
}
