package videogen

import (
	"context"

	"server/internal/domain"
)

// findDuplicate scans current processing jobs for one with the same
// (entity id, action) pair. This is a point-in-time snapshot with no
// transactional isolation from a concurrent start: two near-simultaneous
// starts can both pass. That is a documented correctness boundary; hard
// exclusion would belong in a conditional update on the job row, not in more
// in-memory locking.
func (s *Service) findDuplicate(ctx context.Context, entityID string, action domain.Action) (*domain.Job, error) {
	jobs, err := s.repo.ListByStatus(ctx, domain.JobStatusProcessing)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].Input.EntityID == entityID && jobs[i].Input.Action == action {
			return &jobs[i], nil
		}
	}
	return nil, nil
}
