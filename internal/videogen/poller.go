package videogen

import (
	"context"
	"fmt"
	"time"

	"server/internal/domain"
)

const (
	// pollCeiling bounds how long transient poll failures are absorbed before
	// the job is given up on. It is this subsystem's own policy for ceasing to
	// poll, not a cancellation signal to the provider.
	pollCeiling = 15 * time.Minute

	// expectedGenerationTime anchors the heuristic progress estimate.
	expectedGenerationTime = 2 * time.Minute

	progressFloor = 10
	progressSpan  = 45 // approaches but never reaches progressFloor+progressSpan
)

// Advance moves one asynchronous job a single step toward a terminal state:
// one status round trip, plus the artifact download on the success path.
// Invoking it on a terminal job is an idempotent no-op. Transient poll
// failures leave the job unchanged until the poll ceiling is exceeded.
func (s *Service) Advance(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	if !s.tryAcquire(job.ID) {
		// Another goroutine in this process is already advancing this job.
		return job, nil
	}
	defer s.release(job.ID)

	if job.OperationID == "" {
		return s.fail(ctx, job.ID, "job may not have started correctly: no operation id")
	}

	status, err := s.google.Operation(ctx, job.OperationID)
	if err != nil {
		if s.now().Sub(job.CreatedAt) > pollCeiling {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("videogen: poll ceiling exceeded")
			return s.fail(ctx, job.ID, fmt.Sprintf("timed out waiting for provider after %s", pollCeiling))
		}
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("videogen: transient poll failure, will retry")
		return job, nil
	}

	if !status.Done {
		return s.recordProgress(ctx, job)
	}

	if status.ErrorMessage != "" {
		return s.fail(ctx, job.ID, status.ErrorMessage)
	}

	if status.VideoURL == "" {
		return s.fail(ctx, job.ID, "generation completed but no artifact location returned")
	}

	data, err := s.google.Download(ctx, status.VideoURL)
	if err != nil {
		return s.fail(ctx, job.ID, fmt.Sprintf("artifact download failed: %v", err))
	}
	if len(data) == 0 {
		return s.fail(ctx, job.ID, "artifact download returned an empty file")
	}

	storedURL, err := s.persistArtifact(ctx, job.ID, data)
	if err != nil {
		return s.fail(ctx, job.ID, fmt.Sprintf("artifact store failed: %v", err))
	}

	return s.complete(ctx, job, storedURL)
}

// AdvanceSummary reports one batch advance pass.
type AdvanceSummary struct {
	Advanced   int `json:"advanced"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Processing int `json:"processing"`
}

// AdvanceAll advances every currently-processing job once, for periodic
// external scheduling. Jobs are walked in store order; no fairness or
// ordering guarantee exists between jobs.
func (s *Service) AdvanceAll(ctx context.Context) (AdvanceSummary, error) {
	jobs, err := s.repo.ListByStatus(ctx, domain.JobStatusProcessing)
	if err != nil {
		return AdvanceSummary{}, err
	}

	var summary AdvanceSummary
	for i := range jobs {
		job, err := s.Advance(ctx, jobs[i].ID)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobs[i].ID).Msg("videogen: advance failed")
			continue
		}
		summary.Advanced++
		switch job.Status {
		case domain.JobStatusCompleted:
			summary.Completed++
		case domain.JobStatusFailed:
			summary.Failed++
		default:
			summary.Processing++
		}
	}
	return summary, nil
}

// recordProgress applies the heuristic time-based estimate: a curve rising
// from the floor toward (but never reaching) the cap as elapsed time passes
// the nominal generation window. Deliberately approximate; the provider
// reports no real progress. Monotonic via max with the stored value.
func (s *Service) recordProgress(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	elapsed := s.now().Sub(job.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	estimate := progressFloor + int(float64(progressSpan)*elapsed.Seconds()/(elapsed.Seconds()+expectedGenerationTime.Seconds()))
	if estimate < job.Progress {
		estimate = job.Progress
	}

	message := "provider is rendering the clip"
	updated, err := s.repo.Update(ctx, job.ID, domain.JobUpdate{
		Progress:        &estimate,
		ProgressMessage: &message,
	})
	if err != nil {
		return nil, fmt.Errorf("record progress: %w", err)
	}
	return updated, nil
}

// fail transitions a job to its failed terminal state, capturing the reason.
// Errors after a job exists are never thrown past this boundary.
func (s *Service) fail(ctx context.Context, jobID, message string) (*domain.Job, error) {
	status := domain.JobStatusFailed
	progressMessage := "generation failed"
	updated, err := s.repo.Update(ctx, jobID, domain.JobUpdate{
		Status:          &status,
		ProgressMessage: &progressMessage,
		ErrorMessage:    &message,
	})
	if err != nil {
		return nil, fmt.Errorf("mark job failed: %w", err)
	}
	s.logger.Error().Str("job_id", jobID).Str("reason", message).Msg("videogen: job failed")
	return updated, nil
}

func (s *Service) complete(ctx context.Context, job *domain.Job, videoURL string) (*domain.Job, error) {
	status := domain.JobStatusCompleted
	progress := 100
	message := "clip ready"
	updated, err := s.repo.Update(ctx, job.ID, domain.JobUpdate{
		Status:          &status,
		Progress:        &progress,
		ProgressMessage: &message,
		Result: &domain.JobResult{
			VideoURL:        videoURL,
			DurationSeconds: job.Metadata.DurationSeconds,
			FrameRate:       defaultFrameRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mark job completed: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("video_url", videoURL).Msg("videogen: job completed")
	return updated, nil
}
