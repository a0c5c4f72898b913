package videogen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/providers/video"
)

// StartRequest is the caller's request to generate a clip.
type StartRequest struct {
	EntityID          string
	Action            string
	ReferenceImageURL string
	Description       string
	Model             string
	DurationSeconds   int
	Resolution        string
	AspectRatio       string
	NegativePrompt    string
}

// StartResult reports the accepted (or immediately failed) job. Duplicate
// means no new job was created and Job references the in-flight one.
type StartResult struct {
	Job       *domain.Job
	Duplicate bool
}

// Start runs the dispatch sequence: validate, normalize, check credentials,
// duplicate guard, spending gate, fetch the reference asset, then invoke the
// provider adapter. Errors before a job exists surface to the caller with no
// durable trace; an adapter failure instead creates the job directly in
// failed status.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	input, spec, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	metadata := NormalizeParams(spec, req.DurationSeconds, req.Resolution, req.AspectRatio)

	if !s.adapterConfigured(spec.Provider) {
		return nil, fmt.Errorf("%w: no credentials for provider %q", domain.ErrProviderNotConfigured, spec.Provider)
	}

	if existing, err := s.findDuplicate(ctx, input.EntityID, input.Action); err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	} else if existing != nil {
		s.logger.Info().
			Str("job_id", existing.ID).
			Str("entity_id", input.EntityID).
			Str("action", string(input.Action)).
			Msg("videogen: duplicate request, returning in-flight job")
		return &StartResult{Job: existing, Duplicate: true}, nil
	}

	decision, err := s.gate.CanStart(ctx)
	if err != nil {
		return nil, fmt.Errorf("spending gate: %w", err)
	}
	if !decision.Allowed {
		return nil, &domain.QuotaExceededError{Remaining: decision.Remaining, Reason: decision.Reason}
	}

	imageData, imageMIME, err := s.fetchReferenceImage(ctx, input.ReferenceImageURL)
	if err != nil {
		return nil, err
	}

	submit := video.SubmitRequest{
		Model:           spec.ID,
		Prompt:          buildPrompt(input),
		NegativePrompt:  req.NegativePrompt,
		ImageData:       imageData,
		ImageMIME:       imageMIME,
		DurationSeconds: metadata.DurationSeconds,
		Resolution:      metadata.Resolution,
		AspectRatio:     metadata.AspectRatio,
	}

	jobID := uuid.NewString()
	switch spec.Provider {
	case ProviderReplicate:
		return s.startSync(ctx, jobID, input, metadata, submit)
	default:
		return s.startAsync(ctx, jobID, input, metadata, submit)
	}
}

// startSync drives the synchronous provider: the submit call blocks until the
// artifact is ready, so the job is persisted already terminal and no caller
// ever observes it processing.
func (s *Service) startSync(ctx context.Context, jobID string, input domain.JobInput, metadata domain.JobMetadata, submit video.SubmitRequest) (*StartResult, error) {
	videoURL, err := s.replicate.Submit(ctx, submit)
	if err != nil {
		return s.createFailedJob(ctx, jobID, input, metadata, fmt.Sprintf("provider submission failed: %v", err))
	}
	s.recordUsage(ctx, jobID)

	data, err := s.replicate.Download(ctx, videoURL)
	if err != nil || len(data) == 0 {
		if err == nil {
			err = fmt.Errorf("empty artifact")
		}
		return s.createFailedJob(ctx, jobID, input, metadata, fmt.Sprintf("artifact download failed: %v", err))
	}

	storedURL, err := s.persistArtifact(ctx, jobID, data)
	if err != nil {
		return s.createFailedJob(ctx, jobID, input, metadata, fmt.Sprintf("artifact store failed: %v", err))
	}

	job := &domain.Job{
		ID:              jobID,
		Status:          domain.JobStatusCompleted,
		Progress:        100,
		ProgressMessage: "clip ready",
		Input:           input,
		Metadata:        metadata,
		Result: &domain.JobResult{
			VideoURL:        storedURL,
			DurationSeconds: metadata.DurationSeconds,
			FrameRate:       defaultFrameRate,
		},
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info().Str("job_id", jobID).Str("model", metadata.Model).Msg("videogen: synchronous job completed")
	return &StartResult{Job: job}, nil
}

// startAsync drives the asynchronous provider: obtain the operation handle,
// write the backup record, then persist the job in processing status. The
// backup write happens strictly before job creation so a crash in between
// leaves a recoverable trace.
func (s *Service) startAsync(ctx context.Context, jobID string, input domain.JobInput, metadata domain.JobMetadata, submit video.SubmitRequest) (*StartResult, error) {
	operationID, err := s.google.Submit(ctx, submit)
	if err != nil {
		return s.createFailedJob(ctx, jobID, input, metadata, fmt.Sprintf("provider submission failed: %v", err))
	}

	s.backups.Write(ctx, domain.BackupRecord{
		OperationID:       operationID,
		JobID:             jobID,
		EntityID:          input.EntityID,
		Action:            input.Action,
		ReferenceImageURL: input.ReferenceImageURL,
	})
	s.recordUsage(ctx, jobID)

	job := &domain.Job{
		ID:              jobID,
		Status:          domain.JobStatusProcessing,
		Progress:        10,
		ProgressMessage: "generation submitted",
		Input:           input,
		OperationID:     operationID,
		Metadata:        metadata,
		CreatedAt:       s.now(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		// The backup record alone is enough to reconstruct intent.
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info().
		Str("job_id", jobID).
		Str("operation_id", operationID).
		Str("model", metadata.Model).
		Msg("videogen: asynchronous job submitted")
	return &StartResult{Job: job}, nil
}

func (s *Service) validate(req StartRequest) (domain.JobInput, ModelSpec, error) {
	if strings.TrimSpace(req.EntityID) == "" {
		return domain.JobInput{}, ModelSpec{}, fmt.Errorf("%w: entity_id is required", domain.ErrInvalidInput)
	}
	action := domain.Action(strings.TrimSpace(req.Action))
	if !action.Valid() {
		return domain.JobInput{}, ModelSpec{}, fmt.Errorf("%w: unsupported action %q", domain.ErrInvalidInput, req.Action)
	}
	if strings.TrimSpace(req.ReferenceImageURL) == "" {
		return domain.JobInput{}, ModelSpec{}, fmt.Errorf("%w: reference_image_url is required", domain.ErrInvalidInput)
	}

	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = s.defaultModel
	}
	spec, ok := ResolveModel(modelID)
	if !ok {
		return domain.JobInput{}, ModelSpec{}, fmt.Errorf("%w: unsupported model %q", domain.ErrInvalidInput, modelID)
	}

	return domain.JobInput{
		EntityID:          strings.TrimSpace(req.EntityID),
		Action:            action,
		ReferenceImageURL: strings.TrimSpace(req.ReferenceImageURL),
		Description:       strings.TrimSpace(req.Description),
	}, spec, nil
}

func (s *Service) adapterConfigured(provider Provider) bool {
	switch provider {
	case ProviderReplicate:
		return s.replicate != nil && s.replicate.Configured()
	default:
		return s.google != nil && s.google.Configured()
	}
}

// createFailedJob persists a job directly in failed status after the provider
// rejected or botched the submission, so the caller still gets a trackable id.
func (s *Service) createFailedJob(ctx context.Context, jobID string, input domain.JobInput, metadata domain.JobMetadata, message string) (*StartResult, error) {
	job := &domain.Job{
		ID:           jobID,
		Status:       domain.JobStatusFailed,
		Input:        input,
		Metadata:     metadata,
		ErrorMessage: message,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create failed job: %w", err)
	}
	s.logger.Error().Str("job_id", jobID).Str("model", metadata.Model).Msg("videogen: " + message)
	return &StartResult{Job: job}, nil
}

// recordUsage must run exactly once per successful provider submission; an
// accounting failure is logged but never fails the job.
func (s *Service) recordUsage(ctx context.Context, jobID string) {
	if err := s.gate.RecordUsage(ctx); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("videogen: failed to record usage")
	}
}

// fetchReferenceImage downloads and buffers the reference asset before any
// provider call is made.
func (s *Service) fetchReferenceImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrAssetFetch, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrAssetFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("%w: status %d", domain.ErrAssetFetch, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrAssetFetch, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty body", domain.ErrAssetFetch)
	}

	mime := resp.Header.Get("Content-Type")
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = mime[:idx]
	}
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" {
		mime = mimeFromURL(rawURL)
	}
	return data, mime, nil
}

func mimeFromURL(rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, ".jpg"), strings.Contains(lower, ".jpeg"):
		return "image/jpeg"
	case strings.Contains(lower, ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}

var actionPrompts = map[domain.Action]string{
	domain.ActionBite:      "biting toward the camera",
	domain.ActionEat:       "happily eating",
	domain.ActionIdle:      "idling and looking around",
	domain.ActionCelebrate: "celebrating with excitement",
	domain.ActionSleep:     "curling up and falling asleep",
}

func buildPrompt(input domain.JobInput) string {
	var b strings.Builder
	b.WriteString("The character from the reference image ")
	b.WriteString(actionPrompts[input.Action])
	b.WriteString(". Keep the character's appearance identical to the reference image. Plain solid green background.")
	if input.Description != "" {
		b.WriteString(" ")
		b.WriteString(input.Description)
	}
	return b.String()
}

// persistArtifact uploads the downloaded clip to durable storage and returns
// its public URL.
func (s *Service) persistArtifact(ctx context.Context, jobID string, data []byte) (string, error) {
	key := fmt.Sprintf("generated/videos/%s/clip.mp4", jobID)
	savedKey, err := s.store.Put(ctx, key, data, "video/mp4")
	if err != nil {
		return "", err
	}
	return s.store.URL(savedKey), nil
}

const defaultFrameRate = 24
