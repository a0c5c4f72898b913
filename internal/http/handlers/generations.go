package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/videogen"
)

type generateRequest struct {
	EntityID          string `json:"entity_id"`
	Action            string `json:"action"`
	ReferenceImageURL string `json:"reference_image_url"`
	Description       string `json:"description"`
	Model             string `json:"model"`
	DurationSeconds   int    `json:"duration_seconds"`
	Resolution        string `json:"resolution"`
	AspectRatio       string `json:"aspect_ratio"`
	NegativePrompt    string `json:"negative_prompt"`
}

// GenerationStart accepts a generation request and dispatches a job.
func (a *App) GenerationStart(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	result, err := a.Service.Start(r.Context(), videogen.StartRequest{
		EntityID:          req.EntityID,
		Action:            req.Action,
		ReferenceImageURL: req.ReferenceImageURL,
		Description:       req.Description,
		Model:             req.Model,
		DurationSeconds:   req.DurationSeconds,
		Resolution:        req.Resolution,
		AspectRatio:       req.AspectRatio,
		NegativePrompt:    req.NegativePrompt,
	})
	if err != nil {
		a.renderStartError(w, err)
		return
	}

	if result.Job.Status == domain.JobStatusFailed {
		a.json(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"job_id":  result.Job.ID,
			"error":   result.Job.ErrorMessage,
		})
		return
	}

	message := "generation started"
	if result.Duplicate {
		message = "a generation for this entity and action is already in flight"
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"job_id":    result.Job.ID,
		"status":    result.Job.Status,
		"duplicate": result.Duplicate,
		"message":   message,
	})
}

func (a *App) renderStartError(w http.ResponseWriter, err error) {
	var quota *domain.QuotaExceededError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrProviderNotConfigured):
		a.error(w, http.StatusInternalServerError, "provider_not_configured", err.Error())
	case errors.As(err, &quota):
		a.json(w, http.StatusTooManyRequests, map[string]any{
			"error":     "quota_exceeded",
			"message":   quota.Error(),
			"remaining": quota.Remaining,
		})
	case errors.Is(err, domain.ErrAssetFetch):
		a.error(w, http.StatusBadGateway, "asset_fetch_failed", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: generation start failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start generation")
	}
}

// GenerationStatus returns a job's current state. With ?advance=true it also
// triggers one advance step inline before responding.
func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	var (
		job *domain.Job
		err error
	)
	if r.URL.Query().Get("advance") == "true" {
		job, err = a.Service.Advance(r.Context(), jobID)
	} else {
		job, err = a.Jobs.GetByID(r.Context(), jobID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: failed to load job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, jobPayload(job))
}

// GenerationList returns jobs in a given status (default processing).
func (a *App) GenerationList(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.JobStatusProcessing
	}
	switch status {
	case domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported status")
		return
	}

	jobs, err := a.Jobs.ListByStatus(r.Context(), status)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: failed to list jobs")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	items := make([]map[string]any, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobPayload(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// GenerationAdvanceAll advances every currently-processing job once. Meant to
// be hit by a periodic external scheduler.
func (a *App) GenerationAdvanceAll(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Service.AdvanceAll(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: batch advance failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to advance jobs")
		return
	}
	a.json(w, http.StatusOK, summary)
}

func jobPayload(job *domain.Job) map[string]any {
	payload := map[string]any{
		"id":               job.ID,
		"status":           job.Status,
		"progress":         job.Progress,
		"progress_message": job.ProgressMessage,
		"input":            job.Input,
		"metadata":         job.Metadata,
		"created_at":       job.CreatedAt.Format(time.RFC3339),
		"updated_at":       job.UpdatedAt.Format(time.RFC3339),
	}
	if job.OperationID != "" {
		payload["operation_id"] = job.OperationID
	}
	if job.Result != nil {
		payload["result"] = job.Result
	}
	if job.ErrorMessage != "" {
		payload["error"] = job.ErrorMessage
	}
	return payload
}
