package domain

import "time"

// JobStatus enumerates job lifecycle states. Transitions are one-directional:
// processing -> completed or processing -> failed, never back.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition can occur from this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Action enumerates the supported clip actions.
type Action string

const (
	ActionBite      Action = "bite"
	ActionEat       Action = "eat"
	ActionIdle      Action = "idle"
	ActionCelebrate Action = "celebrate"
	ActionSleep     Action = "sleep"
)

// Valid reports whether the action is part of the supported set.
func (a Action) Valid() bool {
	switch a {
	case ActionBite, ActionEat, ActionIdle, ActionCelebrate, ActionSleep:
		return true
	}
	return false
}

// JobInput is the immutable request that created a job.
type JobInput struct {
	EntityID          string `json:"entity_id"`
	Action            Action `json:"action"`
	ReferenceImageURL string `json:"reference_image_url"`
	Description       string `json:"description,omitempty"`
}

// JobMetadata records the resolved generation parameters actually sent to the
// provider. Fixed once the job is created.
type JobMetadata struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	DurationSeconds int    `json:"duration_seconds"`
	Resolution      string `json:"resolution"`
	AspectRatio     string `json:"aspect_ratio"`
}

// JobResult is present only once a job is completed.
type JobResult struct {
	VideoURL        string `json:"video_url"`
	DurationSeconds int    `json:"duration_seconds"`
	FrameRate       int    `json:"frame_rate"`
}

// Job tracks one generation request from submission to terminal outcome.
type Job struct {
	ID              string
	Status          JobStatus
	Progress        int
	ProgressMessage string
	Input           JobInput
	OperationID     string
	Metadata        JobMetadata
	Result          *JobResult
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobUpdate carries a partial update; nil fields are left untouched.
type JobUpdate struct {
	Status          *JobStatus
	Progress        *int
	ProgressMessage *string
	OperationID     *string
	Result          *JobResult
	ErrorMessage    *string
}

// BackupRecord is the write-ahead copy of a provider operation handle,
// persisted before the job record so a crash between the two writes still
// leaves a recoverable trace. Never read by the happy path.
type BackupRecord struct {
	OperationID       string    `json:"operation_id"`
	JobID             string    `json:"job_id"`
	EntityID          string    `json:"entity_id"`
	Action            Action    `json:"action"`
	ReferenceImageURL string    `json:"reference_image_url"`
	Timestamp         time.Time `json:"timestamp"`
	Recovered         bool      `json:"recovered"`
}
