package domain

import (
	"encoding/json"
	"time"
)

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeImage     JobType = "image"
	JobTypeVideo     JobType = "video"
	JobTypeVoice     JobType = "voice"
	JobTypeMusic     JobType = "music"
	JobTypeComposite JobType = "composite"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// DefaultPriority is assigned when the caller does not supply one.
// Lower values dispatch first.
const DefaultPriority = 50

// Job encapsulates the lifecycle of one generation request.
type Job struct {
	ID          string
	ProjectID   string
	UserID      string
	Type        JobType
	Status      JobStatus
	Priority    int
	Sequence    uint64
	Attempts    int
	Provider    string
	PayloadJSON json.RawMessage
	ResultJSON  json.RawMessage
	ErrorDetail string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Cancellation out of active is decided separately by the scheduler,
// which knows whether the in-flight call is cooperative.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusActive || next == JobStatusCancelled
	case JobStatusActive:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

// JobPayload carries the type-specific inputs supplied at admission.
type JobPayload struct {
	SceneID        string   `json:"scene_id,omitempty"`
	SceneIDs       []string `json:"scene_ids,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Text           string   `json:"text,omitempty"`
	VoiceID        string   `json:"voice_id,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	Duration       int      `json:"duration,omitempty"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	Seed           int64    `json:"seed,omitempty"`
	Steps          int      `json:"steps,omitempty"`
	VideoURLs      []string `json:"video_urls,omitempty"`
	AudioURLs      []string `json:"audio_urls,omitempty"`
	BackgroundURL  string   `json:"background_url,omitempty"`
	Resolution     string   `json:"resolution,omitempty"`
	Format         string   `json:"format,omitempty"`
}

// Validate checks the per-type required fields at admission time.
// It rejects on the first missing field.
func (p *JobPayload) Validate(t JobType) error {
	switch t {
	case JobTypeImage:
		if p.SceneID == "" {
			return requiredField("scene_id")
		}
		if p.Prompt == "" {
			return requiredField("prompt")
		}
	case JobTypeVideo:
		if p.SceneID == "" {
			return requiredField("scene_id")
		}
		if p.ImageURL == "" {
			return requiredField("image_url")
		}
	case JobTypeVoice:
		if p.SceneID == "" {
			return requiredField("scene_id")
		}
		if p.Text == "" {
			return requiredField("text")
		}
		if p.VoiceID == "" {
			return requiredField("voice_id")
		}
	case JobTypeMusic:
		if p.Prompt == "" {
			return requiredField("prompt")
		}
		if p.Duration <= 0 {
			return requiredField("duration")
		}
	case JobTypeComposite:
		if len(p.SceneIDs) == 0 {
			return requiredField("scene_ids")
		}
	default:
		return unknownJobType(string(t))
	}
	return nil
}

// JobResult is the normalized outcome persisted on completion.
type JobResult struct {
	URL       string `json:"url"`
	SourceURL string `json:"source_url,omitempty"`
	RemoteID  string `json:"remote_id,omitempty"`
	Format    string `json:"format,omitempty"`
}

// QueueStats aggregates queue counts for the status endpoint.
type QueueStats struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Cancelled int  `json:"cancelled"`
	IsPaused  bool `json:"is_paused"`
}
