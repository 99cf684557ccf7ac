package domain

import "time"

// AssetKind distinguishes stored media categories.
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
	AssetKindAudio AssetKind = "audio"
)

// Asset references a persisted media object produced by a job. Storage
// lifecycle is owned outside the orchestration core; only the reference is
// written here.
type Asset struct {
	ID        string
	ProjectID string
	SceneID   string
	JobID     string
	Kind      AssetKind
	URL       string
	Format    string
	CreatedAt time.Time
}
