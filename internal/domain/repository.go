package domain

import (
	"context"
	"encoding/json"
)

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListByProject(ctx context.Context, projectID string) ([]Job, error)
	// MarkActive transitions queued -> active, recording the start time.
	// Returns ErrConflict when the row is no longer queued.
	MarkActive(ctx context.Context, jobID string) error
	// Finish writes a terminal state guarded by the precondition that the
	// current status still permits the transition. A losing concurrent
	// writer receives ErrConflict and must no-op.
	Finish(ctx context.Context, jobID string, status JobStatus, errDetail string, resultJSON json.RawMessage) error
	// Requeue returns a job to the queue for another attempt on the same
	// identity, bumping the attempt counter.
	Requeue(ctx context.Context, jobID string) error
	Counts(ctx context.Context) (map[JobStatus]int, error)
}

// CredentialRepository defines persistence for the credential vault.
// Exactly one row exists per (user, provider); writes upsert.
type CredentialRepository interface {
	Upsert(ctx context.Context, cred *Credential) error
	Get(ctx context.Context, userID, provider string) (*Credential, error)
	Delete(ctx context.Context, userID, provider string) error
	ListProviders(ctx context.Context, userID string) ([]string, error)
}

// AssetRepository handles generated asset references.
type AssetRepository interface {
	Insert(ctx context.Context, asset *Asset) error
	GetForProject(ctx context.Context, assetID, projectID string) (*Asset, error)
	ListByScene(ctx context.Context, projectID, sceneID string) ([]Asset, error)
	ListByProject(ctx context.Context, projectID string) ([]Asset, error)
}
