// Package composer assembles per-scene artifacts into one composite render
// job. It resolves asset references, drops the ones that cannot be found,
// and hands the ordered clip lists to the job queue.
package composer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/scheduler"
)

// SceneInput names the artifacts of one scene in final order.
type SceneInput struct {
	SceneID      string
	VideoAssetID string
	AudioAssetID string
}

// Request describes one composition. A nil Priority takes the queue default.
type Request struct {
	ProjectID         string
	UserID            string
	Scenes            []SceneInput
	BackgroundAssetID string
	Resolution        string
	Format            string
	Priority          *int
}

// Enqueuer is the slice of the scheduler the composer needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (*domain.Job, error)
}

// Options configures a Composer.
type Options struct {
	Assets domain.AssetRepository
	Queue  Enqueuer
	Logger *infra.Logger
	// HTTPClient downloads asset bytes when building archives.
	HTTPClient *http.Client
}

// Composer builds composite jobs out of recorded assets.
type Composer struct {
	assets     domain.AssetRepository
	queue      Enqueuer
	logger     infra.Logger
	httpClient *http.Client
}

// New constructs a Composer.
func New(opts Options) (*Composer, error) {
	if opts.Assets == nil {
		return nil, errors.New("composer: asset repository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("composer: queue is required")
	}
	var logger infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = infra.NopLogger()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Composer{assets: opts.Assets, queue: opts.Queue, logger: logger, httpClient: httpClient}, nil
}

// Assemble resolves the referenced assets and enqueues a composite job.
// Asset ids that do not resolve within the project are skipped; a request
// where nothing resolves is rejected.
func (c *Composer) Assemble(ctx context.Context, req Request) (*domain.Job, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is required", domain.ErrValidation)
	}
	if len(req.Scenes) == 0 {
		return nil, fmt.Errorf("%w: at least one scene is required", domain.ErrValidation)
	}

	payload := domain.JobPayload{
		Resolution: req.Resolution,
		Format:     req.Format,
	}
	for _, scene := range req.Scenes {
		payload.SceneIDs = append(payload.SceneIDs, scene.SceneID)
		if url, ok := c.resolve(ctx, scene.VideoAssetID, req.ProjectID); ok {
			payload.VideoURLs = append(payload.VideoURLs, url)
		}
		if url, ok := c.resolve(ctx, scene.AudioAssetID, req.ProjectID); ok {
			payload.AudioURLs = append(payload.AudioURLs, url)
		}
	}
	if url, ok := c.resolve(ctx, req.BackgroundAssetID, req.ProjectID); ok {
		payload.BackgroundURL = url
	}
	if len(payload.VideoURLs) == 0 && len(payload.AudioURLs) == 0 {
		return nil, fmt.Errorf("%w: no scene assets resolved", domain.ErrValidation)
	}

	return c.queue.Enqueue(ctx, scheduler.EnqueueRequest{
		ProjectID: req.ProjectID,
		UserID:    req.UserID,
		Type:      domain.JobTypeComposite,
		Priority:  req.Priority,
		Payload:   payload,
	})
}

// resolve looks an asset up within the project. Missing or foreign assets
// are skipped with a log line rather than failing the whole composition.
func (c *Composer) resolve(ctx context.Context, assetID, projectID string) (string, bool) {
	if assetID == "" {
		return "", false
	}
	asset, err := c.assets.GetForProject(ctx, assetID, projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.logger.Debug().Str("asset_id", assetID).Str("project_id", projectID).Msg("skipping unresolved asset")
		} else {
			c.logger.Warn().Err(err).Str("asset_id", assetID).Msg("asset lookup failed, skipping")
		}
		return "", false
	}
	return asset.URL, true
}
