package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyreel/internal/domain"
)

// AssetRepositoryPG implements domain.AssetRepository using PostgreSQL.
type AssetRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepositoryPG {
	return &AssetRepositoryPG{pool: pool}
}

// Insert persists one asset reference.
func (r *AssetRepositoryPG) Insert(ctx context.Context, asset *domain.Asset) error {
	query := `
INSERT INTO assets (id, project_id, scene_id, job_id, kind, url, format, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		asset.ID,
		asset.ProjectID,
		asset.SceneID,
		asset.JobID,
		asset.Kind,
		asset.URL,
		asset.Format,
		asset.CreatedAt,
	)
	return err
}

// GetForProject fetches an asset scoped by its owning project. An asset that
// exists under another project reads as not found.
func (r *AssetRepositoryPG) GetForProject(ctx context.Context, assetID, projectID string) (*domain.Asset, error) {
	query := `
SELECT id, project_id, scene_id, job_id, kind, url, format, created_at
FROM assets
WHERE id = $1 AND project_id = $2;
`
	row := r.pool.QueryRow(ctx, query, assetID, projectID)
	var asset domain.Asset
	if err := row.Scan(&asset.ID, &asset.ProjectID, &asset.SceneID, &asset.JobID, &asset.Kind, &asset.URL, &asset.Format, &asset.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: asset %s", domain.ErrNotFound, assetID)
		}
		return nil, err
	}
	return &asset, nil
}

// ListByScene returns a scene's assets, oldest first.
func (r *AssetRepositoryPG) ListByScene(ctx context.Context, projectID, sceneID string) ([]domain.Asset, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, project_id, scene_id, job_id, kind, url, format, created_at
FROM assets
WHERE project_id = $1 AND scene_id = $2
ORDER BY created_at ASC;
`, projectID, sceneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		var asset domain.Asset
		if err := rows.Scan(&asset.ID, &asset.ProjectID, &asset.SceneID, &asset.JobID, &asset.Kind, &asset.URL, &asset.Format, &asset.CreatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}

// ListByProject returns every asset recorded under a project, oldest first.
func (r *AssetRepositoryPG) ListByProject(ctx context.Context, projectID string) ([]domain.Asset, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, project_id, scene_id, job_id, kind, url, format, created_at
FROM assets
WHERE project_id = $1
ORDER BY created_at ASC;
`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		var asset domain.Asset
		if err := rows.Scan(&asset.ID, &asset.ProjectID, &asset.SceneID, &asset.JobID, &asset.Kind, &asset.URL, &asset.Format, &asset.CreatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}
