package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyreel/internal/composer"
)

type composeSceneInput struct {
	SceneID      string `json:"scene_id"`
	VideoAssetID string `json:"video_asset_id"`
	AudioAssetID string `json:"audio_asset_id"`
}

type composeRequest struct {
	Scenes            []composeSceneInput `json:"scenes"`
	BackgroundAssetID string              `json:"background_asset_id"`
	Resolution        string              `json:"resolution"`
	Format            string              `json:"format"`
	Priority          *int                `json:"priority"`
}

// ComposeProject assembles the project's scene artifacts into one composite
// render job.
func (a *App) ComposeProject(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	projectID := chi.URLParam(r, "project_id")
	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	scenes := make([]composer.SceneInput, 0, len(req.Scenes))
	for _, s := range req.Scenes {
		scenes = append(scenes, composer.SceneInput{
			SceneID:      s.SceneID,
			VideoAssetID: s.VideoAssetID,
			AudioAssetID: s.AudioAssetID,
		})
	}
	job, err := a.Composer.Assemble(r.Context(), composer.Request{
		ProjectID:         projectID,
		UserID:            userID,
		Scenes:            scenes,
		BackgroundAssetID: req.BackgroundAssetID,
		Resolution:        req.Resolution,
		Format:            req.Format,
		Priority:          req.Priority,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{
		JobID:    job.ID,
		Type:     string(job.Type),
		Status:   string(job.Status),
		Priority: job.Priority,
	})
}

// ProjectArchive streams every asset of the project as one zip download.
func (a *App) ProjectArchive(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	var buf bytes.Buffer
	if err := a.Composer.Archive(r.Context(), projectID, &buf); err != nil {
		a.domainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", projectID+"-assets.zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
