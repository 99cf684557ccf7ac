package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyreel/internal/domain"
	"storyreel/internal/middleware"
	"storyreel/internal/scheduler"
)

type enqueueJobRequest struct {
	ProjectID string            `json:"project_id"`
	Type      domain.JobType    `json:"type"`
	Priority  *int              `json:"priority"`
	Payload   domain.JobPayload `json:"payload"`
}

type jobResponse struct {
	JobID    string `json:"job_id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// EnqueueJob admits a generation job and returns its identity immediately;
// the work itself runs asynchronously.
func (a *App) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req enqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Queue.Enqueue(r.Context(), scheduler.EnqueueRequest{
		ProjectID: req.ProjectID,
		UserID:    userID,
		Type:      req.Type,
		Priority:  req.Priority,
		Payload:   req.Payload,
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

// JobStatus returns the current snapshot of one job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Queue.Status(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, jobView(job))
}

// ProjectJobs lists a project's jobs, newest first.
func (a *App) ProjectJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	projectID := chi.URLParam(r, "project_id")
	jobs, err := a.Queue.ProjectJobs(r.Context(), projectID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(jobs))
	for i := range jobs {
		if jobs[i].UserID != userID {
			continue
		}
		views = append(views, jobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views})
}

// CancelJob cancels a queued job, or an active one when the provider call
// is interruptible.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Queue.Status(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err := a.Queue.Cancel(r.Context(), jobID); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(domain.JobStatusCancelled)})
}

// QueueStats reports aggregate queue counts.
func (a *App) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Queue.Stats(r.Context())
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, stats)
}

// PauseQueue stops dispatch of new jobs.
func (a *App) PauseQueue(w http.ResponseWriter, r *http.Request) {
	a.Queue.Pause()
	a.json(w, http.StatusOK, map[string]bool{"is_paused": true})
}

// ResumeQueue restarts dispatch.
func (a *App) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	a.Queue.Resume()
	a.json(w, http.StatusOK, map[string]bool{"is_paused": false})
}

func jobView(job *domain.Job) map[string]any {
	view := map[string]any{
		"id":         job.ID,
		"project_id": job.ProjectID,
		"type":       job.Type,
		"status":     job.Status,
		"priority":   job.Priority,
		"attempts":   job.Attempts,
		"created_at": job.CreatedAt,
	}
	if job.Provider != "" {
		view["provider"] = job.Provider
	}
	if job.ErrorDetail != "" {
		view["error"] = job.ErrorDetail
	}
	if len(job.ResultJSON) > 0 {
		view["result"] = json.RawMessage(job.ResultJSON)
	}
	if job.StartedAt != nil {
		view["started_at"] = job.StartedAt
	}
	if job.CompletedAt != nil {
		view["completed_at"] = job.CompletedAt
	}
	return view
}
