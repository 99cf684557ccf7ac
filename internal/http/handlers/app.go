package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"storyreel/internal/composer"
	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/providers"
	"storyreel/internal/scheduler"
	"storyreel/internal/vault"
)

// Queue is the slice of the scheduler the API needs.
type Queue interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Status(ctx context.Context, jobID string) (*domain.Job, error)
	ProjectJobs(ctx context.Context, projectID string) ([]domain.Job, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	Pause()
	Resume()
}

// Assembler builds composite jobs out of recorded scene assets and bundles
// finished artifacts for download.
type Assembler interface {
	Assemble(ctx context.Context, req composer.Request) (*domain.Job, error)
	Archive(ctx context.Context, projectID string, w io.Writer) error
}

// ScriptWriter turns a story into structured scene data.
type ScriptWriter interface {
	GenerateStory(ctx context.Context, userID, story string) (map[string]any, bool, error)
}

// App bundles the API dependencies shared across handlers.
type App struct {
	Queue    Queue
	Vault    *vault.Vault
	Registry *providers.Registry
	Composer Assembler
	Script   ScriptWriter
	// OAuth maps provider id to the application's OAuth2 client config.
	OAuth  map[string]*oauth2.Config
	Logger infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

// domainError maps the error taxonomy onto HTTP responses.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrAuth):
		a.error(w, http.StatusUnauthorized, "auth", err.Error())
	case errors.Is(err, domain.ErrNoProvider):
		a.error(w, http.StatusServiceUnavailable, "no_provider", err.Error())
	case errors.Is(err, domain.ErrTimeout):
		a.error(w, http.StatusGatewayTimeout, "timeout", err.Error())
	case errors.Is(err, domain.ErrUpstream):
		a.error(w, http.StatusBadGateway, "upstream", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
