package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

type scriptRequest struct {
	Story string `json:"story"`
}

// GenerateScript turns a story into a structured scene breakdown through
// the user's text provider. The response marks whether the model output
// arrived structured or had to fall back to raw text.
func (a *App) GenerateScript(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Story) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "story is required")
		return
	}
	data, structured, err := a.Script.GenerateStory(r.Context(), userID, req.Story)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"script":     data,
		"structured": structured,
	})
}
