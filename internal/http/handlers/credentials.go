package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storyreel/internal/domain"
	"storyreel/internal/vault"
)

type saveCredentialRequest struct {
	AuthMode domain.AuthMode   `json:"auth_mode"`
	Secret   string            `json:"secret"`
	Config   map[string]string `json:"config"`
}

// SaveCredential stores or replaces an API-key credential for the provider.
// OAuth credentials go through the authorization flow instead.
func (a *App) SaveCredential(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	provider := chi.URLParam(r, "provider")
	var req saveCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.AuthMode == "" {
		req.AuthMode = domain.AuthModeAPIKey
	}
	if req.AuthMode != domain.AuthModeAPIKey {
		a.error(w, http.StatusBadRequest, "bad_request", "only api_key credentials can be saved directly")
		return
	}
	err := a.Vault.Save(r.Context(), userID, provider, vault.SaveRequest{
		Mode:   req.AuthMode,
		Secret: req.Secret,
		Config: req.Config,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"provider": provider, "auth_mode": string(req.AuthMode)})
}

// CredentialInfo reports whether a credential exists and its shape. Secret
// material never leaves the vault.
func (a *App) CredentialInfo(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	provider := chi.URLParam(r, "provider")
	material, err := a.Vault.Get(r.Context(), userID, provider)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"provider":       material.Provider,
		"auth_mode":      material.Mode,
		"local_endpoint": material.LocalEndpoint,
		"config":         material.Config,
	})
}

// DeleteCredential removes the stored credential. Removing an absent
// credential succeeds.
func (a *App) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	provider := chi.URLParam(r, "provider")
	if err := a.Vault.Remove(r.Context(), userID, provider); err != nil {
		a.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCredentials names the providers the user holds credentials for.
func (a *App) ListCredentials(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	providerIDs, err := a.Vault.ListProviders(r.Context(), userID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"providers": providerIDs})
}

const oauthStateCookie = "oauth_state"

// StartOAuth begins the authorization-code flow for an OAuth provider. The
// state token rides in a short-lived cookie and must round-trip unchanged.
func (a *App) StartOAuth(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	provider := chi.URLParam(r, "provider")
	conf, ok := a.OAuth[provider]
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "provider does not support oauth")
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state + ":" + provider,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	a.json(w, http.StatusOK, map[string]string{
		"provider":  provider,
		"authorize": conf.AuthCodeURL(state),
	})
}

// OAuthCallback completes the flow: the state must match the cookie exactly,
// then the code is exchanged and the tokens land in the vault.
func (a *App) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		a.error(w, http.StatusBadRequest, "oauth_state", "missing state cookie")
		return
	}
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		a.error(w, http.StatusBadRequest, "oauth_state", "state and code are required")
		return
	}
	cookieState, provider, ok := strings.Cut(cookie.Value, ":")
	if !ok || cookieState != state {
		a.error(w, http.StatusBadRequest, "oauth_state", "state mismatch")
		return
	}
	conf, ok := a.OAuth[provider]
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "provider does not support oauth")
		return
	}

	token, err := conf.Exchange(r.Context(), code)
	if err != nil {
		a.Logger.Warn().Err(err).Str("provider", provider).Msg("oauth code exchange failed")
		a.error(w, http.StatusBadGateway, "oauth_exchange", "code exchange failed")
		return
	}
	var expires *time.Time
	if !token.Expiry.IsZero() {
		t := token.Expiry
		expires = &t
	}
	err = a.Vault.Save(r.Context(), userID, provider, vault.SaveRequest{
		Mode:         domain.AuthModeOAuth,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expires,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", MaxAge: -1})
	a.json(w, http.StatusOK, map[string]string{"provider": provider, "auth_mode": string(domain.AuthModeOAuth)})
}
