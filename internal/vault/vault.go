// Package vault stores and refreshes per-user, per-provider authentication
// material. Secrets are encrypted at rest; expired OAuth tokens are refreshed
// transparently on read.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
)

// localPrefix tags a stored api_key secret that actually encodes the base URL
// of a local-network provider. The tag lives inside the encrypted value, not
// in a separate schema field.
const localPrefix = "local:"

// ProviderInfo is the slice of the provider registry the vault needs.
type ProviderInfo interface {
	Local(provider string) bool
	TokenEndpoint(provider string) (string, bool)
}

// OAuthClient is the process-level client registration for one provider.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// Material is the decrypted, ready-to-use view of one credential.
type Material struct {
	Provider      string
	Mode          domain.AuthMode
	Secret        string
	LocalEndpoint bool
	AccessToken   string
	Config        map[string]string
}

// SaveRequest carries the inputs for Save.
type SaveRequest struct {
	Mode         domain.AuthMode
	Secret       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Metadata     json.RawMessage
	Config       map[string]string
}

// Options configures a Vault.
type Options struct {
	Repo           domain.CredentialRepository
	Providers      ProviderInfo
	OAuthClients   map[string]OAuthClient
	Key            []byte
	HTTPClient     *http.Client
	Logger         *infra.Logger
	Now            func() time.Time
	RefreshTimeout time.Duration
}

// Vault is the encrypted credential store.
type Vault struct {
	repo           domain.CredentialRepository
	providers      ProviderInfo
	oauthClients   map[string]OAuthClient
	key            []byte
	httpClient     *http.Client
	logger         infra.Logger
	now            func() time.Time
	refreshTimeout time.Duration

	mu      sync.Mutex
	refresh map[string]*sync.Mutex
}

// New constructs a Vault with sane defaults for optional dependencies.
func New(opts Options) (*Vault, error) {
	if opts.Repo == nil {
		return nil, errors.New("vault: repository is required")
	}
	if len(opts.Key) != 32 {
		return nil, errors.New("vault: 32-byte key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	refreshTimeout := opts.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = 10 * time.Second
	}
	var logger infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = infra.NopLogger()
	}
	return &Vault{
		repo:           opts.Repo,
		providers:      opts.Providers,
		oauthClients:   opts.OAuthClients,
		key:            opts.Key,
		httpClient:     httpClient,
		logger:         logger,
		now:            now,
		refreshTimeout: refreshTimeout,
		refresh:        make(map[string]*sync.Mutex),
	}, nil
}

// Save upserts the credential for (userID, provider), encrypting secret
// material at rest and merging the supplied config into any existing config.
func (v *Vault) Save(ctx context.Context, userID, provider string, req SaveRequest) error {
	if userID == "" || provider == "" {
		return fmt.Errorf("%w: user and provider are required", domain.ErrValidation)
	}
	cred := &domain.Credential{
		UserID:   userID,
		Provider: provider,
		AuthMode: req.Mode,
	}
	switch req.Mode {
	case domain.AuthModeAPIKey:
		secret := strings.TrimSpace(req.Secret)
		if secret == "" {
			return fmt.Errorf("%w: secret is required for api_key mode", domain.ErrValidation)
		}
		if v.providers != nil && v.providers.Local(provider) {
			secret = localPrefix + secret
		}
		sealed, err := Encrypt([]byte(secret), v.key)
		if err != nil {
			return err
		}
		cred.SecretCiphertext = sealed
	case domain.AuthModeOAuth:
		if req.AccessToken == "" {
			return fmt.Errorf("%w: access token is required for oauth mode", domain.ErrValidation)
		}
		access, err := Encrypt([]byte(req.AccessToken), v.key)
		if err != nil {
			return err
		}
		cred.AccessCiphertext = access
		if req.RefreshToken != "" {
			refresh, err := Encrypt([]byte(req.RefreshToken), v.key)
			if err != nil {
				return err
			}
			cred.RefreshCiphertext = refresh
		}
		cred.ExpiresAt = req.ExpiresAt
		cred.ProviderMetadata = req.Metadata
	default:
		return fmt.Errorf("%w: unsupported auth mode %q", domain.ErrValidation, req.Mode)
	}

	cred.Config = req.Config
	if existing, err := v.repo.Get(ctx, userID, provider); err == nil && len(existing.Config) > 0 {
		merged := make(map[string]string, len(existing.Config)+len(req.Config))
		for k, val := range existing.Config {
			merged[k] = val
		}
		for k, val := range req.Config {
			merged[k] = val
		}
		cred.Config = merged
	}
	return v.repo.Upsert(ctx, cred)
}

// Get returns decrypted credential material. Expired OAuth tokens are
// refreshed before returning; any failure to produce usable material reports
// ErrAuth rather than surfacing stale or garbage secrets.
func (v *Vault) Get(ctx context.Context, userID, provider string) (*Material, error) {
	cred, err := v.repo.Get(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no credential for %s", domain.ErrAuth, provider)
		}
		return nil, err
	}
	switch cred.AuthMode {
	case domain.AuthModeAPIKey:
		plaintext, err := Decrypt(cred.SecretCiphertext, v.key)
		if err != nil {
			// Undecryptable rows are indistinguishable from absent ones.
			return nil, fmt.Errorf("%w: credential for %s is unusable", domain.ErrAuth, provider)
		}
		m := &Material{Provider: provider, Mode: cred.AuthMode, Config: cred.Config}
		m.Secret = string(plaintext)
		if rest, ok := strings.CutPrefix(m.Secret, localPrefix); ok {
			m.Secret = rest
			m.LocalEndpoint = true
		}
		return m, nil
	case domain.AuthModeOAuth:
		if cred.Expired(v.now()) {
			cred, err = v.refreshCredential(ctx, cred)
			if err != nil {
				return nil, err
			}
		}
		access, err := Decrypt(cred.AccessCiphertext, v.key)
		if err != nil {
			return nil, fmt.Errorf("%w: credential for %s is unusable", domain.ErrAuth, provider)
		}
		return &Material{
			Provider:    provider,
			Mode:        cred.AuthMode,
			AccessToken: string(access),
			Config:      cred.Config,
		}, nil
	}
	return nil, fmt.Errorf("%w: credential for %s has unknown auth mode", domain.ErrAuth, provider)
}

// Remove deletes the stored credential; missing rows are not an error.
func (v *Vault) Remove(ctx context.Context, userID, provider string) error {
	err := v.repo.Delete(ctx, userID, provider)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// ListProviders returns provider identifiers with any stored credential,
// independent of validity.
func (v *Vault) ListProviders(ctx context.Context, userID string) ([]string, error) {
	return v.repo.ListProviders(ctx, userID)
}

// refreshCredential exchanges the refresh token for a new pair and persists
// it before returning. Refreshes for the same (user, provider) are
// serialized; a global lock would put unrelated users behind one slow token
// endpoint.
func (v *Vault) refreshCredential(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	lock := v.refreshLock(cred.UserID + "\x00" + cred.Provider)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent refresh may have already won.
	fresh, err := v.repo.Get(ctx, cred.UserID, cred.Provider)
	if err == nil && !fresh.Expired(v.now()) {
		return fresh, nil
	}
	if err == nil {
		cred = fresh
	}

	endpoint, ok := v.providers.TokenEndpoint(cred.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %s declares no token endpoint", domain.ErrAuth, cred.Provider)
	}
	client, ok := v.oauthClients[cred.Provider]
	if !ok || client.ClientID == "" {
		return nil, fmt.Errorf("%w: oauth client for %s is not configured", domain.ErrAuth, cred.Provider)
	}
	if len(cred.RefreshCiphertext) == 0 {
		return nil, fmt.Errorf("%w: credential for %s has no refresh token", domain.ErrAuth, cred.Provider)
	}
	refreshToken, err := Decrypt(cred.RefreshCiphertext, v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: credential for %s is unusable", domain.ErrAuth, cred.Provider)
	}

	conf := &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: endpoint},
	}
	refreshCtx, cancel := context.WithTimeout(ctx, v.refreshTimeout)
	defer cancel()
	refreshCtx = context.WithValue(refreshCtx, oauth2.HTTPClient, v.httpClient)
	token, err := conf.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: string(refreshToken)}).Token()
	if err != nil {
		// The stored credential stays untouched so a later attempt can
		// still succeed.
		v.logger.Warn().Err(err).Str("provider", cred.Provider).Msg("vault: token refresh failed")
		return nil, fmt.Errorf("%w: token refresh for %s failed", domain.ErrAuth, cred.Provider)
	}

	updated := &domain.Credential{
		UserID:           cred.UserID,
		Provider:         cred.Provider,
		AuthMode:         domain.AuthModeOAuth,
		ProviderMetadata: cred.ProviderMetadata,
		Config:           cred.Config,
	}
	access, err := Encrypt([]byte(token.AccessToken), v.key)
	if err != nil {
		return nil, err
	}
	updated.AccessCiphertext = access
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = string(refreshToken)
	}
	sealedRefresh, err := Encrypt([]byte(newRefresh), v.key)
	if err != nil {
		return nil, err
	}
	updated.RefreshCiphertext = sealedRefresh
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		updated.ExpiresAt = &expiry
	}
	if err := v.repo.Upsert(ctx, updated); err != nil {
		return nil, err
	}
	v.logger.Info().Str("provider", cred.Provider).Msg("vault: refreshed oauth token")
	return updated, nil
}

func (v *Vault) refreshLock(key string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.refresh[key]
	if !ok {
		lock = &sync.Mutex{}
		v.refresh[key] = lock
	}
	return lock
}
