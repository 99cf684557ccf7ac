package domain

import (
	"encoding/json"
	"time"
)

// AuthMode declares how a provider is authenticated for one user.
type AuthMode string

const (
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeOAuth  AuthMode = "oauth"
)

// Credential is the stored authentication material for one (user, provider)
// pair. Secret fields hold ciphertext at rest; the vault owns the plaintext
// view.
type Credential struct {
	UserID           string
	Provider         string
	AuthMode         AuthMode
	SecretCiphertext []byte
	AccessCiphertext []byte
	RefreshCiphertext []byte
	ExpiresAt        *time.Time
	ProviderMetadata json.RawMessage
	Config           map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Expired reports whether an OAuth access token is past its expiry.
// Credentials without an expiry never expire.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
