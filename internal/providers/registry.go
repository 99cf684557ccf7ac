// Package providers declares the static catalog of generation backends and
// selects, at request time, a capable and available one for a given user.
package providers

import "storyreel/internal/domain"

// Capability classifies what a provider generates.
type Capability string

const (
	CapabilityText   Capability = "text"
	CapabilityImage  Capability = "image"
	CapabilityVideo  Capability = "video"
	CapabilityVoice  Capability = "voice"
	CapabilityMusic  Capability = "music"
	CapabilityRender Capability = "render"
)

// OAuthEndpoints holds the provider-side URLs for the authorization round
// trip. Client id/secret are process configuration, not catalog data.
type OAuthEndpoints struct {
	AuthURL  string
	TokenURL string
	Scopes   []string
}

// Descriptor is one catalog entry. The catalog is read-only configuration,
// not a running component.
type Descriptor struct {
	ID         string
	Name       string
	Capability Capability
	AuthModes  []domain.AuthMode
	Local      bool
	OAuth      *OAuthEndpoints
}

// SupportsAuthMode reports whether the provider accepts the given mode.
func (d Descriptor) SupportsAuthMode(mode domain.AuthMode) bool {
	for _, m := range d.AuthModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Registry is the ordered provider catalog. Within one capability the
// declaration order is the selection preference order: local, self-hosted
// backends come before cloud ones for cost and latency.
type Registry struct {
	entries []Descriptor
	byID    map[string]Descriptor
}

// NewRegistry builds a registry from catalog entries, keeping order.
func NewRegistry(entries []Descriptor) *Registry {
	byID := make(map[string]Descriptor, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	return &Registry{entries: entries, byID: byID}
}

// DefaultCatalog is the built-in provider catalog.
func DefaultCatalog() *Registry {
	return NewRegistry([]Descriptor{
		{ID: "comfyui", Name: "ComfyUI", Capability: CapabilityImage, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey}, Local: true},
		{ID: "gemini-image", Name: "Gemini Images", Capability: CapabilityImage, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey}},
		{ID: "gemini-video", Name: "Gemini Veo", Capability: CapabilityVideo, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey}},
		{ID: "openai", Name: "OpenAI", Capability: CapabilityText, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey}},
		{ID: "elevenlabs", Name: "ElevenLabs", Capability: CapabilityVoice, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey}},
		{ID: "suno", Name: "Suno", Capability: CapabilityMusic, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey, domain.AuthModeOAuth}, OAuth: &OAuthEndpoints{
			AuthURL:  "https://auth.suno.ai/oauth/authorize",
			TokenURL: "https://auth.suno.ai/oauth/token",
			Scopes:   []string{"generate"},
		}},
		{ID: "renderd", Name: "Render Service", Capability: CapabilityRender, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey}, Local: true},
	})
}

// ByCapability returns the candidates for a capability in preference order:
// catalog order with local providers first.
func (r *Registry) ByCapability(c Capability) []Descriptor {
	var local, cloud []Descriptor
	for _, e := range r.entries {
		if e.Capability != c {
			continue
		}
		if e.Local {
			local = append(local, e)
		} else {
			cloud = append(cloud, e)
		}
	}
	return append(local, cloud...)
}

// Get returns the descriptor for a provider id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Local reports whether the provider is endpoint-based on the local network.
// It satisfies the vault's ProviderInfo contract.
func (r *Registry) Local(id string) bool {
	d, ok := r.byID[id]
	return ok && d.Local
}

// TokenEndpoint returns the provider's OAuth token URL when it declares one.
func (r *Registry) TokenEndpoint(id string) (string, bool) {
	d, ok := r.byID[id]
	if !ok || d.OAuth == nil || d.OAuth.TokenURL == "" {
		return "", false
	}
	return d.OAuth.TokenURL, true
}

// IDs returns every catalog identifier in order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.ID)
	}
	return out
}
