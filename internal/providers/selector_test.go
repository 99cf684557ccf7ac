package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"storyreel/internal/domain"
	"storyreel/internal/vault"
)

type stubCredentials struct {
	materials map[string]*vault.Material
}

func (s *stubCredentials) Get(ctx context.Context, userID, provider string) (*vault.Material, error) {
	m, ok := s.materials[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no credential for %s", domain.ErrAuth, provider)
	}
	return m, nil
}

type stubClient struct {
	alive  bool
	probes int
}

func (c *stubClient) Generate(ctx context.Context, req Request) (*Result, error) {
	return &Result{URL: "ok"}, nil
}

func (c *stubClient) IsAvailable(ctx context.Context) bool {
	c.probes++
	return c.alive
}

func testRegistry() *Registry {
	return NewRegistry([]Descriptor{
		{ID: "local-a", Capability: CapabilityImage, Local: true, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey}},
		{ID: "local-b", Capability: CapabilityImage, Local: true, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey}},
		{ID: "cloud-c", Capability: CapabilityImage, AuthModes: []domain.AuthMode{domain.AuthModeAPIKey}},
	})
}

func factoryFor(clients map[string]*stubClient) map[string]Factory {
	out := make(map[string]Factory, len(clients))
	for id, client := range clients {
		c := client
		out[id] = func(material *vault.Material) (Client, error) { return c, nil }
	}
	return out
}

func newTestSelector(t *testing.T, creds CredentialSource, factories map[string]Factory) *Selector {
	t.Helper()
	s, err := NewSelector(SelectorOptions{Registry: testRegistry(), Credentials: creds, Factories: factories})
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	return s
}

func TestSelectSkipsProviderWithoutCredential(t *testing.T) {
	clients := map[string]*stubClient{
		"local-a": {alive: true},
		"local-b": {alive: true},
		"cloud-c": {alive: true},
	}
	creds := &stubCredentials{materials: map[string]*vault.Material{
		"local-b": {Provider: "local-b", Secret: "http://host-b"},
	}}
	sel := newTestSelector(t, creds, factoryFor(clients))

	selection, err := sel.Select(context.Background(), "u1", CapabilityImage)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if selection.Descriptor.ID != "local-b" {
		t.Fatalf("selected %s, want local-b", selection.Descriptor.ID)
	}
	if clients["local-a"].probes != 0 {
		t.Fatal("provider without credential must not be probed")
	}
}

func TestSelectFallsThroughDeadProbe(t *testing.T) {
	clients := map[string]*stubClient{
		"local-a": {alive: false},
		"cloud-c": {alive: true},
	}
	creds := &stubCredentials{materials: map[string]*vault.Material{
		"local-a": {Provider: "local-a", Secret: "http://host-a"},
		"cloud-c": {Provider: "cloud-c", Secret: "sk-1"},
	}}
	sel := newTestSelector(t, creds, factoryFor(clients))

	selection, err := sel.Select(context.Background(), "u1", CapabilityImage)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if selection.Descriptor.ID != "cloud-c" {
		t.Fatalf("selected %s, want cloud-c", selection.Descriptor.ID)
	}
	if clients["local-a"].probes != 1 {
		t.Fatal("preferred local provider should be probed first")
	}
}

func TestSelectExhaustedIsNoProvider(t *testing.T) {
	sel := newTestSelector(t, &stubCredentials{materials: map[string]*vault.Material{}}, nil)
	_, err := sel.Select(context.Background(), "u1", CapabilityImage)
	if !errors.Is(err, domain.ErrNoProvider) {
		t.Fatalf("want ErrNoProvider, got %v", err)
	}
}

func TestLocalProvidersPrecedeCloud(t *testing.T) {
	order := testRegistry().ByCapability(CapabilityImage)
	if len(order) != 3 {
		t.Fatalf("candidates = %d, want 3", len(order))
	}
	if !order[0].Local || !order[1].Local || order[2].Local {
		t.Fatalf("locals must precede cloud: %#v", order)
	}
}

func TestCapabilityForJobType(t *testing.T) {
	pairs := map[domain.JobType]Capability{
		domain.JobTypeImage:     CapabilityImage,
		domain.JobTypeVideo:     CapabilityVideo,
		domain.JobTypeVoice:     CapabilityVoice,
		domain.JobTypeMusic:     CapabilityMusic,
		domain.JobTypeComposite: CapabilityRender,
	}
	for jt, want := range pairs {
		got, err := CapabilityForJobType(jt)
		if err != nil || got != want {
			t.Fatalf("CapabilityForJobType(%s) = %s, %v", jt, got, err)
		}
	}
	if _, err := CapabilityForJobType(domain.JobType("bogus")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}
