package providers

import (
	"context"

	"storyreel/internal/domain"
	"storyreel/internal/vault"
)

// Request carries one generation invocation to a concrete client.
type Request struct {
	JobID   string
	Type    domain.JobType
	Payload domain.JobPayload
}

// Result is the normalized provider outcome. URL points at transient
// provider-side content unless Data carries the bytes directly; either way
// durable persistence is the caller's concern.
type Result struct {
	URL      string
	RemoteID string
	Format   string
	Text     string
	Data     []byte
}

// Client is the polymorphic provider contract: one concrete implementation
// per catalog identifier. New providers register a factory; the core does
// not change.
type Client interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	IsAvailable(ctx context.Context) bool
}

// Canceller is implemented by clients whose in-flight Generate cooperates
// with cancellation. Clients without it cannot be cancelled once active.
type Canceller interface {
	SupportsCancel() bool
}

// SupportsCancel reports whether the client's in-flight calls can be
// cancelled cooperatively.
func SupportsCancel(c Client) bool {
	canceller, ok := c.(Canceller)
	return ok && canceller.SupportsCancel()
}

// Factory builds a ready client from decrypted credential material.
type Factory func(material *vault.Material) (Client, error)
