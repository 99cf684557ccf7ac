package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/vault"
)

// CredentialSource is the slice of the vault the selector needs.
type CredentialSource interface {
	Get(ctx context.Context, userID, provider string) (*vault.Material, error)
}

// Selection is a chosen, live provider client.
type Selection struct {
	Client     Client
	Descriptor Descriptor
}

// Selector probes configured providers in preference order and returns the
// first one that has credentials and answers its liveness probe.
type Selector struct {
	registry     *Registry
	credentials  CredentialSource
	factories    map[string]Factory
	probeTimeout time.Duration
	logger       infra.Logger
}

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	Registry     *Registry
	Credentials  CredentialSource
	Factories    map[string]Factory
	ProbeTimeout time.Duration
	Logger       *infra.Logger
}

// NewSelector constructs a Selector.
func NewSelector(opts SelectorOptions) (*Selector, error) {
	if opts.Registry == nil || opts.Credentials == nil {
		return nil, errors.New("providers: registry and credential source are required")
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	var logger infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = infra.NopLogger()
	}
	return &Selector{
		registry:     opts.Registry,
		credentials:  opts.Credentials,
		factories:    opts.Factories,
		probeTimeout: probeTimeout,
		logger:       logger,
	}, nil
}

// Select returns the first capable and available provider for the user.
// Exhausting the candidate list is a normal outcome reported as
// domain.ErrNoProvider, to be handled at admission rather than retried.
// Credential problems on one candidate skip to the next, never abort the
// whole selection.
func (s *Selector) Select(ctx context.Context, userID string, capability Capability) (*Selection, error) {
	candidates := s.registry.ByCapability(capability)
	for _, desc := range candidates {
		material, err := s.credentials.Get(ctx, userID, desc.ID)
		if err != nil {
			if errors.Is(err, domain.ErrAuth) {
				s.logger.Debug().Str("provider", desc.ID).Msg("selector: skipping, no usable credential")
				continue
			}
			return nil, err
		}
		factory, ok := s.factories[desc.ID]
		if !ok {
			s.logger.Warn().Str("provider", desc.ID).Msg("selector: no client factory registered")
			continue
		}
		client, err := factory(material)
		if err != nil {
			s.logger.Warn().Err(err).Str("provider", desc.ID).Msg("selector: client construction failed")
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		alive := client.IsAvailable(probeCtx)
		cancel()
		if !alive {
			s.logger.Debug().Str("provider", desc.ID).Msg("selector: liveness probe failed")
			continue
		}
		return &Selection{Client: client, Descriptor: desc}, nil
	}
	return nil, fmt.Errorf("%w: no %s provider for user", domain.ErrNoProvider, capability)
}

// CapabilityForJobType maps a job type onto the capability that serves it.
func CapabilityForJobType(t domain.JobType) (Capability, error) {
	switch t {
	case domain.JobTypeImage:
		return CapabilityImage, nil
	case domain.JobTypeVideo:
		return CapabilityVideo, nil
	case domain.JobTypeVoice:
		return CapabilityVoice, nil
	case domain.JobTypeMusic:
		return CapabilityMusic, nil
	case domain.JobTypeComposite:
		return CapabilityRender, nil
	}
	return "", fmt.Errorf("%w: no capability for job type %q", domain.ErrValidation, t)
}
