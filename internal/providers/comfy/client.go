// Package comfy adapts a local ComfyUI graph-execution server to the
// provider contract.
package comfy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/providers"
	"storyreel/internal/workflow"
)

// Options configures the client.
type Options struct {
	Endpoint   string
	Checkpoint string
	Budget     time.Duration
	Executor   *workflow.Executor
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client drives text-to-image generation through a ComfyUI endpoint.
type Client struct {
	endpoint   string
	checkpoint string
	budget     time.Duration
	executor   *workflow.Executor
	httpClient *http.Client
	logger     infra.Logger
}

// NewClient constructs a client for one endpoint.
func NewClient(opts Options) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("comfy: endpoint is required")
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = 2 * time.Minute
	}
	executor := opts.Executor
	if executor == nil {
		executor = workflow.NewExecutor(workflow.Options{HTTPClient: opts.HTTPClient, Logger: opts.Logger})
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	var logger infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = infra.NopLogger()
	}
	return &Client{
		endpoint:   endpoint,
		checkpoint: opts.Checkpoint,
		budget:     budget,
		executor:   executor,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Generate builds the execution graph for the request and drives it to
// completion within the configured budget.
func (c *Client) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	if req.Type != domain.JobTypeImage {
		return nil, fmt.Errorf("%w: comfy serves image jobs only", domain.ErrValidation)
	}
	graph := workflow.Build(workflow.Params{
		Prompt:         req.Payload.Prompt,
		NegativePrompt: req.Payload.NegativePrompt,
		Width:          req.Payload.Width,
		Height:         req.Payload.Height,
		Steps:          req.Payload.Steps,
		Seed:           req.Payload.Seed,
		Checkpoint:     c.checkpoint,
		FilenamePrefix: req.JobID,
	})
	res, err := c.executor.Execute(ctx, c.endpoint, graph, c.budget)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("job_id", req.JobID).Str("remote_id", res.RemoteID).Msg("comfy: graph completed")
	return &providers.Result{URL: res.URL, RemoteID: res.RemoteID, Format: "image/png"}, nil
}

// IsAvailable probes the server's stats endpoint within the caller's
// deadline.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/system_stats", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

// SupportsCancel reports cooperative cancellation: the executor's poll loop
// honors context cancellation and interrupts the backend.
func (c *Client) SupportsCancel() bool { return true }

var (
	_ providers.Client    = (*Client)(nil)
	_ providers.Canceller = (*Client)(nil)
)
