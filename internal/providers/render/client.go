// Package render adapts the offline composition service to the provider
// contract. The service muxes ordered video and audio clips plus an optional
// background track into one artifact; this client only submits and polls.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/providers"
)

// Options configures the client.
type Options struct {
	Endpoint    string
	HTTPClient  *http.Client
	Logger      *infra.Logger
	PollInitial time.Duration
	PollMax     time.Duration
}

// Client performs HTTP calls to the rendering service.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	logger      infra.Logger
	pollInitial time.Duration
	pollMax     time.Duration
}

// NewClient constructs a client for one endpoint.
func NewClient(opts Options) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("render: endpoint is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	pollInitial := opts.PollInitial
	if pollInitial <= 0 {
		pollInitial = 2 * time.Second
	}
	pollMax := opts.PollMax
	if pollMax <= 0 {
		pollMax = 10 * time.Second
	}
	var logger infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = infra.NopLogger()
	}
	return &Client{
		endpoint:    endpoint,
		httpClient:  httpClient,
		logger:      logger,
		pollInitial: pollInitial,
		pollMax:     pollMax,
	}, nil
}

type renderRequest struct {
	VideoURLs     []string `json:"video_urls"`
	AudioURLs     []string `json:"audio_urls"`
	BackgroundURL string   `json:"background_url,omitempty"`
	Resolution    string   `json:"resolution,omitempty"`
	Format        string   `json:"format,omitempty"`
}

type renderStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url"`
	Error     string `json:"error"`
}

// Generate submits the composition request and polls until the artifact is
// rendered.
func (c *Client) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	if len(req.Payload.VideoURLs) == 0 && len(req.Payload.AudioURLs) == 0 {
		return nil, fmt.Errorf("%w: composition needs at least one clip", domain.ErrValidation)
	}
	payload := renderRequest{
		VideoURLs:     req.Payload.VideoURLs,
		AudioURLs:     req.Payload.AudioURLs,
		BackgroundURL: req.Payload.BackgroundURL,
		Resolution:    req.Payload.Resolution,
		Format:        req.Payload.Format,
	}
	var status renderStatus
	if err := c.call(ctx, http.MethodPost, "/render", payload, &status); err != nil {
		return nil, err
	}
	if status.ID == "" {
		return nil, fmt.Errorf("%w: render: response missing id", domain.ErrUpstream)
	}

	interval := c.pollInitial
	for status.Status != "done" {
		if status.Status == "failed" {
			return nil, fmt.Errorf("%w: render: %s", domain.ErrUpstream, status.Error)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: render: job %s", domain.ErrTimeout, status.ID)
			}
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		if interval < c.pollMax {
			interval *= 2
			if interval > c.pollMax {
				interval = c.pollMax
			}
		}
		if err := c.call(ctx, http.MethodGet, "/render/"+status.ID, nil, &status); err != nil {
			return nil, err
		}
	}
	if status.OutputURL == "" {
		return nil, fmt.Errorf("%w: render: finished without output", domain.ErrUpstream)
	}
	format := req.Payload.Format
	if format == "" {
		format = "video/mp4"
	}
	return &providers.Result{URL: status.OutputURL, RemoteID: status.ID, Format: format}, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("render: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("render: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: render: %v", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: render: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: render: read response: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: render: status %d: %s", domain.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: render: decode response: %v", domain.ErrUpstream, err)
	}
	return nil
}

// IsAvailable probes the health endpoint within the caller's deadline.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/healthz", nil)
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

// SupportsCancel reports that the poll loop honors cancellation.
func (c *Client) SupportsCancel() bool { return true }

var (
	_ providers.Client    = (*Client)(nil)
	_ providers.Canceller = (*Client)(nil)
)
