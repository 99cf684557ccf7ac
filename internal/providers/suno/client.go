// Package suno implements the music capability. Generation is submitted and
// then polled until the track is rendered, under the caller's deadline.
package suno

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

// ErrMissingToken indicates the client was configured without credentials.
var ErrMissingToken = errors.New("suno: access token is required")

// Options configures the client.
type Options struct {
	Token       string
	BaseURL     string
	HTTPClient  *http.Client
	Logger      *infra.Logger
	PollInitial time.Duration
	PollMax     time.Duration
}

// Client performs HTTP calls to the music generation API.
type Client struct {
	token       string
	baseURL     string
	httpClient  *http.Client
	logger      infra.Logger
	pollInitial time.Duration
	pollMax     time.Duration
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.suno.ai/v1"
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
		token:       strings.TrimSpace(opts.Token),
		baseURL:     baseURL,
		httpClient:  httpClient,
		logger:      logger,
		pollInitial: pollInitial,
		pollMax:     pollMax,
	}
}

type generateRequest struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
	Instrumental    bool   `json:"instrumental"`
}

type trackResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	AudioURL string `json:"audio_url"`
	Error    string `json:"error"`
}

// Compose submits a music generation request and polls until the track is
// ready. Budget expiry surfaces as domain.ErrTimeout.
func (c *Client) Compose(ctx context.Context, prompt string, durationSeconds int) (*trackResponse, error) {
	if c.token == "" {
		return nil, ErrMissingToken
	}
	var track trackResponse
	if err := c.call(ctx, http.MethodPost, "/generate", generateRequest{
		Prompt:          prompt,
		DurationSeconds: durationSeconds,
		Instrumental:    true,
	}, &track); err != nil {
		return nil, err
	}
	if track.ID == "" {
		return nil, fmt.Errorf("%w: suno: response missing track id", domain.ErrUpstream)
	}

	interval := c.pollInitial
	for track.Status != "complete" {
		if track.Status == "error" {
			return nil, fmt.Errorf("%w: suno: %s", domain.ErrUpstream, track.Error)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: suno: track %s", domain.ErrTimeout, track.ID)
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
		if err := c.call(ctx, http.MethodGet, "/tracks/"+track.ID, nil, &track); err != nil {
			return nil, err
		}
	}
	if track.AudioURL == "" {
		return nil, fmt.Errorf("%w: suno: completed track has no audio url", domain.ErrUpstream)
	}
	return &track, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("suno: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("suno: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: suno: %v", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: suno: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: suno: read response: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: suno: status %d: %s", domain.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: suno: decode response: %v", domain.ErrUpstream, err)
	}
	return nil
}

// Generate satisfies the provider contract for music requests.
func (c *Client) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	track, err := c.Compose(ctx, req.Payload.Prompt, req.Payload.Duration)
	if err != nil {
		return nil, err
	}
	return &providers.Result{URL: track.AudioURL, RemoteID: track.ID, Format: "audio/mpeg"}, nil
}

// IsAvailable checks the account endpoint with the caller's deadline.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.token == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/account", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
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
