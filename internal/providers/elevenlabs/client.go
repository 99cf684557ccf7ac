// Package elevenlabs implements the voice capability against the ElevenLabs
// text-to-speech API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/providers"
)

// ErrMissingAPIKey indicates the client was configured without credentials.
var ErrMissingAPIKey = errors.New("elevenlabs: api key is required")

// Options configures the client.
type Options struct {
	APIKey     string
	BaseURL    string
	ModelID    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls to the text-to-speech endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	modelID    string
	httpClient *http.Client
	logger     infra.Logger
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io/v1"
	}
	modelID := strings.TrimSpace(opts.ModelID)
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	var logger infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = infra.NopLogger()
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		modelID:    modelID,
		httpClient: httpClient,
		logger:     logger,
	}
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// Speak synthesizes speech for the text using the given voice and returns
// the audio bytes.
func (c *Client) Speak(ctx context.Context, voiceID, text string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", domain.ErrValidation)
	}
	body, err := json.Marshal(speechRequest{Text: text, ModelID: c.modelID})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}
	endpoint := c.baseURL + "/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: elevenlabs: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: elevenlabs: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: elevenlabs: read response: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail.Message != "" {
			return nil, fmt.Errorf("%w: elevenlabs: %s (%s)", domain.ErrUpstream, detail.Detail.Message, detail.Detail.Status)
		}
		return nil, fmt.Errorf("%w: elevenlabs: status %d", domain.ErrUpstream, resp.StatusCode)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: elevenlabs: empty audio", domain.ErrUpstream)
	}
	return raw, nil
}

// Generate satisfies the provider contract for voice requests.
func (c *Client) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	data, err := c.Speak(ctx, req.Payload.VoiceID, req.Payload.Text)
	if err != nil {
		return nil, err
	}
	return &providers.Result{Data: data, Format: "audio/mpeg"}, nil
}

// IsAvailable verifies the key against the voices listing.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.apiKey == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return false
	}
	req.Header.Set("xi-api-key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

var _ providers.Client = (*Client)(nil)
