// Package gemini implements the image and video capabilities against the
// Generative Language API. Image generation is a single call; video goes
// through a long-running operation that is polled under the caller's
// deadline.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
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
var ErrMissingAPIKey = errors.New("gemini: api key is required")

// Options configures the client.
type Options struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
	PollInitial time.Duration
	PollMax     time.Duration
}

// Client performs HTTP calls against the Generative Language API.
type Client struct {
	apiKey      string
	baseURL     string
	imageModel  string
	videoModel  string
	httpClient  *http.Client
	logger      infra.Logger
	pollInitial time.Duration
	pollMax     time.Duration
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = "gemini-2.0-flash-exp-image-generation"
	}
	videoModel := strings.TrimSpace(opts.VideoModel)
	if videoModel == "" {
		videoModel = "veo-2.0-generate-001"
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
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		imageModel:  imageModel,
		videoModel:  videoModel,
		httpClient:  httpClient,
		logger:      logger,
		pollInitial: pollInitial,
		pollMax:     pollMax,
	}
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
	GenerationConfig map[string]any `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GenerateImage renders one image for the prompt and returns its bytes.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	if c.apiKey == "" {
		return nil, "", ErrMissingAPIKey
	}
	payload := generateContentRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: map[string]any{"responseModalities": []string{"IMAGE"}},
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.imageModel)
	var decoded generateContentResponse
	if err := c.post(ctx, endpoint, payload, &decoded); err != nil {
		return nil, "", err
	}
	if decoded.Error != nil {
		return nil, "", fmt.Errorf("%w: gemini: %s (%s)", domain.ErrUpstream, decoded.Error.Message, decoded.Error.Status)
	}
	for _, cand := range decoded.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, "", fmt.Errorf("%w: gemini: decode inline data: %v", domain.ErrUpstream, err)
			}
			mime := p.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			return data, mime, nil
		}
	}
	return nil, "", fmt.Errorf("%w: gemini: response carried no image", domain.ErrUpstream)
}

type operationResponse struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Error    *apiError `json:"error"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// GenerateVideo animates the source image into a clip. The long-running
// operation is polled with increasing backoff until the context deadline,
// which surfaces as domain.ErrTimeout.
func (c *Client) GenerateVideo(ctx context.Context, prompt, imageURL string) (string, string, error) {
	if c.apiKey == "" {
		return "", "", ErrMissingAPIKey
	}
	payload := map[string]any{
		"instances": []map[string]any{{
			"prompt": prompt,
			"image":  map[string]any{"gcsUri": imageURL},
		}},
	}
	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, c.videoModel)
	var op operationResponse
	if err := c.post(ctx, endpoint, payload, &op); err != nil {
		return "", "", err
	}
	if op.Error != nil {
		return "", "", fmt.Errorf("%w: gemini: %s", domain.ErrUpstream, op.Error.Message)
	}
	if op.Name == "" {
		return "", "", fmt.Errorf("%w: gemini: operation missing name", domain.ErrUpstream)
	}

	interval := c.pollInitial
	for !op.Done {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", "", fmt.Errorf("%w: gemini: video operation %s", domain.ErrTimeout, op.Name)
			}
			return "", "", ctx.Err()
		case <-time.After(interval):
		}
		if interval < c.pollMax {
			interval *= 2
			if interval > c.pollMax {
				interval = c.pollMax
			}
		}
		if err := c.get(ctx, c.baseURL+"/"+op.Name, &op); err != nil {
			return "", "", err
		}
		if op.Error != nil {
			return "", "", fmt.Errorf("%w: gemini: %s", domain.ErrUpstream, op.Error.Message)
		}
	}
	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 || samples[0].Video.URI == "" {
		return "", "", fmt.Errorf("%w: gemini: operation finished without video", domain.ErrUpstream)
	}
	return samples[0].Video.URI, op.Name, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gemini: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return fmt.Errorf("%w: gemini: %v", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: gemini: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: gemini: read response: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: gemini: status %d: %s", domain.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: gemini: decode response: %v", domain.ErrUpstream, err)
	}
	return nil
}

// IsAvailable verifies the API key against the models listing.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.apiKey == "" {
		return false
	}
	endpoint := c.baseURL + "/models?pageSize=1&key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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

// ImageProvider adapts the client to the image capability.
type ImageProvider struct{ *Client }

// Generate renders the payload prompt into image bytes.
func (p ImageProvider) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	data, mime, err := p.GenerateImage(ctx, req.Payload.Prompt)
	if err != nil {
		return nil, err
	}
	return &providers.Result{Data: data, Format: mime}, nil
}

// VideoProvider adapts the client to the video capability.
type VideoProvider struct{ *Client }

// Generate animates the payload's source image.
func (p VideoProvider) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	uri, remoteID, err := p.GenerateVideo(ctx, req.Payload.Prompt, req.Payload.ImageURL)
	if err != nil {
		return nil, err
	}
	return &providers.Result{URL: uri, RemoteID: remoteID, Format: "video/mp4"}, nil
}

// SupportsCancel reports that the video poll loop honors cancellation.
func (p VideoProvider) SupportsCancel() bool { return true }

var (
	_ providers.Client    = ImageProvider{}
	_ providers.Client    = VideoProvider{}
	_ providers.Canceller = VideoProvider{}
)
