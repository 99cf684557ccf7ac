// Package openai implements the text capability against the OpenAI chat
// completions API. Story output is recovered through the response-repair
// layer, so truncated completions still yield usable structure.
package openai

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

	"storyreel/internal/infra"
	"storyreel/internal/jsonrepair"
	"storyreel/internal/providers"
)

// ErrMissingAPIKey indicates the client was configured without credentials.
var ErrMissingAPIKey = errors.New("openai: api key is required")

// Options configures the client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls to the chat completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     infra.Logger
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
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
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Complete sends one prompt and returns the raw completion text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	payload := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("openai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}
	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("openai: %s (%s)", decoded.Error.Message, decoded.Error.Type)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	choice := decoded.Choices[0]
	if choice.FinishReason == "length" {
		c.logger.Warn().Str("model", c.model).Msg("openai: completion truncated by token limit")
	}
	return choice.Message.Content, nil
}

// GenerateStory asks the model for a structured story breakdown and repairs
// the response into valid JSON. The second return reports whether the output
// was structured or the raw-text sentinel.
func (c *Client) GenerateStory(ctx context.Context, story string) (map[string]any, bool, error) {
	prompt := fmt.Sprintf(
		`Split the following story into numbered scenes for a short-form video. Respond strictly with JSON matching this schema: {"title":string,"scenes":[{"sceneNumber":number,"text":string,"imagePrompt":string}]}. Story: %s`,
		story,
	)
	text, err := c.Complete(ctx, prompt)
	if err != nil {
		return nil, false, err
	}
	res := jsonrepair.Repair(text)
	return res.Data, res.Recovered, nil
}

// Generate satisfies the provider contract for text requests.
func (c *Client) Generate(ctx context.Context, req providers.Request) (*providers.Result, error) {
	text, err := c.Complete(ctx, req.Payload.Prompt)
	if err != nil {
		return nil, err
	}
	return &providers.Result{Text: text}, nil
}

// IsAvailable checks the models endpoint with the caller's deadline.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.apiKey == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

var _ providers.Client = (*Client)(nil)
