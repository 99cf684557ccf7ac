package workflow

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
)

// ExecResult carries the backend's transient content URL and its own job
// identifier for traceability. Moving the content into durable storage is
// the caller's responsibility.
type ExecResult struct {
	URL      string
	RemoteID string
}

// Options configures an Executor.
type Options struct {
	HTTPClient  *http.Client
	Logger      *infra.Logger
	PollInitial time.Duration
	PollMax     time.Duration
}

// Executor submits graphs to a graph-execution backend and polls until
// completion, cancellation, or the caller's timeout budget runs out.
type Executor struct {
	httpClient  *http.Client
	logger      infra.Logger
	pollInitial time.Duration
	pollMax     time.Duration
}

// NewExecutor constructs an Executor with bounded polling defaults.
func NewExecutor(opts Options) *Executor {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	pollInitial := opts.PollInitial
	if pollInitial <= 0 {
		pollInitial = time.Second
	}
	pollMax := opts.PollMax
	if pollMax <= 0 {
		pollMax = 8 * time.Second
	}
	var logger infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = infra.NopLogger()
	}
	return &Executor{
		httpClient:  httpClient,
		logger:      logger,
		pollInitial: pollInitial,
		pollMax:     pollMax,
	}
}

type submitResponse struct {
	PromptID string `json:"prompt_id"`
	Error    struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type historyEntry struct {
	Status struct {
		Completed bool   `json:"completed"`
		StatusStr string `json:"status_str"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []struct {
			Filename  string `json:"filename"`
			Subfolder string `json:"subfolder"`
			Type      string `json:"type"`
		} `json:"images"`
	} `json:"outputs"`
}

// Execute submits the graph and polls for completion with increasing backoff.
// The timeout is a hard ceiling: on expiry the call returns a
// domain.ErrTimeout failure distinguishable from a backend-reported
// execution error (domain.ErrUpstream). A backend failure is surfaced as-is
// and never retried here; retry policy belongs to the scheduler.
func (e *Executor) Execute(ctx context.Context, endpoint string, graph Graph, timeout time.Duration) (*ExecResult, error) {
	endpoint = strings.TrimRight(endpoint, "/")
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	remoteID, err := e.submit(deadline, endpoint, graph)
	if err != nil {
		return nil, err
	}
	e.logger.Debug().Str("remote_id", remoteID).Str("endpoint", endpoint).Msg("workflow: graph submitted")

	interval := e.pollInitial
	for {
		select {
		case <-deadline.Done():
			if ctx.Err() != nil {
				// Caller cancellation, not budget expiry. Best-effort
				// interrupt so the backend stops burning GPU time.
				e.interrupt(endpoint)
				return nil, fmt.Errorf("workflow: cancelled: %w", ctx.Err())
			}
			return nil, fmt.Errorf("%w: workflow exceeded %s budget (remote id %s)", domain.ErrTimeout, timeout, remoteID)
		case <-time.After(interval):
		}
		if interval < e.pollMax {
			interval *= 2
			if interval > e.pollMax {
				interval = e.pollMax
			}
		}

		entry, ok, err := e.history(deadline, endpoint, remoteID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue // terminal handling happens at the top of the loop
			}
			return nil, err
		}
		if !ok {
			continue
		}
		if entry.Status.StatusStr == "error" {
			return nil, fmt.Errorf("%w: backend reported %s", domain.ErrUpstream, describeFailure(entry))
		}
		if entry.Status.Completed {
			resultURL, err := firstOutputURL(endpoint, entry)
			if err != nil {
				return nil, err
			}
			return &ExecResult{URL: resultURL, RemoteID: remoteID}, nil
		}
	}
}

func (e *Executor) submit(ctx context.Context, endpoint string, graph Graph) (string, error) {
	body, err := json.Marshal(map[string]any{"prompt": graph})
	if err != nil {
		return "", fmt.Errorf("workflow: encode graph: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("workflow: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: graph submission: %v", domain.ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: graph submission: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read submit response: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: submit status %d: %s", domain.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode submit response: %v", domain.ErrUpstream, err)
	}
	if decoded.Error.Message != "" {
		return "", fmt.Errorf("%w: %s", domain.ErrUpstream, decoded.Error.Message)
	}
	if decoded.PromptID == "" {
		return "", fmt.Errorf("%w: submit response missing prompt id", domain.ErrUpstream)
	}
	return decoded.PromptID, nil
}

func (e *Executor) history(ctx context.Context, endpoint, remoteID string) (*historyEntry, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/history/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return nil, false, fmt.Errorf("workflow: build history request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, fmt.Errorf("%w: history poll: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: read history response: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("%w: history status %d", domain.ErrUpstream, resp.StatusCode)
	}
	var decoded map[string]historyEntry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false, fmt.Errorf("%w: decode history response: %v", domain.ErrUpstream, err)
	}
	entry, ok := decoded[remoteID]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// interrupt asks the backend to abandon the running graph. Failures are
// logged and swallowed: the job is already being cancelled.
func (e *Executor) interrupt(endpoint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/interrupt", nil)
	if err != nil {
		return
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Warn().Err(err).Msg("workflow: interrupt failed")
		return
	}
	resp.Body.Close()
}

func firstOutputURL(endpoint string, entry *historyEntry) (string, error) {
	for _, out := range entry.Outputs {
		for _, img := range out.Images {
			q := url.Values{}
			q.Set("filename", img.Filename)
			if img.Subfolder != "" {
				q.Set("subfolder", img.Subfolder)
			}
			if img.Type != "" {
				q.Set("type", img.Type)
			}
			return endpoint + "/view?" + q.Encode(), nil
		}
	}
	return "", fmt.Errorf("%w: completed graph produced no outputs", domain.ErrUpstream)
}

func describeFailure(entry *historyEntry) string {
	for _, msg := range entry.Status.Messages {
		pair, ok := msg.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		kind, _ := pair[0].(string)
		if kind != "execution_error" {
			continue
		}
		if detail, ok := pair[1].(map[string]any); ok {
			if text, ok := detail["exception_message"].(string); ok && text != "" {
				return text
			}
		}
	}
	if entry.Status.StatusStr != "" {
		return entry.Status.StatusStr
	}
	return "unknown execution error"
}
