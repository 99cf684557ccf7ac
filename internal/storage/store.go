// Package storage persists generated artifacts and hands back durable URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"storyreel/internal/domain"
)

// Store writes artifacts to a durable backend.
type Store interface {
	// Put writes raw bytes under key and returns a durable URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Persist downloads sourceURL and re-hosts it under key.
	Persist(ctx context.Context, sourceURL, key, contentType string) (string, error)
}

// fetch downloads a provider-hosted artifact. Provider URLs are often
// short-lived, so the bytes are copied into our own backend.
func fetch(ctx context.Context, client *http.Client, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build download request: %v", domain.ErrStorage, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download artifact: %v", domain.ErrStorage, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: download artifact: status %d", domain.ErrStorage, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %v", domain.ErrStorage, err)
	}
	return data, nil
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: key is required", domain.ErrStorage)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: invalid key", domain.ErrStorage)
	}
	return cleaned, nil
}

var errNoStore = errors.New("storage: no store configured")
