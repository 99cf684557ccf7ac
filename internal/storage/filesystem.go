package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"storyreel/internal/domain"
)

// FileStore persists assets onto the local filesystem. It is intended for
// development and test environments where an object storage service is not
// available.
type FileStore struct {
	basePath   string
	baseURL    string
	httpClient *http.Client
}

// NewFileStore initializes a FileStore rooted at basePath. Returned URLs are
// baseURL joined with the storage key.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "file://" + basePath
	}
	return &FileStore{
		basePath:   basePath,
		baseURL:    baseURL,
		httpClient: defaultHTTPClient(),
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put persists the provided bytes at the given relative key and returns a URL
// under the store's base URL. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if s == nil {
		return "", errNoStore
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: ensure directory: %v", domain.ErrStorage, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write file: %v", domain.ErrStorage, err)
	}
	return s.baseURL + "/" + cleanKey, nil
}

// Persist downloads sourceURL and writes it under key.
func (s *FileStore) Persist(ctx context.Context, sourceURL, key, contentType string) (string, error) {
	if s == nil {
		return "", errNoStore
	}
	data, err := fetch(ctx, s.httpClient, sourceURL)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, key, data, contentType)
}

var _ Store = (*FileStore)(nil)
