package composer

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"storyreel/internal/domain"
)

func TestArchiveBundlesReadableAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.mp4":
			_, _ = w.Write([]byte("video-bytes"))
		case "/a1.mp3":
			_, _ = w.Write([]byte("audio-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	assets := &stubAssets{rows: map[string]domain.Asset{
		"vid-1": {ID: "vid-1", ProjectID: "p1", SceneID: "s1", Kind: domain.AssetKindVideo, URL: srv.URL + "/v1.mp4"},
		"aud-1": {ID: "aud-1", ProjectID: "p1", SceneID: "s1", Kind: domain.AssetKindAudio, URL: srv.URL + "/a1.mp3"},
		"gone":  {ID: "gone", ProjectID: "p1", SceneID: "s2", Kind: domain.AssetKindVideo, URL: srv.URL + "/missing.mp4"},
	}}
	c, err := New(Options{Assets: assets, Queue: &captureQueue{}, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}

	var buf bytes.Buffer
	if err := c.Archive(context.Background(), "p1", &buf); err != nil {
		t.Fatalf("archive: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if len(names) != 2 {
		t.Fatalf("archive holds %d entries, want 2 (unreadable asset skipped): %v", len(names), names)
	}
	if !names["s1/video-vid-1.mp4"] || !names["s1/audio-aud-1.mp3"] {
		t.Fatalf("unexpected entry names: %v", names)
	}
}

func TestArchiveEmptyProjectIsNotFound(t *testing.T) {
	c, err := New(Options{Assets: &stubAssets{rows: map[string]domain.Asset{}}, Queue: &captureQueue{}})
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	var buf bytes.Buffer
	err = c.Archive(context.Background(), "p-none", &buf)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArchiveFailsWhenNothingReadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assets := &stubAssets{rows: map[string]domain.Asset{
		"vid-1": {ID: "vid-1", ProjectID: "p1", SceneID: "s1", Kind: domain.AssetKindVideo, URL: srv.URL + "/v1.mp4"},
	}}
	c, err := New(Options{Assets: assets, Queue: &captureQueue{}, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	var buf bytes.Buffer
	err = c.Archive(context.Background(), "p1", &buf)
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}
