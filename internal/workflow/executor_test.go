package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"storyreel/internal/domain"
)

type fakeBackend struct {
	mu         atomic.Int64
	completeAt int64
	failWith   string
	interrupts atomic.Int64
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode submit: %v", err)
		}
		if _, ok := body["prompt"]; !ok {
			t.Error("submit body missing prompt graph")
		}
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "wf-123"})
	})
	mux.HandleFunc("GET /history/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "wf-123") {
			http.NotFound(w, r)
			return
		}
		polls := b.mu.Add(1)
		if b.failWith != "" {
			json.NewEncoder(w).Encode(map[string]any{"wf-123": map[string]any{
				"status": map[string]any{
					"completed":  false,
					"status_str": "error",
					"messages": []any{
						[]any{"execution_error", map[string]any{"exception_message": b.failWith}},
					},
				},
			}})
			return
		}
		if polls < b.completeAt {
			json.NewEncoder(w).Encode(map[string]any{})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"wf-123": map[string]any{
			"status": map[string]any{"completed": true, "status_str": "success"},
			"outputs": map[string]any{
				"7": map[string]any{
					"images": []any{map[string]any{"filename": "out_00001.png", "subfolder": "gen", "type": "output"}},
				},
			},
		}})
	})
	mux.HandleFunc("POST /interrupt", func(w http.ResponseWriter, r *http.Request) {
		b.interrupts.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestExecutor() *Executor {
	return NewExecutor(Options{PollInitial: 10 * time.Millisecond, PollMax: 20 * time.Millisecond})
}

func TestExecuteSuccessAfterPolling(t *testing.T) {
	backend := &fakeBackend{completeAt: 3}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	res, err := newTestExecutor().Execute(context.Background(), srv.URL, Build(Params{Prompt: "x", Seed: 1}), 5*time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.RemoteID != "wf-123" {
		t.Fatalf("remote id = %q", res.RemoteID)
	}
	if !strings.Contains(res.URL, "filename=out_00001.png") {
		t.Fatalf("result url = %q", res.URL)
	}
}

func TestExecuteBackendErrorSurfacedAsUpstream(t *testing.T) {
	backend := &fakeBackend{failWith: "CUDA out of memory"}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	_, err := newTestExecutor().Execute(context.Background(), srv.URL, Build(Params{Prompt: "x", Seed: 1}), 5*time.Second)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("backend message lost: %v", err)
	}
	if errors.Is(err, domain.ErrTimeout) {
		t.Fatal("backend error must be distinguishable from timeout")
	}
}

func TestExecuteTimeoutIsTyped(t *testing.T) {
	backend := &fakeBackend{completeAt: 1 << 30} // never completes
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	_, err := newTestExecutor().Execute(context.Background(), srv.URL, Build(Params{Prompt: "x", Seed: 1}), 60*time.Millisecond)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

func TestExecuteCancellationInterruptsBackend(t *testing.T) {
	backend := &fakeBackend{completeAt: 1 << 30}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := newTestExecutor().Execute(ctx, srv.URL, Build(Params{Prompt: "x", Seed: 1}), 5*time.Second)
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for backend.interrupts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if backend.interrupts.Load() == 0 {
		t.Fatal("cancellation should best-effort interrupt the backend")
	}
}

func TestExecuteUnreachableEndpoint(t *testing.T) {
	_, err := newTestExecutor().Execute(context.Background(), "http://127.0.0.1:1", Build(Params{Prompt: "x", Seed: 1}), time.Second)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
}
