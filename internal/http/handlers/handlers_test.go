package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"storyreel/internal/composer"
	"storyreel/internal/domain"
	"storyreel/internal/http/handlers"
	"storyreel/internal/http/httpapi"
	"storyreel/internal/infra"
	"storyreel/internal/middleware"
	"storyreel/internal/providers"
	"storyreel/internal/scheduler"
	"storyreel/internal/vault"
)

const testSecret = "handler-test-secret"

type stubQueue struct {
	mu         sync.Mutex
	jobs       map[string]*domain.Job
	cancelErr  error
	enqueueErr error
	enqueued   []scheduler.EnqueueRequest
}

func newStubQueue() *stubQueue {
	return &stubQueue{jobs: make(map[string]*domain.Job)}
}

func (q *stubQueue) Enqueue(_ context.Context, req scheduler.EnqueueRequest) (*domain.Job, error) {
	if err := req.Payload.Validate(req.Type); err != nil {
		return nil, err
	}
	if q.enqueueErr != nil {
		return nil, q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, req)
	job := &domain.Job{
		ID:        fmt.Sprintf("job-%d", len(q.enqueued)),
		ProjectID: req.ProjectID,
		UserID:    req.UserID,
		Type:      req.Type,
		Status:    domain.JobStatusQueued,
		Priority:  domain.DefaultPriority,
		CreatedAt: time.Now(),
	}
	if req.Priority != nil {
		job.Priority = *req.Priority
	}
	q.jobs[job.ID] = job
	return job, nil
}

func (q *stubQueue) Cancel(context.Context, string) error { return q.cancelErr }

func (q *stubQueue) Status(_ context.Context, jobID string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	clone := *job
	return &clone, nil
}

func (q *stubQueue) ProjectJobs(_ context.Context, projectID string) ([]domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.Job
	for _, job := range q.jobs {
		if job.ProjectID == projectID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (q *stubQueue) Stats(context.Context) (domain.QueueStats, error) {
	return domain.QueueStats{Waiting: 2, Completed: 5}, nil
}

func (q *stubQueue) Pause()  {}
func (q *stubQueue) Resume() {}

type stubComposer struct {
	err error
}

func (c *stubComposer) Assemble(_ context.Context, req composer.Request) (*domain.Job, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &domain.Job{ID: "composite-1", Type: domain.JobTypeComposite, Status: domain.JobStatusQueued, Priority: domain.DefaultPriority}, nil
}

func (c *stubComposer) Archive(_ context.Context, projectID string, w io.Writer) error {
	if c.err != nil {
		return c.err
	}
	_, err := w.Write([]byte("PK"))
	return err
}

type stubScript struct {
	data       map[string]any
	structured bool
	err        error
}

func (s *stubScript) GenerateStory(context.Context, string, string) (map[string]any, bool, error) {
	return s.data, s.structured, s.err
}

type memCredRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Credential
}

func newMemCredRepo() *memCredRepo { return &memCredRepo{rows: make(map[string]*domain.Credential)} }

func credKey(userID, provider string) string { return userID + "/" + provider }

func (m *memCredRepo) Upsert(_ context.Context, cred *domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *cred
	m.rows[credKey(cred.UserID, cred.Provider)] = &clone
	return nil
}

func (m *memCredRepo) Get(_ context.Context, userID, provider string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[credKey(userID, provider)]
	if !ok {
		return nil, fmt.Errorf("%w: credential", domain.ErrNotFound)
	}
	clone := *row
	return &clone, nil
}

func (m *memCredRepo) Delete(_ context.Context, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, credKey(userID, provider))
	return nil
}

func (m *memCredRepo) ListProviders(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, row := range m.rows {
		if row.UserID == userID {
			out = append(out, row.Provider)
		}
	}
	return out, nil
}

type testEnv struct {
	queue    *stubQueue
	script   *stubScript
	compose  *stubComposer
	vault    *vault.Vault
	handler  http.Handler
	registry *providers.Registry
	oauth    map[string]*oauth2.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	registry := providers.DefaultCatalog()
	v, err := vault.New(vault.Options{
		Repo:      newMemCredRepo(),
		Providers: registry,
		Key:       bytes.Repeat([]byte{0x17}, 32),
	})
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	env := &testEnv{
		queue:    newStubQueue(),
		script:   &stubScript{data: map[string]any{"title": "A"}, structured: true},
		compose:  &stubComposer{},
		vault:    v,
		registry: registry,
		oauth:    make(map[string]*oauth2.Config),
	}
	app := &handlers.App{
		Queue:    env.queue,
		Vault:    env.vault,
		Registry: registry,
		Composer: env.compose,
		Script:   env.script,
		OAuth:    env.oauth,
		Logger:   infra.NopLogger(),
	}
	env.handler = httpapi.NewRouter(app, httpapi.Options{JWTSecret: testSecret, Logger: infra.NopLogger()})
	return env
}

func (e *testEnv) request(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		token, err := middleware.SignJWT(testSecret, userID, time.Hour)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestEnqueueJobReturnsIdentityImmediately(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/v1/jobs", "user-1", map[string]any{
		"type":       "image",
		"project_id": "p1",
		"payload":    map[string]any{"scene_id": "s1", "prompt": "harbor at dawn"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["job_id"] == "" || body["status"] != "queued" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestEnqueueJobNoProviderReturns503(t *testing.T) {
	env := newTestEnv(t)
	env.queue.enqueueErr = fmt.Errorf("%w: no image provider for user", domain.ErrNoProvider)
	rec := env.request(t, http.MethodPost, "/v1/jobs", "user-1", map[string]any{
		"type":       "image",
		"project_id": "p1",
		"payload":    map[string]any{"scene_id": "s1", "prompt": "harbor at dawn"},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error"] != "no_provider" {
		t.Fatalf("error code = %v", body["error"])
	}
}

func TestEnqueueJobValidationError(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/v1/jobs", "user-1", map[string]any{
		"type":       "image",
		"project_id": "p1",
		"payload":    map[string]any{"scene_id": "s1"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "validation" {
		t.Fatalf("error code = %v", body["error"])
	}
}

func TestJobStatusHidesForeignJobs(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.queue.Enqueue(context.Background(), scheduler.EnqueueRequest{
		ProjectID: "p1", UserID: "user-1", Type: domain.JobTypeImage,
		Payload: domain.JobPayload{SceneID: "s1", Prompt: "x"},
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}

	if rec := env.request(t, http.MethodGet, "/v1/jobs/"+job.ID, "user-1", nil); rec.Code != http.StatusOK {
		t.Fatalf("owner status = %d", rec.Code)
	}
	if rec := env.request(t, http.MethodGet, "/v1/jobs/"+job.ID, "user-2", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign status = %d, want 404", rec.Code)
	}
}

func TestCancelJobConflictMapsTo409(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.queue.Enqueue(context.Background(), scheduler.EnqueueRequest{
		ProjectID: "p1", UserID: "user-1", Type: domain.JobTypeImage,
		Payload: domain.JobPayload{SceneID: "s1", Prompt: "x"},
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	env.queue.cancelErr = fmt.Errorf("%w: cannot cancel: already processing", domain.ErrConflict)

	rec := env.request(t, http.MethodPost, "/v1/jobs/"+job.ID+"/cancel", "user-1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQueueStatsRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.request(t, http.MethodGet, "/v1/queue/stats", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	rec := env.request(t, http.MethodGet, "/v1/queue/stats", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["waiting"].(float64) != 2 || body["completed"].(float64) != 5 {
		t.Fatalf("stats body = %v", body)
	}
}

func TestCredentialLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPut, "/v1/credentials/openai", "user-1", map[string]any{
		"auth_mode": "api_key",
		"secret":    "sk-test-123",
		"config":    map[string]string{"model": "gpt-4o"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.request(t, http.MethodGet, "/v1/credentials/openai", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("info status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-test-123") {
		t.Fatal("credential info leaked the secret")
	}
	body := decodeBody(t, rec)
	if body["auth_mode"] != "api_key" {
		t.Fatalf("info body = %v", body)
	}

	rec = env.request(t, http.MethodGet, "/v1/credentials/", "user-1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "openai") {
		t.Fatalf("list = %d %s", rec.Code, rec.Body.String())
	}

	if rec = env.request(t, http.MethodDelete, "/v1/credentials/openai", "user-1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec = env.request(t, http.MethodGet, "/v1/credentials/openai", "user-1", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("info after delete = %d, want auth failure", rec.Code)
	}
}

func TestGenerateScript(t *testing.T) {
	env := newTestEnv(t)
	env.script.data = map[string]any{"title": "A", "scenes": []any{}}
	env.script.structured = true

	rec := env.request(t, http.MethodPost, "/v1/projects/p1/script", "user-1", map[string]any{"story": "Once upon a time"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["structured"] != true {
		t.Fatalf("body = %v", body)
	}

	if rec := env.request(t, http.MethodPost, "/v1/projects/p1/script", "user-1", map[string]any{"story": "  "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty story status = %d", rec.Code)
	}
}

func TestComposeProject(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/v1/projects/p1/compose", "user-1", map[string]any{
		"scenes": []map[string]any{{"scene_id": "s1", "video_asset_id": "vid-1"}},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["type"] != "composite" {
		t.Fatalf("body = %v", body)
	}
}

func TestProjectArchiveStreamsZip(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/v1/projects/p1/assets/archive", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("content type = %q", got)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty archive body")
	}
}

func TestProjectArchiveMapsErrors(t *testing.T) {
	env := newTestEnv(t)
	env.compose.err = fmt.Errorf("%w: project p1 has no assets", domain.ErrNotFound)
	rec := env.request(t, http.MethodGet, "/v1/projects/p1/assets/archive", "user-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestOAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenServer.Close()
	env.oauth["suno"] = &oauth2.Config{
		ClientID:     "app-id",
		ClientSecret: "app-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:  tokenServer.URL + "/authorize",
			TokenURL: tokenServer.URL + "/token",
		},
	}

	rec := env.request(t, http.MethodGet, "/v1/credentials/suno/oauth/start", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d", rec.Code)
	}
	var cookie string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "oauth_state" {
			cookie = c.Value
		}
	}
	if cookie == "" {
		t.Fatal("no state cookie set")
	}
	state, _, _ := strings.Cut(cookie, ":")

	// Mismatched state is a hard failure.
	req := httptest.NewRequest(http.MethodGet, "/v1/oauth/callback?state=wrong&code=abc", nil)
	token, err := middleware.SignJWT(testSecret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: cookie})
	mismatch := httptest.NewRecorder()
	env.handler.ServeHTTP(mismatch, req)
	if mismatch.Code != http.StatusBadRequest {
		t.Fatalf("mismatch status = %d", mismatch.Code)
	}

	// Matching state exchanges the code and stores tokens.
	req = httptest.NewRequest(http.MethodGet, "/v1/oauth/callback?state="+state+"&code=abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: cookie})
	ok := httptest.NewRecorder()
	env.handler.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Fatalf("callback status = %d body=%s", ok.Code, ok.Body.String())
	}

	material, err := env.vault.Get(context.Background(), "user-1", "suno")
	if err != nil {
		t.Fatalf("vault get: %v", err)
	}
	if material.AccessToken != "at-1" {
		t.Fatalf("access token = %q", material.AccessToken)
	}
}
