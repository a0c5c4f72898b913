package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/providers/video"
	"server/internal/spend"
	"server/internal/videogen"
)

type stubRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newStubRepo() *stubRepo {
	return &stubRepo{jobs: make(map[string]*domain.Job)}
}

func (r *stubRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[cp.ID] = &cp
	return nil
}

func (r *stubRepo) Update(ctx context.Context, jobID string, upd domain.JobUpdate) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	if upd.ProgressMessage != nil {
		job.ProgressMessage = *upd.ProgressMessage
	}
	if upd.Result != nil {
		res := *upd.Result
		job.Result = &res
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	cp := *job
	return &cp, nil
}

func (r *stubRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *stubRepo) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []domain.Job
	for _, job := range r.jobs {
		if job.Status == status {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

type stubStore struct{}

func (stubStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return key, nil
}

func (stubStore) URL(key string) string { return "https://cdn.test/" + key }

type stubGate struct {
	allowed bool
}

func (g *stubGate) CanStart(ctx context.Context) (spend.Decision, error) {
	return spend.Decision{Allowed: g.allowed, Remaining: 3}, nil
}

func (g *stubGate) RecordUsage(ctx context.Context) error { return nil }

type stubAsync struct {
	opStatus video.OperationStatus
}

func (c *stubAsync) Configured() bool { return true }

func (c *stubAsync) Submit(ctx context.Context, req video.SubmitRequest) (string, error) {
	return "operations/op-1", nil
}

func (c *stubAsync) Operation(ctx context.Context, operationID string) (video.OperationStatus, error) {
	return c.opStatus, nil
}

func (c *stubAsync) Download(ctx context.Context, url string) ([]byte, error) {
	return []byte("mp4"), nil
}

type stubSync struct{}

func (stubSync) Configured() bool { return true }

func (stubSync) Submit(ctx context.Context, req video.SubmitRequest) (string, error) {
	return "https://delivery.test/out.mp4", nil
}

func (stubSync) Download(ctx context.Context, url string) ([]byte, error) {
	return []byte("mp4"), nil
}

type apiEnv struct {
	server *httptest.Server
	assets *httptest.Server
	repo   *stubRepo
	gate   *stubGate
	async  *stubAsync
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	env := &apiEnv{
		repo:  newStubRepo(),
		gate:  &stubGate{allowed: true},
		async: &stubAsync{},
	}

	env.assets = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "png-bytes")
	}))
	t.Cleanup(env.assets.Close)

	logger := zerolog.New(io.Discard)
	service := videogen.NewService(videogen.Options{
		Repo:       env.repo,
		Store:      stubStore{},
		Gate:       env.gate,
		Google:     env.async,
		Replicate:  stubSync{},
		Logger:     logger,
		HTTPClient: env.assets.Client(),
	})
	app := handlers.NewApp(logger, service, env.repo)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{Logger: logger})
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

func (env *apiEnv) post(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(env.server.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return resp
}

func (env *apiEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(env.server.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func (env *apiEnv) generatePayload() map[string]any {
	return map[string]any{
		"entity_id":           "e1",
		"action":              "bite",
		"reference_image_url": env.assets.URL + "/img.png",
		"model":               "veo-3.0-fast-generate-001",
		"duration_seconds":    8,
	}
}

func TestGenerationStartAccepted(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.post(t, "/api/v1/generations", env.generatePayload())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}
	if body["job_id"] == "" || body["status"] != "processing" {
		t.Fatalf("body = %v", body)
	}
}

func TestGenerationStartInvalidPayload(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/generations", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGenerationStartValidationError(t *testing.T) {
	env := newAPIEnv(t)

	payload := env.generatePayload()
	payload["action"] = "backflip"
	resp := env.post(t, "/api/v1/generations", payload)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "bad_request" {
		t.Fatalf("body = %v", body)
	}
}

func TestGenerationStartQuotaExceeded(t *testing.T) {
	env := newAPIEnv(t)
	env.gate.allowed = false

	resp := env.post(t, "/api/v1/generations", env.generatePayload())
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "quota_exceeded" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["remaining"]; !ok {
		t.Fatalf("quota response must carry remaining count: %v", body)
	}
}

func TestGenerationStatusAndAdvance(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.post(t, "/api/v1/generations", env.generatePayload())
	jobID, _ := decodeBody(t, resp)["job_id"].(string)
	if jobID == "" {
		t.Fatalf("start returned no job id")
	}

	resp = env.get(t, "/api/v1/generations/"+jobID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "processing" || body["operation_id"] != "operations/op-1" {
		t.Fatalf("body = %v", body)
	}

	env.async.opStatus = video.OperationStatus{Done: true, VideoURL: "https://files.test/v.mp4"}
	resp = env.get(t, "/api/v1/generations/"+jobID+"?advance=true")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("advance status = %d, want 200", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["status"] != "completed" {
		t.Fatalf("advanced body = %v", body)
	}
	result, _ := body["result"].(map[string]any)
	if result == nil || result["video_url"] == "" {
		t.Fatalf("completed job missing result: %v", body)
	}
}

func TestGenerationStatusNotFound(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.get(t, "/api/v1/generations/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGenerationList(t *testing.T) {
	env := newAPIEnv(t)
	now := time.Now()
	for _, job := range []*domain.Job{
		{ID: "p1", Status: domain.JobStatusProcessing, CreatedAt: now},
		{ID: "c1", Status: domain.JobStatusCompleted, CreatedAt: now.Add(time.Second)},
	} {
		if err := env.repo.Create(context.Background(), job); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	resp := env.get(t, "/api/v1/generations")
	body := decodeBody(t, resp)
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("default list = %v, want only processing jobs", body)
	}

	resp = env.get(t, "/api/v1/generations?status=completed")
	body = decodeBody(t, resp)
	items, _ = body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("completed list = %v", body)
	}

	resp = env.get(t, "/api/v1/generations?status=bogus")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGenerationAdvanceAllEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	if err := env.repo.Create(context.Background(), &domain.Job{
		ID:          "p1",
		Status:      domain.JobStatusProcessing,
		Progress:    10,
		OperationID: "operations/op-1",
		CreatedAt:   time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	env.async.opStatus = video.OperationStatus{Done: true, VideoURL: "https://files.test/v.mp4"}

	resp := env.post(t, "/api/v1/generations/advance", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["advanced"] != float64(1) || body["completed"] != float64(1) {
		t.Fatalf("summary = %v", body)
	}
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.get(t, "/v1/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}
