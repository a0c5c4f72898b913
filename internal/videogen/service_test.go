package videogen

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/video"
	"server/internal/spend"
)

// memRepo is an in-memory domain.JobRepository. It appends "create:<id>" to
// the shared event log so tests can assert write ordering against the store.
type memRepo struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	events *[]string
	now    func() time.Time
}

func newMemRepo(events *[]string, now func() time.Time) *memRepo {
	return &memRepo{jobs: make(map[string]*domain.Job), events: events, now: now}
}

func (r *memRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	r.jobs[cp.ID] = &cp
	if r.events != nil {
		*r.events = append(*r.events, "create:"+cp.ID)
	}
	return nil
}

func (r *memRepo) Update(ctx context.Context, jobID string, upd domain.JobUpdate) (*domain.Job, error) {
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
	if upd.OperationID != nil {
		job.OperationID = *upd.OperationID
	}
	if upd.Result != nil {
		res := *upd.Result
		job.Result = &res
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	job.UpdatedAt = r.now()
	cp := *job
	return &cp, nil
}

func (r *memRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memRepo) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
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

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// memStore is an in-memory storage.BlobStore recording "put:<key>" events.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	events  *[]string
}

func newMemStore(events *[]string) *memStore {
	return &memStore{objects: make(map[string][]byte), events: events}
}

func (s *memStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	if s.events != nil {
		*s.events = append(*s.events, "put:"+key)
	}
	return key, nil
}

func (s *memStore) URL(key string) string {
	return "https://cdn.test/" + key
}

type fakeGate struct {
	mu         sync.Mutex
	allowed    bool
	remaining  int
	reason     string
	usageCalls int
}

func (g *fakeGate) CanStart(ctx context.Context) (spend.Decision, error) {
	return spend.Decision{Allowed: g.allowed, Remaining: g.remaining, Reason: g.reason}, nil
}

func (g *fakeGate) RecordUsage(ctx context.Context) error {
	g.mu.Lock()
	g.usageCalls++
	g.mu.Unlock()
	return nil
}

type fakeAsync struct {
	configured bool

	submitID  string
	submitErr error

	opStatus video.OperationStatus
	opErr    error
	opCalls  int

	downloadData []byte
	downloadErr  error
}

func (c *fakeAsync) Configured() bool { return c.configured }

func (c *fakeAsync) Submit(ctx context.Context, req video.SubmitRequest) (string, error) {
	return c.submitID, c.submitErr
}

func (c *fakeAsync) Operation(ctx context.Context, operationID string) (video.OperationStatus, error) {
	c.opCalls++
	return c.opStatus, c.opErr
}

func (c *fakeAsync) Download(ctx context.Context, url string) ([]byte, error) {
	return c.downloadData, c.downloadErr
}

type fakeSync struct {
	configured bool

	videoURL  string
	submitErr error

	downloadData []byte
	downloadErr  error
}

func (c *fakeSync) Configured() bool { return c.configured }

func (c *fakeSync) Submit(ctx context.Context, req video.SubmitRequest) (string, error) {
	return c.videoURL, c.submitErr
}

func (c *fakeSync) Download(ctx context.Context, url string) ([]byte, error) {
	return c.downloadData, c.downloadErr
}

// testEnv bundles a service wired to fakes plus the fakes themselves.
type testEnv struct {
	service *Service
	repo    *memRepo
	store   *memStore
	gate    *fakeGate
	async   *fakeAsync
	sync    *fakeSync
	events  []string
	nowTime time.Time
	assets  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		nowTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		gate:    &fakeGate{allowed: true, remaining: 10},
		async:   &fakeAsync{configured: true, submitID: "operations/op-123"},
		sync:    &fakeSync{configured: true, videoURL: "https://delivery.test/out.mp4", downloadData: []byte("sync-bytes")},
	}
	now := func() time.Time { return env.nowTime }
	env.repo = newMemRepo(&env.events, now)
	env.store = newMemStore(&env.events)

	env.assets = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "png-bytes")
	}))
	t.Cleanup(env.assets.Close)

	env.service = NewService(Options{
		Repo:       env.repo,
		Store:      env.store,
		Gate:       env.gate,
		Google:     env.async,
		Replicate:  env.sync,
		Logger:     zerolog.New(io.Discard),
		HTTPClient: env.assets.Client(),
		Now:        now,
	})
	return env
}

func httpNotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}

func (env *testEnv) startRequest() StartRequest {
	return StartRequest{
		EntityID:          "e1",
		Action:            "bite",
		ReferenceImageURL: env.assets.URL + "/img.png",
		Model:             "veo-3.0-fast-generate-001",
		DurationSeconds:   8,
	}
}
