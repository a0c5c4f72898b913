package videogen

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/video"
	"server/internal/spend"
	"server/internal/storage"
)

// AsyncClient is the contract of an asynchronous provider adapter: submit
// returns an operation handle, which is then polled and, on success,
// downloaded.
type AsyncClient interface {
	Configured() bool
	Submit(ctx context.Context, req video.SubmitRequest) (operationID string, err error)
	Operation(ctx context.Context, operationID string) (video.OperationStatus, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// SyncClient is the contract of a synchronous provider adapter: submit blocks
// until upstream completion and returns the artifact location directly.
type SyncClient interface {
	Configured() bool
	Submit(ctx context.Context, req video.SubmitRequest) (videoURL string, err error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Options bundles the collaborators of the orchestration service.
type Options struct {
	Repo       domain.JobRepository
	Store      storage.BlobStore
	Gate       spend.Gate
	Google     AsyncClient
	Replicate  SyncClient
	Logger     zerolog.Logger
	HTTPClient *http.Client
	// DefaultModel is used when a start request names no model.
	DefaultModel string
	// Now overrides the clock; tests use it to cross the poll ceiling.
	Now func() time.Time
}

// Service is the job orchestrator: Start dispatches new jobs, Advance drives
// asynchronous jobs to a terminal state.
type Service struct {
	repo         domain.JobRepository
	store        storage.BlobStore
	gate         spend.Gate
	google       AsyncClient
	replicate    SyncClient
	backups      *BackupWriter
	logger       zerolog.Logger
	httpClient   *http.Client
	defaultModel string
	now          func() time.Time

	// advancing is the in-process single-flight set. It only stops this
	// process from double-advancing one job; two instances may still advance
	// the same job concurrently, which the design tolerates.
	mu        sync.Mutex
	advancing map[string]struct{}
}

// NewService wires an orchestration service from its collaborators.
func NewService(opts Options) *Service {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	defaultModel := opts.DefaultModel
	if defaultModel == "" {
		defaultModel = "veo-3.0-fast-generate-001"
	}
	return &Service{
		repo:         opts.Repo,
		store:        opts.Store,
		gate:         opts.Gate,
		google:       opts.Google,
		replicate:    opts.Replicate,
		backups:      NewBackupWriter(opts.Store, opts.Logger, now),
		logger:       opts.Logger,
		httpClient:   httpClient,
		defaultModel: defaultModel,
		now:          now,
	}
}

// tryAcquire marks a job as being advanced by this process.
func (s *Service) tryAcquire(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advancing == nil {
		s.advancing = make(map[string]struct{})
	}
	if _, busy := s.advancing[jobID]; busy {
		return false
	}
	s.advancing[jobID] = struct{}{}
	return true
}

func (s *Service) release(jobID string) {
	s.mu.Lock()
	delete(s.advancing, jobID)
	s.mu.Unlock()
}
