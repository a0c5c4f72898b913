// The poller is the periodic external scheduler for asynchronous jobs: the
// orchestrator makes no progress on its own, so this binary invokes one batch
// advance pass per tick until stopped.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"server/internal/adapter/repo"
	"server/internal/infra"
	"server/internal/providers/video"
	"server/internal/spend"
	"server/internal/storage"
	"server/internal/videogen"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: db connection failed")
	}
	defer dbpool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: redis connection failed")
	}
	defer redisClient.Close()

	store := newBlobStore(ctx, cfg, logger)
	jobs := repo.NewJobRepository(dbpool)
	service := videogen.NewService(videogen.Options{
		Repo:  jobs,
		Store: store,
		Gate:  spend.NewRedisGate(redisClient, cfg.DailySpendLimit),
		Google: video.NewGoogleClient(video.GoogleOptions{
			APIKey:     cfg.GoogleAPIKey,
			BaseURL:    cfg.GoogleBaseURL,
			HTTPClient: &http.Client{Timeout: 60 * time.Second},
			Logger:     &logger,
		}),
		Replicate: video.NewReplicateClient(video.ReplicateOptions{
			APIToken: cfg.ReplicateAPIToken,
			BaseURL:  cfg.ReplicateBaseURL,
			Logger:   &logger,
		}),
		Logger:       logger,
		DefaultModel: cfg.DefaultModel,
	})

	logger.Info().Dur("interval", cfg.AdvanceInterval).Msg("poller: started")
	if err := run(ctx, service, cfg.AdvanceInterval, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("poller: stopped with error")
	}
	logger.Info().Msg("poller: stopped")
}

func run(ctx context.Context, service *videogen.Service, interval time.Duration, logger zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			summary, err := service.AdvanceAll(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("poller: batch advance failed")
				continue
			}
			if summary.Advanced > 0 {
				logger.Info().
					Int("advanced", summary.Advanced).
					Int("completed", summary.Completed).
					Int("failed", summary.Failed).
					Int("processing", summary.Processing).
					Msg("poller: advanced jobs")
			}
		}
	}
}

func newBlobStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) storage.BlobStore {
	if cfg.MinioEndpoint != "" {
		client, err := infra.NewMinioClient(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("poller: failed to configure minio")
		}
		store, err := storage.NewMinioStore(ctx, client, cfg.MinioBucket, cfg.StorageBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("poller: failed to configure object storage")
		}
		return store
	}

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: failed to configure storage")
	}
	logger.Warn().Str("path", cfg.StoragePath).Msg("poller: minio not configured, using filesystem storage")
	return store
}
