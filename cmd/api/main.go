package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"server/internal/adapter/repo"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
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

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store := newBlobStore(ctx, cfg, logger)

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer redisClient.Close()

	jobs := repo.NewJobRepository(dbpool)
	service := videogen.NewService(videogen.Options{
		Repo:         jobs,
		Store:        store,
		Gate:         spend.NewRedisGate(redisClient, cfg.DailySpendLimit),
		Google:       newGoogleClient(cfg, &logger),
		Replicate:    newReplicateClient(cfg, &logger),
		Logger:       logger,
		DefaultModel: cfg.DefaultModel,
	})

	app := handlers.NewApp(logger, service, jobs)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:          logger,
		AllowedOrigins:  allowedOrigins(),
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// newBlobStore prefers MinIO and falls back to the local filesystem for
// development environments without object storage.
func newBlobStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) storage.BlobStore {
	if cfg.MinioEndpoint != "" {
		client, err := infra.NewMinioClient(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure minio")
		}
		store, err := storage.NewMinioStore(ctx, client, cfg.MinioBucket, cfg.StorageBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure object storage")
		}
		return store
	}

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}
	logger.Warn().Str("path", cfg.StoragePath).Msg("minio not configured, using filesystem storage")
	return store
}

func newGoogleClient(cfg *infra.Config, logger *zerolog.Logger) *video.GoogleClient {
	return video.NewGoogleClient(video.GoogleOptions{
		APIKey:     cfg.GoogleAPIKey,
		BaseURL:    cfg.GoogleBaseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     logger,
	})
}

func newReplicateClient(cfg *infra.Config, logger *zerolog.Logger) *video.ReplicateClient {
	return video.NewReplicateClient(video.ReplicateOptions{
		APIToken:   cfg.ReplicateAPIToken,
		BaseURL:    cfg.ReplicateBaseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Logger:     logger,
	})
}

func allowedOrigins() []string {
	raw := os.Getenv("CORS_ALLOWED_ORIGINS")
	if raw == "" {
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
