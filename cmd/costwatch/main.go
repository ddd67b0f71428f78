package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"costwatch/internal/api"
	"costwatch/internal/billing"
	"costwatch/internal/compare"
	"costwatch/internal/config"
	"costwatch/internal/database"
	"costwatch/internal/domain"
	"costwatch/internal/events"
	"costwatch/internal/logging"
	"costwatch/internal/metrics"
	"costwatch/internal/models"
	"costwatch/internal/pipeline"
	"costwatch/internal/repository"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации базы данных")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, progressCache := initProgressCache(ctx, cfg, logger)
	defer func() { _ = repository.Close(redisClient) }()

	metrics.Register()

	eventBus := events.NewEventBus()
	subscribeJobEvents(ctx, eventBus, progressCache, logger)

	tokens := billing.NewTokenProvider(db, cfg.Billing)
	fetcher := billing.NewClient(cfg.Billing, logger)

	worker := pipeline.NewWorker(
		db, tokens, fetcher, redisClient, eventBus,
		cfg.Sync.QueueKey, cfg.Sync.PollInterval, cfg.Sync.ChunkDelay,
		logger,
	)
	go worker.Start(ctx)

	engine := compare.NewEngine(db, models.DefaultComparisonPageSize, logger)

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, db, worker, engine, progressCache, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Monitoring.PrometheusEnabled {
		go servePrometheus(cfg.Monitoring.PrometheusPort, logger)
	}

	logger.Info().Str("environment", cfg.App.Environment).Msg("costwatch started")
	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := baseLogger.With().Str("component", "costwatch-main").Logger()

	return cfg, &logger, closer, nil
}

func initProgressCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.ProgressCache) {
	ttl := time.Duration(models.ProgressCacheTTL) * time.Second

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis unavailable")
		}
	}

	primary := repository.NewRedisProgressCache(redisClient, ttl)
	fallback := repository.NewMemoryProgressCache(ttl)
	return redisClient, repository.NewFailoverProgressCache(primary, fallback, logger)
}

// subscribeJobEvents keeps the progress cache in step with the worker
// so that status polling rarely touches the primary store.
func subscribeJobEvents(ctx context.Context, bus *events.EventBus, cache domain.ProgressCache, logger *zerolog.Logger) {
	if bus == nil || cache == nil {
		return
	}

	cacheHandler := func(ev *events.Event) error {
		var job models.SyncJob
		if err := json.Unmarshal(ev.Payload, &job); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode job payload")
			return nil
		}
		if err := cache.SetJob(ctx, &job); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("event bus: cache job snapshot")
		}
		return nil
	}

	auditHandler := func(ev *events.Event) error {
		snap, err := events.DecodeJobSnapshot(ev)
		if err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode job snapshot")
			return nil
		}
		entry := logger.Info().
			Str("job_id", snap.ID).
			Str("tenant_id", snap.TenantID).
			Str("status", snap.Status).
			Int("failed_chunks", snap.FailedChunks).
			Int64("records_synced", snap.RecordsSynced)
		if snap.LastError != nil {
			entry = entry.Str("last_error", *snap.LastError)
		}
		entry.Msg("sync job finished")
		return nil
	}

	bus.Subscribe(events.EventJobQueued, cacheHandler)
	bus.Subscribe(events.EventJobProgress, cacheHandler)
	bus.Subscribe(events.EventJobCompleted, cacheHandler)
	bus.Subscribe(events.EventJobFailed, cacheHandler)
	bus.Subscribe(events.EventJobCompleted, auditHandler)
	bus.Subscribe(events.EventJobFailed, auditHandler)
}

func servePrometheus(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info().Str("addr", addr).Msg("Prometheus metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Prometheus server error")
	}
}
