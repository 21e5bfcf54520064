package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcenter/internal/api"
	"callcenter/internal/auth"
	"callcenter/internal/config"
	"callcenter/internal/database"
	"callcenter/internal/domain"
	"callcenter/internal/events"
	"callcenter/internal/logging"
	"callcenter/internal/metrics"
	"callcenter/internal/realtime"
	"callcenter/internal/repository"
	"callcenter/internal/service"
	"callcenter/internal/storage"
	"callcenter/internal/twilio"
	"callcenter/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
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
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}

	store, err := initCallStore(cfg, redisClient, logger)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	sidefx := worker.NewSideEffectQueue(redisClient, worker.RetryPolicy{}, logging.Component(logger, "sideeffects"))
	voice := twilio.NewClient(cfg.Twilio)
	if !voice.Configured() {
		logger.Warn().Msg("Twilio REST credentials missing; outbound calls are disabled")
	}

	archiver := initArchiver(ctx, cfg, logger)
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	authSvc := service.NewAuthService(db, db, issuer, logging.Component(logger, "auth"))
	calls := service.NewCallService(service.CallServiceDeps{
		Store:       store,
		Voice:       voice,
		Users:       db,
		Presence:    db,
		Events:      bus,
		SideEffects: sidefx,
		BaseURL:     cfg.Twilio.PublicBaseURL,
		Logger:      logging.Component(logger, "calls"),
	})
	sidefx.Handle(worker.TaskCompleteCall, calls.CompleteCall)
	presence := service.NewPresenceService(db, bus, logging.Component(logger, "presence"))

	hub := realtime.NewHub(bus, cfg.Calls.SendBuffer, logging.Component(logger, "hub"))
	ws := realtime.NewHandler(hub, authSvc, calls, presence, cfg.API.CORS.AllowedOrigins, logging.Component(logger, "ws"))

	server := api.NewServer(cfg, api.Services{
		Auth:     authSvc,
		Users:    service.NewUserService(db, logging.Component(logger, "users")),
		Roles:    service.NewRoleService(db, logging.Component(logger, "roles")),
		Trackers: service.NewTrackerService(db, archiver, logging.Component(logger, "trackers")),
		Uploads:  service.NewUploadService(db, archiver, logging.Component(logger, "uploads")),
		Calls:    calls,
		Tokens:   service.NewTokenService(db, db, twilio.NewTokenGenerator(cfg.Twilio), logging.Component(logger, "tokens")),
		Realtime: ws,
	}, logging.Component(logger, "http"))

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sidefx.Start(gctx)
		return nil
	})
	if redisClient != nil {
		bridge := events.NewRedisBridge(redisClient, bus, uuid.NewString(), logging.Component(logger, "bridge"))
		g.Go(func() error {
			if err := bridge.Run(gctx); err != nil {
				logger.Warn().Err(err).Msg("realtime bridge stopped; events stay local to this node")
			}
			return nil
		})
	}
	if cfg.Database.Driver == config.DriverSQLite {
		backups := database.NewBackupService(cfg.Database.Path, cfg.Backup, logging.Component(logger, "backup"))
		g.Go(func() error {
			backups.Start(gctx)
			return nil
		})
	}
	if cfg.Monitoring.PrometheusEnabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Monitoring.PrometheusPort, logger) })
	}

	g.Go(func() error {
		logger.Info().Int("http_port", cfg.API.HTTP.Port).Str("calls_store", cfg.Calls.Store).Msg("API server started")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Msg("API server stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		// The failover store and the side-effect queue both cope with an
		// unreachable Redis, so only log here.
		logger.Warn().Err(err).Msg("redis ping failed")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return client
}

func initCallStore(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) (domain.CallStore, error) {
	switch cfg.Calls.Store {
	case "memory":
		return repository.NewMemoryCallStore(), nil
	case "redis":
		if client == nil {
			return nil, errors.New("calls store redis requires redis.address")
		}
		return repository.NewRedisCallStore(client, cfg.Calls.SessionTTL), nil
	case "failover":
		if client == nil {
			return repository.NewMemoryCallStore(), nil
		}
		return repository.NewFailoverCallStore(
			repository.NewRedisCallStore(client, cfg.Calls.SessionTTL),
			repository.NewMemoryCallStore(),
			logging.Component(logger, "callstore"),
		), nil
	default:
		return nil, fmt.Errorf("unknown calls store %q", cfg.Calls.Store)
	}
}

// initArchiver returns a nil interface when archiving is off so services can
// test for it directly.
func initArchiver(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) storage.Archiver {
	if !cfg.Storage.Enabled {
		return nil
	}
	archiver, err := storage.NewMinioArchiver(ctx, cfg.Storage)
	if err != nil {
		logger.Warn().Err(err).Str("endpoint", cfg.Storage.Endpoint).Msg("object storage init failed, continuing without archives")
		return nil
	}
	logger.Info().Str("bucket", cfg.Storage.Bucket).Msg("object storage connected")
	return archiver
}

func serveMetrics(ctx context.Context, port int, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
		return err
	}
	return nil
}
