package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/paper-repository-api/api/swagger"
	"github.com/noah-isme/paper-repository-api/internal/handler"
	"github.com/noah-isme/paper-repository-api/internal/repository"
	"github.com/noah-isme/paper-repository-api/internal/service"
	"github.com/noah-isme/paper-repository-api/pkg/cache"
	"github.com/noah-isme/paper-repository-api/pkg/config"
	"github.com/noah-isme/paper-repository-api/pkg/database"
	"github.com/noah-isme/paper-repository-api/pkg/jobs"
	"github.com/noah-isme/paper-repository-api/pkg/logger"
	"github.com/noah-isme/paper-repository-api/pkg/mailer"
	"github.com/noah-isme/paper-repository-api/pkg/search"
	"github.com/noah-isme/paper-repository-api/pkg/storage"
)

// @title Paper Repository API
// @version 1.0.0
// @description Research paper catalog with access requests, reviews and notifications
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database, logr); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	db, err := database.NewPostgres(ctx, cfg.Database, logr)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis, logr)
	if err != nil {
		return err
	}
	defer redisClient.Close() //nolint:errcheck

	blobs, closeBlobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlobs()

	index, err := search.Open(cfg.Search.IndexPath)
	if err != nil {
		return err
	}
	defer index.Close() //nolint:errcheck

	templates, err := mailer.NewTemplates()
	if err != nil {
		return err
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	paperRepo := repository.NewPaperRepository(db)
	requestRepo := repository.NewPaperRequestRepository(db)
	otpRepo := repository.NewOTPRepository(redisClient)
	cacheRepo := repository.NewCacheRepository(redisClient, "paper-repository", logr)

	notifier := service.NewNotificationService(mailer.NewSMTPMailer(cfg.SMTP, logr), templates, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Stats.CacheTTL, logr)
	statsSvc := service.NewStatsService(paperRepo, cacheSvc, userRepo, cfg.Stats.CacheTTL, logr)

	indexer := service.NewSearchIndexService(paperRepo, index, metrics, logr)
	queue := jobs.NewQueue("search-index", indexer.Handle, jobs.QueueConfig{
		Workers:    cfg.Search.Workers,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()

	if count, err := indexer.Rebuild(ctx); err != nil {
		logr.Warn("initial search index rebuild failed", zap.Error(err))
	} else {
		logr.Info("search index ready", zap.Int("documents", count))
	}

	authSvc := service.NewAuthService(userRepo, otpRepo, notifier, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		OTPTTL:            cfg.OTP.TTL,
		OTPMaxAttempts:    cfg.OTP.MaxAttempts,
	})
	if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
		if err := authSvc.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.FullName); err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
	}

	userSvc := service.NewUserService(userRepo, paperRepo, blobs, queue, notifier, validate, logr)
	paperSvc := service.NewPaperService(
		paperRepo,
		blobs,
		queue,
		indexer,
		storage.NewSignedURLSigner(cfg.Storage.DownloadURLSecret, cfg.Storage.DownloadURLTTL),
		userRepo,
		userRepo,
		statsSvc,
		validate,
		logr,
		service.PaperConfig{MaxUploadBytes: cfg.Storage.MaxUploadBytes, PublicBaseURL: cfg.PublicBaseURL},
	)
	requestSvc := service.NewPaperRequestService(requestRepo, paperRepo, userRepo, blobs, notifier, userRepo, validate, metrics, logr)

	handlers := routeHandlers{
		auth:     handler.NewAuthHandler(authSvc),
		users:    handler.NewUserHandler(userSvc),
		papers:   handler.NewPaperHandler(paperSvc, cfg.Storage.MaxUploadBytes),
		requests: handler.NewPaperRequestHandler(requestSvc),
		stats:    handler.NewStatsHandler(statsSvc),
		search:   handler.NewSearchHandler(indexer),
		metrics:  handler.NewMetricsHandler(metrics, readinessChecks(db, redisClient)),
	}

	router := newRouter(cfg, logr, authSvc, metrics, userRepo, handlers)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}
	return nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendLocal:
		store, err := storage.NewLocalStorage(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.StorageBackendGridFS, "":
		store, err := storage.NewGridFSStorage(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func readinessChecks(db *sqlx.DB, client *redis.Client) map[string]handler.ReadinessCheck {
	return map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
		"redis": func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
