package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vitrin/marketplace/internal/app"
	"github.com/vitrin/marketplace/internal/auth"
	"github.com/vitrin/marketplace/internal/categories"
	"github.com/vitrin/marketplace/internal/listings"
	"github.com/vitrin/marketplace/internal/observability"
	"github.com/vitrin/marketplace/internal/platform/cache"
	"github.com/vitrin/marketplace/internal/platform/db"
	"github.com/vitrin/marketplace/internal/shared"
	"github.com/vitrin/marketplace/internal/storage"
	"github.com/vitrin/marketplace/internal/view"
	"github.com/vitrin/marketplace/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "vitrin_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := storage.New(storage.Config{
		Driver:        cfg.StorageDriver,
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKeyID,
		SecretKey:     cfg.S3SecretAccessKey,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
	})
	if err != nil {
		logger.Error("init object storage", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	categoryService := categories.NewService(
		categories.NewRepository(dbpool),
		cache.NewJSONCache(redisClient, cfg.CategoryCacheTTL),
		logger,
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	serviceCfg := listings.ServiceConfig{
		Guard:       shared.NewIdempotencyStore(dbpool),
		Auditor:     shared.NewAuditLogger(dbpool),
		Recorder:    metrics,
		MaxImageLen: cfg.ListingMaxImageBytes,
	}
	if cfg.ListingCleanupOrphans {
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		serviceCfg.Cleaner = jobClient
	}
	listingService := listings.NewService(listings.NewRepository(dbpool), store, categoryService, serviceCfg, logger)
	draftStore := listings.NewRedisDraftStore(redisClient, cfg.DraftTTL)
	listingsHandler := listings.NewHandler(logger, listingService, draftStore, categoryService, templates, csrfManager)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		AuthHandler:     authHandler,
		ListingsHandler: listingsHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("storage", cfg.StorageDriver),
			slog.Bool("cleanup_orphans", cfg.ListingCleanupOrphans),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
