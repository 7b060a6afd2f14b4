package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/sorteo-api/api/swagger"
	"github.com/noah-isme/sorteo-api/internal/handler"
	"github.com/noah-isme/sorteo-api/internal/middleware"
	"github.com/noah-isme/sorteo-api/internal/repository"
	"github.com/noah-isme/sorteo-api/internal/router"
	"github.com/noah-isme/sorteo-api/internal/service"
	"github.com/noah-isme/sorteo-api/pkg/cache"
	"github.com/noah-isme/sorteo-api/pkg/config"
	"github.com/noah-isme/sorteo-api/pkg/database"
	"github.com/noah-isme/sorteo-api/pkg/jobs"
	"github.com/noah-isme/sorteo-api/pkg/logger"
	"github.com/noah-isme/sorteo-api/pkg/storage"
)

const (
	shutdownTimeout    = 15 * time.Second
	limiterCleanupTick = 10 * time.Minute
)

// @title Sorteo API
// @version 1.0.0
// @description Raffle portal: ticket image validation handoff, participant registration and admin panel.
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "apply database migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr, *migrateOnly); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger, migrateOnly bool) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate || migrateOnly {
		if err := database.Migrate(ctx, db, logr); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}
	if migrateOnly {
		logr.Info("migrations applied, exiting")
		return nil
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, dashboard caching disabled", zap.Error(err))
	}
	if redisClient != nil {
		redisRepo := repository.NewCacheRepository(redisClient, logr)
		defer redisRepo.Close()
		cacheRepo = redisRepo
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cacheRepo != nil)

	images, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		return fmt.Errorf("prepare upload storage: %w", err)
	}

	validate := validator.New()
	validationRepo := repository.NewValidationRepository(db)
	participantRepo := repository.NewParticipantRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	approvals := storage.NewTokenSigner("approval", cfg.Validation.ApprovalSecret, cfg.Validation.TTL)
	imageLinks := storage.NewTokenSigner("image", cfg.Images.SignedURLSecret, cfg.Images.SignedURLTTL)

	webhook := service.NewWebhookClient(service.WebhookConfig{
		URL:      cfg.Validation.WebhookURL,
		Username: cfg.Validation.WebhookUser,
		Password: cfg.Validation.WebhookPassword,
		Token:    cfg.Validation.WebhookToken,
		Timeout:  cfg.Validation.WebhookTimeout,
	}, nil, metrics, logr)

	gateway := service.NewValidationGateway(validationRepo, images, webhook, service.GatewayConfig{
		MaxFileSize:  cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Uploads.AllowedMIMEs,
		TTL:          cfg.Validation.TTL,
		CallbackURL:  cfg.CallbackURL(),
	}, metrics, logr)

	validationSvc := service.NewValidationService(validationRepo, gateway, approvals, validate, service.ValidationServiceConfig{
		PollAfter:       cfg.Validation.PollAfter,
		RedispatchDelay: cfg.Validation.RedispatchDelay,
		SweepInterval:   cfg.Validation.SweepInterval,
	}, metrics, logr)

	redispatch := jobs.NewQueue("validation-redispatch", validationSvc.HandleRedispatch, jobs.QueueConfig{
		MaxRetries: cfg.Validation.RedispatchRetries,
		RetryDelay: cfg.Validation.RedispatchDelay,
		Logger:     logr,
		OnDrop: func(job jobs.Job, err error) {
			metrics.DispatchResult("abandoned")
			logr.Warn("validation redispatch abandoned, record will expire", zap.String("correlation_id", job.ID), zap.Error(err))
		},
	})
	validationSvc.UseQueue(redispatch)

	registrationSvc := service.NewRegistrationService(validationRepo, participantRepo, approvals, validate, cfg.Tickets.NumberWidth, cacheSvc, metrics, logr)

	authSvc := service.NewAuthService(adminRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
	})
	if err := authSvc.SeedAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	participantSvc := service.NewParticipantService(participantRepo, adminRepo, images, imageLinks, cacheSvc, validate, service.ParticipantConfig{
		PublicBaseURL: cfg.PublicBaseURL,
	}, logr)
	exportSvc := service.NewExportService(participantRepo, adminRepo, logr, nil, nil)
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Participants: participantRepo,
		Validations:  validationRepo,
		Cache:        cacheSvc,
		Metrics:      metrics,
		Logger:       logr,
		Config: service.DashboardServiceConfig{
			CacheTTL:    cfg.Dashboard.CacheTTL,
			SeriesDays:  cfg.Dashboard.SeriesDays,
			NumberWidth: cfg.Tickets.NumberWidth,
		},
	})

	uploadLimiter := middleware.NewRateLimiter(cfg.Uploads.RateLimit, cfg.Uploads.RateWindow)

	engine := router.New(router.Dependencies{
		Logger:         logr,
		Metrics:        metrics,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		CallbackSecret: cfg.Validation.CallbackSecret,
		UploadLimiter:  uploadLimiter,
		Tokens:         authSvc,
		Audit:          adminRepo,
		Validation:     handler.NewValidationHandler(validationSvc, cfg.Uploads.MaxFileSizeBytes),
		Registration:   handler.NewRegistrationHandler(registrationSvc),
		Dashboard:      handler.NewDashboardHandler(dashboardSvc),
		Auth:           handler.NewAuthHandler(authSvc),
		Participants:   handler.NewParticipantHandler(participantSvc, exportSvc),
		Health:         handler.NewMetricsHandler(metrics, db),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return redispatch.Run(gctx)
	})
	g.Go(func() error {
		return validationSvc.StartSweeper(gctx)
	})
	g.Go(func() error {
		return uploadLimiter.Run(gctx, limiterCleanupTick)
	})
	g.Go(func() error {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logr.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
