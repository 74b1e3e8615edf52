package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/hostel-announce-api/api/swagger"
	"github.com/noah-isme/hostel-announce-api/internal/handler"
	"github.com/noah-isme/hostel-announce-api/internal/middleware"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	"github.com/noah-isme/hostel-announce-api/internal/repository"
	"github.com/noah-isme/hostel-announce-api/internal/service"
	rediscache "github.com/noah-isme/hostel-announce-api/pkg/cache"
	"github.com/noah-isme/hostel-announce-api/pkg/config"
	"github.com/noah-isme/hostel-announce-api/pkg/database"
	"github.com/noah-isme/hostel-announce-api/pkg/jobs"
	"github.com/noah-isme/hostel-announce-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/hostel-announce-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/hostel-announce-api/pkg/middleware/requestid"
	"github.com/noah-isme/hostel-announce-api/pkg/storage"
)

// @title Hostel Announcement API
// @version 1.0.0
// @description Announcement targeting, scheduling, approval, delivery and engagement service for hostel management.
// @BasePath /api/v1
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := rediscache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	validate := validator.New()
	repos := repository.NewRepositories(db)
	uow := repository.NewUnitOfWork(db)

	metricsSvc := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Engagement.CacheTTL, logr, redisClient != nil)

	sender := service.NewLoggingChannelSender(logr)

	serviceCfg := service.AnnouncementServiceConfig{
		QueueLockTTL: cfg.Scheduling.QueueLockTTL,
		MaxAttempts:  cfg.Scheduling.MaxAttempts,
		SweepLimit:   cfg.Sweeps.BatchLimit,
		Services: service.ServiceSetConfig{
			Targeting: service.TargetingServiceConfig{
				AudienceCacheTTL:  cfg.Targeting.AudienceCacheTTL,
				OverMessageWindow: cfg.Targeting.OverMessageWindow,
				OverMessageMax:    cfg.Targeting.OverMessageMax,
			},
			Scheduling: service.SchedulingServiceConfig{SLALead: cfg.Scheduling.SLALead},
			Approval: service.ApprovalServiceConfig{
				SLADeadline:    cfg.Approval.SLADeadline,
				MaxEscalations: cfg.Approval.MaxEscalations,
			},
			Delivery: service.DeliveryServiceConfig{
				DefaultBatchSize: cfg.Delivery.DefaultBatchSize,
				MaxRetries:       cfg.Delivery.MaxRetries,
				MaxBackoff:       cfg.Delivery.MaxBackoff,
			},
			Engagement: service.EngagementServiceConfig{
				DeliveryWeight:   cfg.Engagement.DeliveryWeight,
				ReadWeight:       cfg.Engagement.ReadWeight,
				CompletionWeight: cfg.Engagement.CompletionWeight,
				AckWeight:        cfg.Engagement.AckWeight,
				CacheTTL:         cfg.Engagement.CacheTTL,
			},
		},
	}

	announcementSvc := service.NewAnnouncementService(uow, repos, cacheSvc, sender, validate, logr, serviceCfg)
	domain := announcementSvc.Services()

	authSvc := service.NewAuthService(repos.Users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "hostel-announce-api",
	})

	exportStore, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	exportSigner := storage.NewSignedURLSigner(cfg.Export.SigningSecret, cfg.Export.SignedURLTTL)

	dispatchQueue := jobs.NewQueue("delivery-dispatch", func(ctx context.Context, job jobs.Job) error {
		batchID, ok := job.Payload.(string)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}
		return domain.Deliveries.DispatchBatch(ctx, batchID)
	}, jobs.QueueConfig{
		Workers:    cfg.Delivery.WorkerConcurrency,
		MaxRetries: cfg.Delivery.MaxRetries,
		Logger:     logr,
	})

	announcementSvc.OnBatchCreated(func(batchID string) {
		if err := dispatchQueue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "dispatch", Payload: batchID}); err != nil {
			logr.Warn("failed to enqueue dispatch job", zap.String("batch_id", batchID), zap.Error(err))
		}
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	authHandler := handler.NewAuthHandler(authSvc)
	announcementHandler := handler.NewAnnouncementHandler(announcementSvc)
	targetHandler := handler.NewTargetHandler(domain.Targeting)
	scheduleHandler := handler.NewScheduleHandler(domain.Scheduling)
	approvalHandler := handler.NewApprovalHandler(domain.Approvals, announcementSvc)
	deliveryHandler := handler.NewDeliveryHandler(domain.Deliveries, announcementSvc)
	engagementHandler := handler.NewEngagementHandler(domain.Engagement)
	exportHandler := handler.NewExportHandler(domain.Engagement, exportStore, exportSigner)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)
	api.GET("/exports/:token", exportHandler.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	authed.POST("/auth/logout", authHandler.Logout)
	authed.GET("/auth/me", authHandler.Me)

	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleWarden, models.RoleStaff)

	announcements := authed.Group("/announcements")
	{
		announcements.POST("", staff, announcementHandler.Create)
		announcements.GET("", announcementHandler.List)
		announcements.GET("/:id", announcementHandler.Get)
		announcements.PUT("/:id", staff, announcementHandler.Update)
		announcements.DELETE("/:id", staff, announcementHandler.Delete)
		announcements.POST("/:id/publish", staff, announcementHandler.Publish)
		announcements.POST("/:id/archive", staff, announcementHandler.Archive)
		announcements.GET("/:id/versions", staff, announcementHandler.Versions)

		announcements.PUT("/:id/target", staff, targetHandler.Set)
		announcements.GET("/:id/target", targetHandler.Get)
		announcements.GET("/:id/target/reach", staff, targetHandler.Reach)

		announcements.POST("/:id/schedule", staff, scheduleHandler.Create)
		announcements.GET("/:id/schedule", scheduleHandler.Get)
		announcements.DELETE("/:id/schedule", staff, scheduleHandler.Cancel)

		announcements.POST("/:id/approval", staff, approvalHandler.Submit)
		announcements.GET("/:id/approval", staff, approvalHandler.Get)
		announcements.POST("/:id/approval/approve", staff, approvalHandler.Approve)
		announcements.POST("/:id/approval/reject", staff, approvalHandler.Reject)
		announcements.POST("/:id/approval/resubmit", staff, approvalHandler.Resubmit)
		announcements.POST("/:id/approval/escalate", staff, approvalHandler.Escalate)
		announcements.GET("/:id/approval/history", staff, approvalHandler.History)

		announcements.POST("/:id/deliveries", staff, deliveryHandler.Initialize)
		announcements.GET("/:id/deliveries", staff, deliveryHandler.Summary)

		announcements.POST("/:id/views", engagementHandler.RecordView)
		announcements.POST("/:id/read", engagementHandler.RecordRead)
		announcements.POST("/:id/acknowledge", engagementHandler.Acknowledge)
		announcements.GET("/:id/engagement", staff, engagementHandler.Metrics)
		announcements.POST("/:id/engagement/recalculate", staff, engagementHandler.Recalculate)
		announcements.GET("/:id/engagement/reading-time", staff, engagementHandler.ReadingTime)
		announcements.GET("/:id/engagement/export", staff, engagementHandler.Export)
		announcements.POST("/:id/engagement/exports", staff, exportHandler.CreateExport)
	}

	authed.POST("/workflows/announcements", staff,
		middleware.Audit(repos.Users, models.AuditActionAnnouncementCreate, "announcement_workflow"),
		announcementHandler.CreateComplete)

	recurring := authed.Group("/recurring-announcements")
	{
		recurring.POST("", staff, scheduleHandler.CreateRecurring)
		recurring.GET("", staff, scheduleHandler.ListRecurring)
		recurring.DELETE("/:id", staff, scheduleHandler.DeactivateRecurring)
	}

	deliveries := authed.Group("/deliveries")
	{
		deliveries.GET("/batches/:batchId", staff, deliveryHandler.GetBatch)
		deliveries.POST("/:deliveryId/result", staff, deliveryHandler.RecordResult)
	}

	admins := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	authed.POST("/ops/deliveries/retries", admins, deliveryHandler.ProcessRetries)

	authed.GET("/ops/metrics", staff, metricsHandler.Snapshot)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatchQueue.Start(rootCtx)
	defer dispatchQueue.Stop()

	if cfg.Sweeps.Enabled {
		startSweeps(rootCtx, cfg, announcementSvc, exportStore, logr)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// startSweeps launches the background tickers that drive scheduled
// publications, recurring spawns, SLA scans, delivery retries and export
// retention.
func startSweeps(ctx context.Context, cfg *config.Config, svc *service.AnnouncementService, store *storage.LocalStorage, logr *zap.Logger) {
	workerID := sweepWorkerID()
	domain := svc.Services()

	go runTicker(ctx, cfg.Sweeps.PublishInterval, func(ctx context.Context) {
		if n, err := svc.ProcessScheduledPublications(ctx, workerID); err != nil {
			logr.Warn("publish sweep failed", zap.Error(err))
		} else if n > 0 {
			logr.Info("publish sweep completed", zap.Int("published", n))
		}
	})

	go runTicker(ctx, cfg.Sweeps.RecurringInterval, func(ctx context.Context) {
		if n, err := svc.ProcessRecurringAnnouncements(ctx); err != nil {
			logr.Warn("recurring sweep failed", zap.Error(err))
		} else if n > 0 {
			logr.Info("recurring sweep completed", zap.Int("spawned", n))
		}
	})

	go runTicker(ctx, cfg.Sweeps.SLAInterval, func(ctx context.Context) {
		if ids, err := domain.Scheduling.ScanSLABreaches(ctx); err != nil {
			logr.Warn("schedule SLA sweep failed", zap.Error(err))
		} else if len(ids) > 0 {
			logr.Warn("schedules past SLA deadline", zap.Strings("announcement_ids", ids))
		}
		if ids, err := domain.Approvals.ScanSLABreaches(ctx); err != nil {
			logr.Warn("approval SLA sweep failed", zap.Error(err))
		} else if len(ids) > 0 {
			logr.Warn("approvals past SLA deadline", zap.Strings("announcement_ids", ids))
		}
	})

	go runTicker(ctx, cfg.Sweeps.RetryInterval, func(ctx context.Context) {
		if n, err := domain.Deliveries.ProcessDueRetries(ctx, cfg.Sweeps.BatchLimit); err != nil {
			logr.Warn("retry sweep failed", zap.Error(err))
		} else if n > 0 {
			logr.Info("retry sweep completed", zap.Int("retried", n))
		}
	})

	go runTicker(ctx, time.Hour, func(_ context.Context) {
		if deleted, err := store.CleanupOlderThan(cfg.Export.RetentionTTL); err != nil {
			logr.Warn("export cleanup failed", zap.Error(err))
		} else if len(deleted) > 0 {
			logr.Info("expired exports removed", zap.Int("count", len(deleted)))
		}
	})
}

func runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func sweepWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
