// Package main runs the classroom engagement HTTP server with WebSocket
// fanout and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classpulse/backend/config"
	"github.com/classpulse/backend/internal/auth"
	"github.com/classpulse/backend/internal/engine"
	"github.com/classpulse/backend/internal/inference"
	"github.com/classpulse/backend/internal/metrics"
	"github.com/classpulse/backend/internal/middleware"
	"github.com/classpulse/backend/internal/models"
	"github.com/classpulse/backend/internal/realtime"
	"github.com/classpulse/backend/internal/reports"
	"github.com/classpulse/backend/internal/sessions"
	"github.com/classpulse/backend/pkg/database"
	"github.com/classpulse/backend/pkg/queue"
	"github.com/classpulse/backend/pkg/redis"
	"github.com/classpulse/backend/pkg/response"
	"github.com/classpulse/backend/pkg/storage"
	"github.com/classpulse/backend/pkg/telemetry"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	tel := telemetry.New()

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Stores
	sessionRepo := sessions.NewRepository(pool)
	metricRepo := metrics.NewRepository(pool)
	reportRepo := reports.NewRepository(pool)

	// Engagement engine
	engCfg := engine.Config{
		OnlineWindow:      cfg.Engine.OnlineWindow,
		BucketWidth:       cfg.Engine.BucketWidth,
		BroadcastDebounce: cfg.Engine.BroadcastDebounce,
		SweepInterval:     cfg.Engine.SweepInterval,
		AlertInterval:     cfg.Engine.AlertInterval,
		EndedRetention:    cfg.Engine.EndedRetention,
		MaxTrendBuckets:   engine.DefaultConfig().MaxTrendBuckets,
		AppendRetries:     cfg.Engine.AppendRetries,
		AppendBackoff:     cfg.Engine.AppendBackoff,
		Thresholds: engine.AlertThresholds{
			ConfusedShare:    cfg.Engine.ConfusedShare,
			BoredShare:       cfg.Engine.BoredShare,
			MinAvgEngagement: cfg.Engine.MinAvgEngagement,
		},
	}
	eng := engine.New(engCfg, sessionRepo, metricRepo, hub, tel, logger)
	if err := eng.Load(ctx); err != nil {
		logger.Fatal("recover sessions", zap.Error(err))
	}

	// Report archival: session end enqueues a job consumed by cmd/worker.
	jobQueue := queue.NewQueue(rdb.Client, logger)
	eng.SetSessionEndHook(func(sessionID uuid.UUID) {
		qCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jobQueue.EnqueueReportArchive(qCtx, queue.ReportArchivePayload{SessionID: sessionID}); err != nil {
			logger.Error("enqueue report archive failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	})

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()
	go eng.Run(engineCtx)

	// Handlers
	sessionHandler := sessions.NewHandler(eng, sessionRepo, logger)
	readingCache := metrics.NewCache(rdb.Client)
	inferenceClient := inference.NewClient(cfg.Inference.URL, cfg.Inference.Timeout)
	metricHandler := metrics.NewHandler(eng, metricRepo, readingCache, inferenceClient, tel, logger)
	compiler := reports.NewCompiler(eng, sessionRepo, metricRepo)
	reportHandler := reports.NewHandler(compiler, reportRepo, s3Client, logger)

	jwtValidate := func(token string) (uuid.UUID, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.UserID, claims.Role, nil
	}
	wsAuthorize := func(sessionID, userID uuid.UUID, role string) bool {
		if role == string(models.RoleAdmin) {
			return true
		}
		if eng.IsMember(sessionID, userID) {
			return true
		}
		ok, err := sessionRepo.HasParticipant(context.Background(), sessionID, userID)
		return err == nil && ok
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and scrape
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(tel.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		member := sessions.RequireMember(eng, sessionRepo)

		api.GET("/sessions", sessionHandler.List)
		api.POST("/sessions", middleware.RequireRole("admin", "teacher"), sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.POST("/sessions/:id/join", sessionHandler.Join)
		api.POST("/sessions/:id/leave", sessionHandler.Leave)
		api.POST("/sessions/:id/end", middleware.RequireRole("admin", "teacher"), sessionHandler.End)
		api.GET("/sessions/:id/participants", member, sessionHandler.Roster)

		api.POST("/sessions/:id/metrics", metricHandler.Ingest)
		api.POST("/sessions/:id/frames", metricHandler.IngestFrame)
		api.GET("/sessions/:id/metrics", middleware.RequireRole("admin", "teacher"), member, metricHandler.History)
		api.GET("/sessions/:id/snapshot", member, metricHandler.Snapshot)
		api.GET("/sessions/:id/trends", member, metricHandler.Trends)
		api.GET("/sessions/:id/students/:studentID/engagement", member, metricHandler.StudentEngagement)

		api.GET("/sessions/:id/report", member, reportHandler.Get)
		api.GET("/sessions/:id/report/archive", member, reportHandler.Archive)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, wsAuthorize))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	engineCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
