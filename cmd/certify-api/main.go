package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hafiyazfar/certrepo/internal/auth"
	"github.com/hafiyazfar/certrepo/internal/certificates"
	"github.com/hafiyazfar/certrepo/internal/config"
	"github.com/hafiyazfar/certrepo/internal/notifications"
	"github.com/hafiyazfar/certrepo/internal/render"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	repo := certificates.NewRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}

	// The notification log shares the connection pool with the repository.
	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to open gorm connection", zap.Error(err))
	}

	email := notifications.NewSendGridChannel(cfg.Email.SendGridAPIKey, cfg.Email.FromName, cfg.Email.FromAddress)
	notifier, err := notifications.NewService(gormDB, email, logger)
	if err != nil {
		logger.Fatal("failed to initialize notifications", zap.Error(err))
	}

	clock := certificates.SystemClock()
	ids := certificates.NewIdentifierService()
	renderer := render.NewPDFRenderer(render.DefaultPDFOptions())

	policy := certificates.ShareTokenPolicy{
		DefaultValidity:  time.Duration(cfg.Sharing.DefaultValidityDays) * 24 * time.Hour,
		DefaultMaxAccess: cfg.Sharing.DefaultMaxAccess,
	}

	lifecycle := certificates.NewLifecycleService(repo, ids, renderer, notifier, clock, logger, cfg.Verification.BaseURL)
	approval := certificates.NewApprovalService(repo, notifier, clock, logger)
	sharing := certificates.NewShareService(repo, ids, clock, logger, policy)
	verification := certificates.NewVerificationService(repo, clock, logger)
	handler := certificates.NewHandler(lifecycle, approval, sharing, verification, logger)

	sweeper := certificates.NewTokenSweeper(repo, clock, logger)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sweeper.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = sweeper.Run(ctx)
	}); err != nil {
		logger.Fatal("failed to schedule token sweeper", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	api := router.Group("/api/v1")
	handler.RegisterRoutes(api, auth.Middleware(cfg.Security.JWTSecret))

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
