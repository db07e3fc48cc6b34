// Package main is the entry point for the ticketdesk HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
	"github.com/oldtowntours/ticketdesk/internal/config"
	"github.com/oldtowntours/ticketdesk/internal/handler"
	"github.com/oldtowntours/ticketdesk/internal/metrics"
	"github.com/oldtowntours/ticketdesk/internal/models"
	"github.com/oldtowntours/ticketdesk/internal/provider"
	"github.com/oldtowntours/ticketdesk/internal/repository"
	"github.com/oldtowntours/ticketdesk/internal/scheduler"
	"github.com/oldtowntours/ticketdesk/internal/service"
	"github.com/oldtowntours/ticketdesk/internal/storage"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("ticketdesk", registry)

	store, err := storage.NewFilesystemStore(cfg.ShortLink.StorageDir)
	if err != nil {
		logger.Fatal("Failed to initialize document storage", zap.Error(err))
	}

	repo := repository.NewRepository(db)
	bokunClient := bokun.NewClient(&cfg.Bokun, logger)
	verifier := bokun.NewVerifier(cfg.Bokun.WebhookSecret)

	sched := scheduler.NewScheduler(logger)

	svc := service.NewService(service.Deps{
		Repo:      repo,
		Redis:     redisClient,
		Bokun:     bokunClient,
		WhatsApp:  provider.NewWhatsAppProvider(&cfg.Delivery.WhatsApp, logger),
		SMS:       provider.NewSMSProvider(&cfg.Delivery.SMS, logger),
		Email:     provider.NewEmailProvider(&cfg.Delivery.Email, logger),
		Scheduler: sched,
		Config:    cfg,
		Metrics:   m,
		Logger:    logger,
	})

	registerJobs(sched, svc, cfg)

	h := handler.NewHandler(
		svc,
		verifier,
		store,
		m,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		cfg,
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      h.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	if err := sched.Start(schedCtx); err != nil {
		logger.Error("Failed to start scheduler", zap.Error(err))
	}

	go func() {
		logger.Info("Starting server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if sched.IsRunning() {
		if err := sched.Stop(); err != nil {
			logger.Error("Failed to stop scheduler", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// registerJobs wires the periodic background work: the bounded
// reconciliation run, the webhook retry pass, the message retry pass, and
// daily expired-link cleanup.
func registerJobs(sched *scheduler.Scheduler, svc service.Service, cfg *config.Config) {
	sched.Register(scheduler.Job{
		Name:     "booking-sync",
		Interval: time.Duration(cfg.Sync.IntervalMinutes) * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := svc.Sync().Run(ctx, false)
			if err == service.ErrSyncInFlight {
				return nil
			}
			return err
		},
	})

	sched.Register(scheduler.Job{
		Name:     "webhook-retry",
		Interval: time.Duration(cfg.Sync.RetryIntervalMinutes) * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := svc.Webhook().RetryAll(ctx)
			return err
		},
	})

	sched.Register(scheduler.Job{
		Name:     "message-retry",
		Interval: time.Duration(cfg.Sync.RetryIntervalMinutes) * time.Minute,
		Run: func(ctx context.Context) error {
			var allChannels *models.Channel
			_, err := svc.Delivery().RetryAll(ctx, allChannels)
			return err
		},
	})

	sched.Register(scheduler.Job{
		Name:     "link-cleanup",
		Interval: 24 * time.Hour,
		Run: func(ctx context.Context) error {
			_, err := svc.ShortLink().DeleteExpired(ctx)
			return err
		},
	})
}
