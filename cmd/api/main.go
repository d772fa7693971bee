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

	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-notify/config"
	"fleet-notify/internal/credstore"
	"fleet-notify/internal/handler"
	appredis "fleet-notify/internal/redis"
	"fleet-notify/internal/repository"
	"fleet-notify/internal/server"
	"fleet-notify/internal/services"
	"fleet-notify/internal/transport/wagateway"
	"fleet-notify/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	appLogger := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(appLogger)
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("Failed to create database pool: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to reach database: %v", err)
	}

	// Redis
	appredis.Initialize(appredis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
	})
	limiter := appredis.NewRateLimiter(appredis.GetClient(), appredis.DefaultRateLimitConfig())

	// Credential store, with optional S3 mirror for ephemeral hosts
	if cfg.CredKey == "" {
		log.Fatal("CRED_ENCRYPTION_KEY is required")
	}
	var mirror credstore.Mirror
	if cfg.S3Enabled {
		m, err := credstore.NewS3Mirror(ctx, credstore.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    "credentials",
		})
		if err != nil {
			log.Fatalf("Failed to configure S3 mirror: %v", err)
		}
		mirror = m
	}
	creds, err := credstore.New(cfg.AuthDir, cfg.CredKey, mirror, appLogger)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}

	// Repositories
	sessionRepo := repository.NewSessionRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)
	billingRepo := repository.NewBillingRepository(pool)

	// Services
	provider := wagateway.NewProvider(cfg.GatewayURL, appLogger)
	manager := services.NewSessionManager(provider, sessionRepo, creds, appLogger)
	messageService := services.NewMessageService(manager, sessionRepo, messageRepo, appLogger)
	renderer := services.NewMessageRenderer(messageRepo)
	notificationService := services.NewNotificationService(manager, messageRepo, appLogger)
	consumer := services.NewQueueConsumer(notificationRepo, sessionRepo, manager, messageService, renderer, appLogger)
	scheduler := services.NewScheduler(notificationRepo, billingRepo, notificationService, cfg.SweepHour, appLogger)

	// HTTP surface
	router := server.NewRouter(server.RouterConfig{
		Mode:      cfg.AppMode,
		JWTSecret: cfg.JWTSecret,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(manager),
		Session: handler.NewSessionHandler(manager, sessionRepo, appLogger),
		Message: handler.NewMessageHandler(messageService),
		Notify:  handler.NewNotifyHandler(notificationService),
	}, limiter, appLogger)

	// Bring back previously paired sessions before accepting traffic-
	// dependent work.
	if err := manager.RestoreAllSessions(ctx); err != nil {
		appLogger.Errorf("Session restore failed: %v", err)
	}

	consumer.Start()
	scheduler.Start()

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: router,
	}
	go func() {
		appLogger.Infof("Starting server on port %s", cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	appLogger.Infof("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("HTTP shutdown: %v", err)
	}

	scheduler.Stop()
	consumer.Stop()
	manager.Shutdown()

	appLogger.Infof("Bye")
	os.Exit(0)
}
