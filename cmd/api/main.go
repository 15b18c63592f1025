package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/booking"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/cache"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/config"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/db"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/http/handlers"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/integrations"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/integrations/gateway"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/logging"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging, "api")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	slog.SetDefault(logger)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("migrate error", "error", err)
		os.Exit(1)
	}

	repo := repository.New(pool)

	var locker booking.Locker = cache.NewLocalLocker()
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis error", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()
		locker = cache.NewRedisLocker(client, "trips")
	}

	// Interfaces stay nil when a backend is not configured so the service
	// and handlers can tell.
	var (
		payGateway booking.Gateway
		payments   handlers.PaymentQuerier
		media      handlers.Media
	)
	if cfg.Gateway.Enabled() {
		tokens := gateway.NewTokenManager(gateway.TokenConfig{
			ClientID:     cfg.Gateway.ClientID,
			ClientSecret: cfg.Gateway.ClientSecret,
			TokenURL:     cfg.Gateway.TokenURL,
		}, nil)
		client := gateway.NewClient(gateway.Config{
			BaseURL:    cfg.Gateway.BaseURL,
			MerchantID: cfg.Gateway.MerchantID,
			NotifyURL:  cfg.Gateway.NotifyURL,
			ReturnURL:  cfg.Gateway.ReturnURL,
			RatePerSec: cfg.Gateway.RatePerSec,
		}, tokens, nil, logger)
		payGateway = client
		payments = client
	} else {
		logger.Warn("gateway_disabled", "reason", "GATEWAY_CLIENT_ID or GATEWAY_CLIENT_SECRET missing")
	}
	if cfg.S3.Bucket != "" {
		s3Client, err := integrations.NewS3(ctx, cfg.S3)
		if err != nil {
			logger.Error("s3 error", "error", err)
			os.Exit(1)
		}
		media = s3Client
	}

	opts, err := booking.OptionsFromConfig(cfg)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}
	svc := booking.NewService(repo, payGateway, locker, logger, opts)

	telegram := integrations.NewTelegramClient(cfg.TelegramToken)
	h := handlers.New(repo, svc, media, payments, cfg, logger).WithTelegram(telegram)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api_listen", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("api_stopped")
}
