package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/booking"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/cache"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/config"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/db"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/integrations"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/logging"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"

	"github.com/go-co-op/gocron/v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging, "worker")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.New(pool)
	opts, err := booking.OptionsFromConfig(cfg)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}
	// The worker never initiates gateway payments.
	svc := booking.NewService(repo, nil, cache.NewLocalLocker(), logger, opts)

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) (int, error)
	}{
		{"sweep_sessions", cfg.Booking.SweepInterval, svc.SweepStaleSessions},
		{"accrue_penalties", cfg.Booking.PenaltyInterval, svc.AccrueDuePenalties},
		{"requeue_notifications", time.Minute, func(ctx context.Context) (int, error) {
			n, err := repo.RequeueStaleNotificationJobs(ctx, 10*time.Minute)
			return int(n), err
		}},
	}
	for _, job := range jobs {
		_, err := scheduler.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(func() {
				runCtx, cancel := context.WithTimeout(ctx, job.interval)
				defer cancel()
				n, err := job.run(runCtx)
				if err != nil {
					logger.Error("action", "action", job.name, "status", "failed", "error", err)
					return
				}
				logger.Debug("action", "action", job.name, "status", "ok", "count", n)
			}),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			logger.Error("scheduler error", "job", job.name, "error", err)
			os.Exit(1)
		}
	}
	scheduler.Start()

	n := &notifier{
		store:   repo,
		sender:  integrations.NewTelegramClient(cfg.TelegramToken),
		baseURL: cfg.BaseURL,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	logger.Info("worker_started", "sweep_interval", cfg.Booking.SweepInterval, "penalty_interval", cfg.Booking.PenaltyInterval)
	runNotifications(ctx, n, logger)

	if err := scheduler.Shutdown(); err != nil {
		logger.Warn("scheduler_shutdown", "error", err)
	}
	logger.Info("worker_stopped")
}

// runNotifications polls the outbox until ctx is cancelled.
func runNotifications(ctx context.Context, n *notifier, logger *slog.Logger) {
	for {
		claimed, err := n.drain(ctx, 100)
		wait := time.Duration(0)
		switch {
		case err != nil:
			logger.Error("fetch_jobs_error", "error", err)
			wait = 5 * time.Second
		case claimed == 0:
			wait = 10 * time.Second
		}
		if wait == 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
