package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"homework-reminder/internal/clock"
	"homework-reminder/internal/config"
	"homework-reminder/internal/httpserver"
	"homework-reminder/internal/repository"
	"homework-reminder/internal/service/reminder"
	"homework-reminder/pkg/db"
	"homework-reminder/pkg/logger"
	"homework-reminder/pkg/otel"
	"homework-reminder/pkg/outbox"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	if cfg.Reminder.Store != "postgres" {
		log.Fatal("reminder-api needs the postgres store; with reminder.store=memory the worker serves the query API itself")
	}

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName: cfg.OTel.ServiceName + "-api",
		Environment: cfg.Env,
		Endpoint:    cfg.OTel.Endpoint,
		SampleRatio: cfg.OTel.SampleRatio,
		Enabled:     cfg.OTel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// Init DB
	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer pool.Close()

	clk := clock.Real()

	// Init Repositories
	reminders := repository.NewReminderRepository(pool)
	notifications := repository.NewNotificationRepository(pool)
	subs := repository.NewPushSubscriptionRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	// Init Services
	planner := reminder.NewPlanner(reminder.DefaultPresenter{}, cfg.Reminder.StaleGrace)
	gateway := reminder.NewGateway(planner, reminders, clk, log)
	tracker := reminder.NewReadTracker(reminders, notifications, clk)

	// Router
	router := httpserver.NewRouter(pool, httpserver.Handlers{
		Reminders: httpserver.NewReminderHandler(tracker, gateway, log),
		Push:      httpserver.NewPushHandler(subs, log),
		Outbox:    httpserver.NewOutboxHandler(outbox.NewReplayService(outboxRepo, log), log),
	})
	srv := router.Server(cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("Reminder API starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server start failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down reminder API...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
}
