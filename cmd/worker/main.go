package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"homework-reminder/internal/clock"
	"homework-reminder/internal/config"
	"homework-reminder/internal/httpserver"
	"homework-reminder/internal/mqhandler"
	"homework-reminder/internal/notifier"
	"homework-reminder/internal/service/reminder"
	"homework-reminder/pkg/db"
	"homework-reminder/pkg/logger"
	"homework-reminder/pkg/mq"
	"homework-reminder/pkg/otel"
	"homework-reminder/pkg/outbox"
	"homework-reminder/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting reminder worker...",
		zap.String("store", cfg.Reminder.Store),
		zap.String("lease", cfg.Reminder.Lease.Backend),
		zap.Duration("tick_interval", cfg.Reminder.TickInterval),
		zap.String("mq_url", cfg.MQ.URL),
	)

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName: cfg.OTel.ServiceName + "-worker",
		Environment: cfg.Env,
		Endpoint:    cfg.OTel.Endpoint,
		SampleRatio: cfg.OTel.SampleRatio,
		Enabled:     cfg.OTel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	// MQ Publisher（DLQ 与直接发布事件共用）
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Stores + event emitter
	var (
		st         stores
		events     reminder.EventEmitter
		purger     reminder.OutboxPurger
		ready      httpserver.Pinger
		background sync.WaitGroup
	)
	if cfg.Reminder.Store == "postgres" {
		pool, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer pool.Close()
		ready = pool

		outboxRepo := outbox.NewRepository(pool)
		st = postgresStores(pool, notifier.NewOutboxEmitter(outboxRepo))
		// 事件随 Finalize 同事务写入 outbox，worker 本身不再发事件
		events = reminder.NopEmitter()
		purger = outboxRepo

		dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
		background.Add(1)
		go func() {
			defer background.Done()
			dispatcher.Start(ctx)
		}()
	} else {
		log.Warn("Using in-memory store: reminders are lost on restart and not shared between processes")
		st = memoryStores()
		events = notifier.NewPublisherEmitter(publisher)
	}

	// Redis: delivery lease and MQ retry counting
	rdb, err := newRedis(cfg)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	var retries *util.RetryCounter
	if rdb != nil {
		defer rdb.Close()
		if cfg.MQ.MaxRedeliveries > 0 {
			retries = util.NewRetryCounter(rdb, cfg.MQ.RetryWindow)
		}
	}

	// Lease
	var leaseClient goredis.UniversalClient
	if rdb != nil {
		leaseClient = rdb
	}
	tickLease, closeLease, err := newLease(ctx, cfg, leaseClient, log)
	if err != nil {
		log.Fatal("Failed to init delivery lease", zap.Error(err))
	}
	defer closeLease()

	// Notifier: in-app is authoritative, web push is best effort
	var sink reminder.Notifier = notifier.NewInApp(st.notifications, clk, log)
	if cfg.WebPush.Enabled {
		sink = notifier.NewFanout(log, sink, notifier.NewWebPush(cfg.WebPush, st.subs, nil, log))
	}

	// Services
	planner := reminder.NewPlanner(reminder.DefaultPresenter{}, cfg.Reminder.StaleGrace)
	gateway := reminder.NewGateway(planner, st.reminders, clk, log)
	worker := reminder.NewDeliveryWorker(st.reminders, sink, events, tickLease, clk, workerConfig(*cfg), log)
	janitor := reminder.NewJanitor(st.reminders, purger, clk, cfg.Reminder.Retention, cfg.Reminder.CleanupInterval, log)

	background.Add(2)
	go func() {
		defer background.Done()
		worker.Run(ctx)
	}()
	go func() {
		defer background.Done()
		janitor.Run(ctx)
	}()

	// Assignment lifecycle consumers（每个 routing key 一个队列）
	handler := mqhandler.NewAssignmentHandler(gateway, log)
	for routingKey, handle := range handler.Handlers() {
		queue := mq.QueueName(routingKey)
		log.Info("Initializing consumer", zap.String("queue", queue), zap.String("routing_key", routingKey))
		consumer, err := mq.NewConsumer(cfg.MQ.URL, queue, routingKey, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.String("queue", queue), zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetHandler(handle)
		consumer.SetDeadLetter(publisher)
		if retries != nil {
			consumer.SetRetryLimit(retries, cfg.MQ.MaxRedeliveries)
		}

		background.Add(1)
		go func() {
			defer background.Done()
			if err := consumer.StartConsuming(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Consumer stopped", zap.String("queue", queue), zap.Error(err))
				stop()
			}
		}()
	}

	// HTTP server: health + metrics; the in-memory store also serves the query API here
	handlers := httpserver.Handlers{}
	if cfg.Reminder.Store != "postgres" {
		tracker := reminder.NewReadTracker(st.reminders, st.notifications, clk)
		handlers.Reminders = httpserver.NewReminderHandler(tracker, gateway, log)
		handlers.Push = httpserver.NewPushHandler(st.subs, log)
	}
	srv := httpserver.NewRouter(ready, handlers).Server(cfg.Server.Port)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	log.Info("Reminder worker is fully initialized and running")

	<-ctx.Done()
	log.Info("Shutting down reminder worker gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 等待进行中的 tick 落库
	background.Wait()
	log.Info("Reminder worker shutdown complete")
}
