package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"homework-reminder/internal/config"
	"homework-reminder/internal/lease"
	"homework-reminder/internal/model"
	"homework-reminder/internal/notifier"
	"homework-reminder/internal/repository"
	"homework-reminder/internal/repository/memory"
	"homework-reminder/internal/service/reminder"
	redisclient "homework-reminder/pkg/redis"
)

type notificationStore interface {
	reminder.NotificationStore
	notifier.NotificationWriter
}

type pushStore interface {
	notifier.SubscriptionStore
	Save(ctx context.Context, sub *model.PushSubscription) error
}

// stores is the persistence selected by reminder.store.
type stores struct {
	reminders     reminder.ReminderStore
	notifications notificationStore
	subs          pushStore
}

// postgresStores writes delivery events through events inside the finalize transaction.
func postgresStores(db repository.DB, events repository.FinalizeEventWriter) stores {
	return stores{
		reminders:     repository.NewReminderRepository(db).WithEvents(events),
		notifications: repository.NewNotificationRepository(db),
		subs:          repository.NewPushSubscriptionRepository(db),
	}
}

func memoryStores() stores {
	return stores{
		reminders:     memory.NewReminderStore(),
		notifications: memory.NewNotificationStore(),
		subs:          memory.NewPushSubscriptionStore(),
	}
}

// newRedis connects only when the redis lease or the MQ retry limit needs it.
func newRedis(cfg *config.Config) (*goredis.Client, error) {
	if cfg.Reminder.Lease.Backend != "redis" && (cfg.MQ.MaxRedeliveries <= 0 || cfg.Redis.Addr == "") {
		return nil, nil
	}
	return redisclient.NewRedisClient(cfg.Redis)
}

// newLease builds the single-flight lease; the returned func releases its connection.
func newLease(ctx context.Context, cfg *config.Config, rdb goredis.UniversalClient, log *zap.Logger) (reminder.Lease, func(), error) {
	lc := cfg.Reminder.Lease
	switch lc.Backend {
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis lease requires redis.addr")
		}
		log.Info("Using Redis delivery lease", zap.String("addr", cfg.Redis.Addr), zap.String("key", lc.Key))
		return lease.NewRedis(rdb, lc.Key, lc.TTL), func() {}, nil

	case "nats":
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("homework-reminder-worker"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("jetstream: %w", err)
		}
		kv, err := lease.OpenNATSBucket(ctx, js, cfg.NATS.Bucket, lc.TTL)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		log.Info("Using NATS delivery lease", zap.String("bucket", cfg.NATS.Bucket), zap.String("key", lc.Key))
		return lease.NewNATS(kv, lc.Key), nc.Close, nil

	default:
		return lease.NewLocal(), func() {}, nil
	}
}

func workerConfig(rc config.Config) reminder.WorkerConfig {
	return reminder.WorkerConfig{
		TickInterval:    rc.Reminder.TickInterval,
		BatchSize:       rc.Reminder.BatchSize,
		MaxAttempts:     rc.Reminder.MaxAttempts,
		DeliveryTimeout: rc.Reminder.DeliveryTimeout,
		Concurrency:     rc.Reminder.Concurrency,
		ClaimTTL:        rc.Reminder.ClaimTTL,
	}
}
