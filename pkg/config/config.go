package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,gt=0"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Name     string `yaml:"name" validate:"required"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

// DSN 返回 PostgreSQL 连接串
func (c DBConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, sslMode,
	)
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url" validate:"required"`
	// MaxRedeliveries 临时故障最多重新入队的次数，需要 Redis 计数；0 表示不限制
	MaxRedeliveries int64         `yaml:"max_redeliveries"`
	RetryWindow     time.Duration `yaml:"retry_window"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig NATS JetStream 配置（用于分布式租约）
type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port" validate:"required"`
}

// OTelConfig 链路追踪配置
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// ReminderConfig 提醒投递相关的可调参数
type ReminderConfig struct {
	Store           string        `yaml:"store" validate:"oneof=postgres memory"`
	TickInterval    time.Duration `yaml:"tick_interval" validate:"gt=0"`
	BatchSize       int           `yaml:"batch_size" validate:"gt=0"`
	MaxAttempts     int           `yaml:"max_attempts" validate:"gt=0"`
	StaleGrace      time.Duration `yaml:"stale_grace" validate:"gte=0"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" validate:"gt=0"`
	Concurrency     int           `yaml:"concurrency" validate:"gt=0"`
	ClaimTTL        time.Duration `yaml:"claim_ttl" validate:"gt=0"`
	Retention       time.Duration `yaml:"retention" validate:"gt=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gt=0"`
	Lease           LeaseConfig   `yaml:"lease"`
}

// LeaseConfig 单飞租约配置，backend: local / redis / nats
type LeaseConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=local redis nats"`
	Key     string        `yaml:"key"`
	TTL     time.Duration `yaml:"ttl"`
}

// WebPushConfig Web Push 推送配置
type WebPushConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Subscriber      string `yaml:"subscriber"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	TTL             int    `yaml:"ttl"`
}

// WorstCaseTick 估算一次 tick 的最长耗时：每轮并发投递 concurrency 条，每条最多 delivery_timeout，
// 另留一个 delivery_timeout 给 Finalize
func (c ReminderConfig) WorstCaseTick() time.Duration {
	rounds := (c.BatchSize + c.Concurrency - 1) / c.Concurrency
	return time.Duration(rounds+1) * c.DeliveryTimeout
}

// DefaultReminderConfig 返回默认提醒配置
func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{
		Store:           "postgres",
		TickInterval:    60 * time.Second,
		BatchSize:       200,
		MaxAttempts:     3,
		StaleGrace:      time.Hour,
		DeliveryTimeout: 10 * time.Second,
		Concurrency:     8,
		ClaimTTL:        5 * time.Minute,
		Retention:       90 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		Lease: LeaseConfig{
			Backend: "local",
			Key:     "reminder:delivery:tick",
			TTL:     2 * time.Minute,
		},
	}
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideNATSFromEnv 从环境变量覆盖NATS配置
func OverrideNATSFromEnv(cfg *NATSConfig) {
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideReminderFromEnv 从环境变量覆盖提醒配置（REMINDER_TICK_INTERVAL=30s 等）
func OverrideReminderFromEnv(cfg *ReminderConfig) {
	if store := os.Getenv("REMINDER_STORE"); store != "" {
		cfg.Store = strings.ToLower(store)
	}
	if backend := os.Getenv("REMINDER_LEASE_BACKEND"); backend != "" {
		cfg.Lease.Backend = strings.ToLower(backend)
	}
	durations := map[string]*time.Duration{
		"REMINDER_TICK_INTERVAL":    &cfg.TickInterval,
		"REMINDER_STALE_GRACE":      &cfg.StaleGrace,
		"REMINDER_DELIVERY_TIMEOUT": &cfg.DeliveryTimeout,
		"REMINDER_RETENTION":        &cfg.Retention,
	}
	for key, dst := range durations {
		if raw := os.Getenv(key); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				*dst = d
			}
		}
	}
	if raw := os.Getenv("REMINDER_MAX_ATTEMPTS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.MaxAttempts = n
		}
	}
}
