package config

import (
	"fmt"
	"log"
	"time"

	"homework-reminder/pkg/config"
)

// Config is shared by cmd/worker and cmd/api; each process reads the sections it needs.
type Config struct {
	Env      string                `yaml:"-"`
	DB       config.DBConfig       `yaml:"db"`
	MQ       config.MQConfig       `yaml:"mq"`
	Redis    config.RedisConfig    `yaml:"redis"`
	NATS     config.NATSConfig     `yaml:"nats"`
	Server   config.ServerConfig   `yaml:"server"`
	OTel     config.OTelConfig     `yaml:"otel"`
	Reminder config.ReminderConfig `yaml:"reminder"`
	WebPush  config.WebPushConfig  `yaml:"webpush"`
}

// Load 使用统一配置中心加载配置，失败直接退出
func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfg, err := LoadFrom(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom merges base.yaml, <env>.yaml and secrets.env from dir, then applies
// environment overrides (highest priority) and validates the result.
func LoadFrom(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:      env,
		Server:   config.ServerConfig{Port: ":8080"},
		Reminder: config.DefaultReminderConfig(),
		OTel:     config.OTelConfig{ServiceName: "homework-reminder"},
		NATS:     config.NATSConfig{Bucket: "reminder-lease"},
		MQ:       config.MQConfig{RetryWindow: time.Hour},
	}
	if err := config.Decode(cfgMap, cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideNATSFromEnv(&cfg.NATS)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideReminderFromEnv(&cfg.Reminder)

	if err := config.Validate(cfg.Reminder); err != nil {
		return nil, err
	}
	if cfg.Reminder.Store == "postgres" {
		if err := config.Validate(cfg.DB); err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
	}
	switch cfg.Reminder.Lease.Backend {
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("invalid config: redis lease requires redis.addr")
		}
	case "nats":
		if cfg.NATS.URL == "" {
			return nil, fmt.Errorf("invalid config: nats lease requires nats.url")
		}
	}
	return cfg, nil
}
