package config

import (
	"fmt"
	"time"

	"alertreminder/pkg/config"
)

type Config struct {
	DB       config.DBConfig       `yaml:"db"`
	MQ       config.MQConfig       `yaml:"mq"`
	Redis    config.RedisConfig    `yaml:"redis"`
	JWT      config.JWTConfig      `yaml:"jwt"`
	Server   config.ServerConfig   `yaml:"server"`
	Otel     config.OtelConfig     `yaml:"otel"`
	Reminder config.ReminderConfig `yaml:"reminder"`
	Outbox   OutboxConfig          `yaml:"outbox"`
	Worker   WorkerConfig          `yaml:"worker"`
}

// OutboxConfig alert.delivered 事件分发
type OutboxConfig struct {
	IntervalMs int `yaml:"interval_ms"`
	BatchSize  int `yaml:"batch_size"`
	MaxRetries int `yaml:"max_retries"`
}

func (c OutboxConfig) Interval() time.Duration {
	if c.IntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// WorkerConfig MQ 消费端
type WorkerConfig struct {
	DedupTTLMinutes int   `yaml:"dedup_ttl_minutes"`
	MaxRetries      int64 `yaml:"max_retries"`
}

func (c WorkerConfig) DedupTTL() time.Duration {
	if c.DedupTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.DedupTTLMinutes) * time.Minute
}

// Load 读取 CONFIG_DIR（默认 config）下的 base.yaml + <CONFIG_ENV>.yaml，再用环境变量覆盖
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 环境变量覆盖
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideOtelFromEnv(&cfg.Otel)
	config.OverrideReminderFromEnv(&cfg.Reminder)

	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Worker.MaxRetries <= 0 {
		cfg.Worker.MaxRetries = 3
	}
	return &cfg, nil
}
