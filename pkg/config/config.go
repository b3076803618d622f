package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	App     AppConfig      `mapstructure:"app"`
	Server  ServerConfig   `mapstructure:"server"`
	Webhook WebhookConfig  `mapstructure:"webhook"`
	MySQL   MySQLConfig    `mapstructure:"mysql"`
	Redis   RedisConfig    `mapstructure:"redis"`
	Lmstfy  LmstfyConfig   `mapstructure:"lmstfy"`
	Queue   QueueConfig    `mapstructure:"queue"`
	Workers []WorkerConfig `mapstructure:"workers"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig HTTP Server 配置（apiserver）
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// WebhookConfig Webhook 接入配置
type WebhookConfig struct {
	// Secret 平台共享签名密钥（X-Shop-Signature 校验）
	Secret string `mapstructure:"secret"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LmstfyConfig Lmstfy 配置
type LmstfyConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
}

// QueueConfig 任务队列策略配置
type QueueConfig struct {
	Name string `mapstructure:"name"` // 队列名称

	// 重试策略
	MaxAttempts int           `mapstructure:"max_attempts"` // 最大重试次数
	BackoffBase time.Duration `mapstructure:"backoff_base"` // 退避基数（2s → 4s → 8s）

	// 消费端全局限速（jobs/sec，对齐上游平台 API 配额）
	RatePerSecond float64 `mapstructure:"rate_per_second"`

	// 去重标记保留时间（orders/create 拒绝重复的窗口）
	DedupeRetention time.Duration `mapstructure:"dedupe_retention"`

	// 已完成/失败任务的留存（观测用）
	CompletedKeep   int           `mapstructure:"completed_keep"`
	FailedKeep      int           `mapstructure:"failed_keep"`
	RetentionMaxAge time.Duration `mapstructure:"retention_max_age"`
}

// WorkerConfig Worker 配置
type WorkerConfig struct {
	Name       string           `mapstructure:"name"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
}

// SubscriberConfig Subscriber 配置
type SubscriberConfig struct {
	Threads      int           `mapstructure:"threads"`       // 并发拉取数
	Timeout      time.Duration `mapstructure:"timeout"`       // 拉取超时
	TTR          time.Duration `mapstructure:"ttr"`           // Time-To-Run
	ErrorBackoff time.Duration `mapstructure:"error_backoff"` // 错误退避时间
}

// ProcessorConfig Processor 配置
type ProcessorConfig struct {
	Threads    int           `mapstructure:"threads"`     // 并发处理数
	BufferSize int           `mapstructure:"buffer_size"` // Channel 缓冲大小
	Timeout    time.Duration `mapstructure:"timeout"`     // 单个任务处理超时
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults 填充缺省策略值
func (c *Config) applyDefaults() {
	if c.Queue.Name == "" {
		c.Queue.Name = "webhook_jobs"
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BackoffBase <= 0 {
		c.Queue.BackoffBase = 2 * time.Second
	}
	if c.Queue.RatePerSecond <= 0 {
		c.Queue.RatePerSecond = 10
	}
	if c.Queue.DedupeRetention <= 0 {
		c.Queue.DedupeRetention = 24 * time.Hour
	}
	if c.Queue.CompletedKeep <= 0 {
		c.Queue.CompletedKeep = 100
	}
	if c.Queue.FailedKeep <= 0 {
		c.Queue.FailedKeep = 500
	}
	if c.Queue.RetentionMaxAge <= 0 {
		c.Queue.RetentionMaxAge = 72 * time.Hour
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required")
	}
	if c.Lmstfy.Host == "" {
		return fmt.Errorf("lmstfy.host is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	return nil
}

// ValidateWorker Worker 进程的附加校验
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn is required")
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	return nil
}
