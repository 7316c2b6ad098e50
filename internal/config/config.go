package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Pi         PiConfig         `mapstructure:"pi"`
	Business   BusinessConfig   `mapstructure:"business"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	WorkerID        int64         `mapstructure:"worker_id"` // 雪花算法机器 ID，多实例部署时必须不同
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	SettlementResult string `mapstructure:"settlement_result"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// SettlementConfig 结算相关配置
//
// Timeout 为 0 表示不自动把长时间 PENDING 的交易置为失败。
type SettlementConfig struct {
	PlatformFeePercent float64       `mapstructure:"platform_fee_percent"`
	Workers            int           `mapstructure:"workers"`
	QueueSize          int           `mapstructure:"queue_size"`
	AttemptTimeout     time.Duration `mapstructure:"attempt_timeout"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	LockBackend        string        `mapstructure:"lock_backend"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RedispatchAfter    time.Duration `mapstructure:"redispatch_after"`
	ReaperInterval     time.Duration `mapstructure:"reaper_interval"`
	ReaperBatchSize    int           `mapstructure:"reaper_batch_size"`
}

// PiConfig Pi 支付网络配置
type PiConfig struct {
	Mode          string        `mapstructure:"mode"` // simulated | live
	APIURL        string        `mapstructure:"api_url"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryWait     time.Duration `mapstructure:"retry_wait"`
	SimulateDelay time.Duration `mapstructure:"simulate_delay"`
	SimulateFail  float64       `mapstructure:"simulate_fail_rate"`
}

type BusinessConfig struct {
	MaxRetryCount int `mapstructure:"max_retry_count"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.database", "pimarket")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.settlement_result", "pimarket.settlement.result")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)

	v.SetDefault("settlement.platform_fee_percent", 8.0)
	v.SetDefault("settlement.workers", 4)
	v.SetDefault("settlement.queue_size", 1024)
	v.SetDefault("settlement.attempt_timeout", 30*time.Second)
	v.SetDefault("settlement.lock_ttl", 10*time.Second)
	v.SetDefault("settlement.lock_backend", "redis")
	v.SetDefault("settlement.timeout", 30*time.Minute)
	v.SetDefault("settlement.redispatch_after", 2*time.Minute)
	v.SetDefault("settlement.reaper_interval", 30*time.Second)
	v.SetDefault("settlement.reaper_batch_size", 100)

	v.SetDefault("pi.mode", "simulated")
	v.SetDefault("pi.api_url", "https://api.minepi.com/v2")
	v.SetDefault("pi.http_timeout", 10*time.Second)
	v.SetDefault("pi.retry_count", 2)
	v.SetDefault("pi.retry_wait", 500*time.Millisecond)

	v.SetDefault("business.max_retry_count", 5)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PIMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig 加载配置文件，环境变量 PIMARKET_* 优先级更高
func LoadConfig(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default 只包含默认值的配置，测试用
func Default() *Config {
	v := newViper()
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func (c *Config) Validate() error {
	if c.Settlement.PlatformFeePercent < 0 || c.Settlement.PlatformFeePercent >= 100 {
		return fmt.Errorf("settlement.platform_fee_percent 必须在 [0, 100) 之间: %v", c.Settlement.PlatformFeePercent)
	}
	if c.Settlement.Workers <= 0 {
		return fmt.Errorf("settlement.workers 必须大于 0")
	}
	if c.Settlement.QueueSize <= 0 {
		return fmt.Errorf("settlement.queue_size 必须大于 0")
	}
	switch c.Settlement.LockBackend {
	case "redis", "local":
	default:
		return fmt.Errorf("未知的 settlement.lock_backend: %q", c.Settlement.LockBackend)
	}
	switch c.Pi.Mode {
	case "simulated", "live":
	default:
		return fmt.Errorf("未知的 pi.mode: %q", c.Pi.Mode)
	}
	if c.Pi.Mode == "live" && c.Pi.APIKey == "" {
		return fmt.Errorf("pi.mode=live 时必须配置 pi.api_key")
	}
	return nil
}
