package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAsset            = "BTC"
	DefaultStoreCapacity    = 5000
	DefaultSubscriberBuffer = 256
	DefaultReconnectDelay   = 3 * time.Second
	DefaultReadTimeout      = 60 * time.Second
	DefaultBybitPing        = 20 * time.Second
)

type Config struct {
	Liqflow LiqflowConfig `yaml:"liqflow"`
	Asset   string        `yaml:"asset"`
	Server  ServerConfig  `yaml:"server"`
	Hub     HubConfig     `yaml:"hub"`
	Store   StoreConfig   `yaml:"store"`
	Summary SummaryConfig `yaml:"summary"`
	Reader  ReaderConfig  `yaml:"reader"`
	Source  SourceConfig  `yaml:"source"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type LiqflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
	History int    `yaml:"history"`
}

type HubConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

type StoreConfig struct {
	Backend  string        `yaml:"backend"`
	Capacity int           `yaml:"capacity"`
	Timeout  time.Duration `yaml:"timeout"`
	Redis    RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type SummaryConfig struct {
	Timeframes []time.Duration `yaml:"timeframes"`
}

type ReaderConfig struct {
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
	Bybit   BybitSourceConfig   `yaml:"bybit"`
	Okx     OkxSourceConfig     `yaml:"okx"`
	Bitmex  BitmexSourceConfig  `yaml:"bitmex"`
	Htx     HtxSourceConfig     `yaml:"htx"`
}

type BinanceSourceConfig struct {
	Enabled bool     `yaml:"enabled"`
	URL     string   `yaml:"url"`
	Streams []string `yaml:"streams"`
}

type BybitSourceConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Topics       []string      `yaml:"topics"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type OkxSourceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Channel  string `yaml:"channel"`
	InstType string `yaml:"inst_type"`
	InstID   string `yaml:"inst_id"`
}

type BitmexSourceConfig struct {
	Enabled bool     `yaml:"enabled"`
	URL     string   `yaml:"url"`
	Topics  []string `yaml:"topics"`
}

type HtxSourceConfig struct {
	Enabled   bool     `yaml:"enabled"`
	URL       string   `yaml:"url"`
	Contracts []string `yaml:"contracts"`
}

type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type MetricsConfig struct {
	Prometheus     bool             `yaml:"prometheus"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies environment overrides and defaults,
// then validates the result.
func Parse(data []byte) (*Config, error) {
	config := Config{
		Metrics: MetricsConfig{Prometheus: true},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIQFLOW_ASSET"); v != "" {
		cfg.Asset = strings.TrimSpace(v)
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Address = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
	}
}

func applyDefaults(cfg *Config) {
	cfg.Asset = strings.ToUpper(strings.TrimSpace(cfg.Asset))
	if cfg.Asset == "" {
		cfg.Asset = DefaultAsset
	}
	if cfg.Server.History <= 0 {
		cfg.Server.History = 200
	}
	if cfg.Hub.SubscriberBuffer <= 0 {
		cfg.Hub.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Capacity <= 0 {
		cfg.Store.Capacity = DefaultStoreCapacity
	}
	if cfg.Store.Timeout <= 0 {
		cfg.Store.Timeout = 2 * time.Second
	}
	if cfg.Store.Redis.Key == "" {
		cfg.Store.Redis.Key = "liqflow:liquidations"
	}
	if len(cfg.Summary.Timeframes) == 0 {
		cfg.Summary.Timeframes = []time.Duration{time.Hour, 4 * time.Hour, 12 * time.Hour, 24 * time.Hour}
	}
	if cfg.Reader.ReconnectDelay <= 0 {
		cfg.Reader.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Reader.ReadTimeout <= 0 {
		cfg.Reader.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Reader.HandshakeTimeout <= 0 {
		cfg.Reader.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Source.Bybit.PingInterval <= 0 {
		cfg.Source.Bybit.PingInterval = DefaultBybitPing
	}
	if cfg.Metrics.ReportInterval <= 0 {
		cfg.Metrics.ReportInterval = 30 * time.Second
	}
	if cfg.Metrics.CloudWatch.Namespace == "" {
		cfg.Metrics.CloudWatch.Namespace = "Liqflow"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "liquidations"
	}
	if cfg.Kafka.BatchSize <= 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.Kafka.FlushInterval <= 0 {
		cfg.Kafka.FlushInterval = time.Second
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Liqflow.Name == "" {
		return fmt.Errorf("liqflow.name is required")
	}

	if cfg.Liqflow.Version == "" {
		return fmt.Errorf("liqflow.version is required")
	}

	switch cfg.Store.Backend {
	case "memory":
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required when store.backend is redis")
		}
	default:
		return fmt.Errorf("store.backend '%s' is invalid", cfg.Store.Backend)
	}

	for _, tf := range cfg.Summary.Timeframes {
		if tf <= 0 {
			return fmt.Errorf("summary.timeframes must be positive, got %s", tf)
		}
	}

	if !cfg.Source.Binance.Enabled && !cfg.Source.Bybit.Enabled && !cfg.Source.Okx.Enabled &&
		!cfg.Source.Bitmex.Enabled && !cfg.Source.Htx.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when cloudwatch is enabled")
	}

	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
