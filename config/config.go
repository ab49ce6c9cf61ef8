package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Payment      PaymentConfig      `yaml:"payment"`
	Cancellation CancellationConfig `yaml:"cancellation"`
	Idempotency  IdempotencyConfig  `yaml:"idempotency"`
	Txn          TxnConfig          `yaml:"txn"`
	Worker       WorkerConfig       `yaml:"worker"`
	Log          LogConfig          `yaml:"log"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type PaymentConfig struct {
	StripeAPIKey string `yaml:"stripe_api_key"`
}

// CancellationConfig holds the refund schedule. Resolved once at startup and
// injected; nothing in the core reads policy values lazily.
type CancellationConfig struct {
	FullRefundHours    int `yaml:"full_refund_hours"`
	PartialRefundHours int `yaml:"partial_refund_hours"`
	PartialPercent     int `yaml:"partial_percent"`
	FeePercent         int `yaml:"fee_percent"`
}

type IdempotencyConfig struct {
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`
	ResultTTLHours int `yaml:"result_ttl_hours"`
}

func (c IdempotencyConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c IdempotencyConfig) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLHours) * time.Hour
}

type TxnConfig struct {
	MaxRetries          int `yaml:"max_retries"`
	BaseDelayMillis     int `yaml:"base_delay_ms"`
	StatementTimeoutSec int `yaml:"statement_timeout_seconds"`
	LockTimeoutSec      int `yaml:"lock_timeout_seconds"`
}

func (c TxnConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMillis) * time.Millisecond
}

func (c TxnConfig) StatementTimeout() time.Duration {
	return time.Duration(c.StatementTimeoutSec) * time.Second
}

func (c TxnConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSec) * time.Second
}

type WorkerConfig struct {
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
	StaleRefundMinutes   int `yaml:"stale_refund_minutes"`
	MaxRefundAttempts    int `yaml:"max_refund_attempts"`
	SweepBatchSize       int `yaml:"sweep_batch_size"`
	RetentionDays        int `yaml:"retention_days"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
