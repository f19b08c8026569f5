package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	HTTPAddress string
	AdminAPIKey string
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	IoT         IoTConfig
	Analytics   AnalyticsConfig
	Sync        SyncConfig
	Payments    PaymentsConfig
	Notify      NotifyConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL            string
	EventsExchange string
	SyncExchange   string
	SyncQueue      string
	SyncRoutingKey string
	DLQQueue       string
	PrefetchCount  int
}

// IoTConfig holds the upstream meter platform settings
type IoTConfig struct {
	BaseURL        string
	AdminUsername  string
	AdminPassword  string
	RequestTimeout time.Duration
	MaxRetries     int
	TokenTTL       time.Duration
}

// AnalyticsConfig holds aggregation settings
type AnalyticsConfig struct {
	BatchSize             int
	DefaultAlarmThreshold float64
	PowerBreakdownTopN    int
	PowerRetention        time.Duration
}

// SyncConfig holds scheduled sync settings
type SyncConfig struct {
	Interval time.Duration
}

// PaymentsConfig holds gateway webhook secrets
type PaymentsConfig struct {
	PaystackSecret string
	IvoryPaySecret string
}

// NotifyConfig holds notification channel settings
type NotifyConfig struct {
	SMTPHost       string
	SMTPPort       string
	SMTPUser       string
	SMTPPassword   string
	SMTPFrom       string
	AdminEmail     string
	AdminPhone     string
	UltraMsgURL    string
	UltraMsgToken  string
	GoIPURL        string
	GoIPUser       string
	GoIPPassword   string
	GoIPLine       string
	RequestTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "armogrid"),
		HTTPAddress: getEnv("HTTP_ADDRESS", ":8080"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:            getEnv("RABBITMQ_URL", ""),
			EventsExchange: getEnv("RABBITMQ_EVENTS_EXCHANGE", "armogrid.events.exchange"),
			SyncExchange:   getEnv("RABBITMQ_SYNC_EXCHANGE", "armogrid.sync.exchange"),
			SyncQueue:      getEnv("RABBITMQ_SYNC_QUEUE", "armogrid.sync.queue"),
			SyncRoutingKey: getEnv("RABBITMQ_SYNC_ROUTING_KEY", "meter.sync.requested"),
			DLQQueue:       getEnv("RABBITMQ_DLQ_QUEUE", "armogrid.sync.dlq"),
			PrefetchCount:  getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		IoT: IoTConfig{
			BaseURL:        getEnv("IOT_BASE_URL", ""),
			AdminUsername:  getEnv("IOT_ADMIN_USERNAME", ""),
			AdminPassword:  getEnv("IOT_ADMIN_PASSWORD", ""),
			RequestTimeout: getEnvAsDuration("IOT_REQUEST_TIMEOUT", 30*time.Second),
			MaxRetries:     getEnvAsInt("IOT_MAX_RETRIES", 0),
			TokenTTL:       getEnvAsDuration("IOT_TOKEN_TTL", 24*time.Hour),
		},
		Analytics: AnalyticsConfig{
			BatchSize:             getEnvAsInt("ANALYTICS_BATCH_SIZE", 10),
			DefaultAlarmThreshold: getEnvAsFloat("ANALYTICS_ALARM_THRESHOLD", 100),
			PowerBreakdownTopN:    getEnvAsInt("ANALYTICS_POWER_TOP_N", 20),
			PowerRetention:        getEnvAsDuration("ANALYTICS_POWER_RETENTION", 0),
		},
		Sync: SyncConfig{
			Interval: getEnvAsDuration("SYNC_INTERVAL", 15*time.Minute),
		},
		Payments: PaymentsConfig{
			PaystackSecret: getEnv("PAYSTACK_SECRET_KEY", ""),
			IvoryPaySecret: getEnv("IVORYPAY_SECRET_KEY", ""),
		},
		Notify: NotifyConfig{
			SMTPHost:       getEnv("SMTP_HOST", ""),
			SMTPPort:       getEnv("SMTP_PORT", "587"),
			SMTPUser:       getEnv("SMTP_USER", ""),
			SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:       getEnv("SMTP_FROM", ""),
			AdminEmail:     getEnv("ADMIN_EMAIL", ""),
			AdminPhone:     getEnv("ADMIN_PHONE", ""),
			UltraMsgURL:    getEnv("ULTRAMSG_URL", ""),
			UltraMsgToken:  getEnv("ULTRAMSG_TOKEN", ""),
			GoIPURL:        getEnv("GOIP_URL", ""),
			GoIPUser:       getEnv("GOIP_USER", ""),
			GoIPPassword:   getEnv("GOIP_PASSWORD", ""),
			GoIPLine:       getEnv("GOIP_LINE", "1"),
			RequestTimeout: getEnvAsDuration("NOTIFY_REQUEST_TIMEOUT", 15*time.Second),
		},
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.IoT.BaseURL == "" {
		return nil, fmt.Errorf("IOT_BASE_URL is required but not set in environment variables")
	}
	if cfg.Analytics.BatchSize <= 0 {
		cfg.Analytics.BatchSize = 10
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
