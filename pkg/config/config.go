// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию приложения.
type Config struct {
	App      AppConfig
	MySQL    MySQLConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Relay    RelayConfig
	Outbox   OutboxConfig
	Saga     SagaConfig
	Dlq      DlqConfig
	Jaeger   JaegerConfig
	Metrics  MetricsConfig
	Admin    AdminConfig
	Consumer ConsumerConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"fulfillment-system"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
	HTTPPort  int    `env:"HTTP_PORT" envDefault:"8080"`
}

// HTTPAddr возвращает адрес HTTP сервера приложения.
func (c AppConfig) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"fulfillment"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
// Redis используется как быстрый фронт перед дедуп-реестром (SETNX).
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"fulfillment"`
}

// RelayConfig содержит настройки CDC Relay.
// ChangeTopic — топик, куда внешний CDC агент (Debezium) пишет изменения
// таблицы outbox. У каждого сервиса свой change-stream, поэтому default
// пустой: composition root сервиса подставляет свой топик.
type RelayConfig struct {
	ChangeTopic string `env:"RELAY_CHANGE_TOPIC" envDefault:""`
	Group       string `env:"RELAY_CONSUMER_GROUP" envDefault:"outbox-relay"`
}

// OutboxConfig содержит настройки таблицы outbox и уборки отправленных записей.
type OutboxConfig struct {
	MaxRetries    int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`
	SweepInterval time.Duration `env:"OUTBOX_SWEEP_INTERVAL" envDefault:"1h"`
	Retention     time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"` // 7 дней
}

// SagaConfig содержит настройки recovery-воркера саг.
type SagaConfig struct {
	RecoveryInterval time.Duration `env:"SAGA_RECOVERY_INTERVAL" envDefault:"30s"`
	StuckTimeout     time.Duration `env:"SAGA_STUCK_TIMEOUT" envDefault:"5m"`
	RecoveryBatch    int           `env:"SAGA_RECOVERY_BATCH" envDefault:"50"`
}

// DlqConfig содержит настройки DLQ / Retry Manager.
type DlqConfig struct {
	MaxRetries   int           `env:"DLQ_MAX_RETRIES" envDefault:"3"`
	BaseBackoff  time.Duration `env:"DLQ_BASE_BACKOFF" envDefault:"30s"`
	MaxBackoff   time.Duration `env:"DLQ_MAX_BACKOFF" envDefault:"1h"`
	PollInterval time.Duration `env:"DLQ_POLL_INTERVAL" envDefault:"15s"`
	Batch        int           `env:"DLQ_BATCH" envDefault:"50"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
// Локально каждый сервис переопределяет METRICS_PORT.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AdminConfig содержит настройки admin API.
// JWTSecret пустой — авторизация отключена (локальная разработка).
type AdminConfig struct {
	Port      int    `env:"ADMIN_PORT" envDefault:"8088"`
	JWTSecret string `env:"ADMIN_JWT_SECRET" envDefault:""`
}

// Addr возвращает адрес admin HTTP сервера.
func (c AdminConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ConsumerConfig содержит настройки consumer-воркеров.
type ConsumerConfig struct {
	// HandleTimeout — максимальное время обработки одного сообщения.
	// По истечении транзакция откатывается, сообщение уходит на redelivery.
	HandleTimeout time.Duration `env:"CONSUMER_HANDLE_TIMEOUT" envDefault:"30s"`

	// DedupRetention — горизонт хранения реестра обработанных событий.
	// Должен превышать максимальную задержку передоставки сообщений.
	DedupRetention time.Duration `env:"CONSUMER_DEDUP_RETENTION" envDefault:"336h"` // 14 дней

	// DedupCacheTTL — время жизни признака обработки в Redis.
	DedupCacheTTL time.Duration `env:"CONSUMER_DEDUP_CACHE_TTL" envDefault:"24h"`
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подхватывает .env файл, если он существует.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// IsDevelopment возвращает true в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
