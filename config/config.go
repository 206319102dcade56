package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Storage  string         `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Orders   OrdersConfig   `yaml:"orders"`
	Records  RecordsConfig  `yaml:"records"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Payments PaymentsConfig `yaml:"payments"`
	Offers   OffersConfig   `yaml:"offers"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address"`
	SwaggerDir      string        `yaml:"swagger_dir"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// CORSAllowedOrigins empty means any origin.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
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
	Brokers             []string `yaml:"brokers"`
	BookingRequestTopic string   `yaml:"booking_request_topic"`
	BookingEventsTopic  string   `yaml:"booking_events_topic"`
	GroupID             string   `yaml:"group_id"`
}

// OrdersConfig configures the upstream flight-order API client.
type OrdersConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	Token                   string        `yaml:"token"`
	APIVersion              string        `yaml:"api_version"`
	Timeout                 time.Duration `yaml:"timeout"`
	MaxRetries              int           `yaml:"max_retries"`
	BaseBackoff             time.Duration `yaml:"base_backoff"`
	MaxBackoff              time.Duration `yaml:"max_backoff"`
	MaxRetryAfter           time.Duration `yaml:"max_retry_after"`
	BreakerFailureThreshold uint32        `yaml:"breaker_failure_threshold"`
	BreakerCooldown         time.Duration `yaml:"breaker_cooldown"`
	BreakerHalfOpenRequests uint32        `yaml:"breaker_half_open_requests"`
	// LiveBooking places real orders instead of materializing bookings from the offer snapshot.
	LiveBooking bool `yaml:"live_booking"`
}

// RecordsConfig configures the versioned record store and its retrying executor.
type RecordsConfig struct {
	Backend               string        `yaml:"backend"`
	KeyPrefix             string        `yaml:"key_prefix"`
	MaxRetries            int           `yaml:"max_retries"`
	BaseDelay             time.Duration `yaml:"base_delay"`
	MaxDelay              time.Duration `yaml:"max_delay"`
	MaxConditionalRetries int           `yaml:"max_conditional_retries"`
}

type MatcherConfig struct {
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	SweepBatch     int           `yaml:"sweep_batch"`
}

type PaymentsConfig struct {
	StripeKey string `yaml:"stripe_key"`
}

type OffersConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	RecordsMemory   = "memory"
	RecordsPostgres = "postgres"
	RecordsRedis    = "redis"
)

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:         ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		GRPC:    GRPCConfig{Address: ":9090"},
		Storage: StoragePostgres,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "bookingcore",
			SSLMode:  "disable",
			MaxConns: 20,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Kafka: KafkaConfig{
			BookingRequestTopic: "booking-requests",
			BookingEventsTopic:  "booking-events",
			GroupID:             "booking-matcher",
		},
		Orders: OrdersConfig{
			BaseURL:                 "https://api.duffel.com",
			APIVersion:              "v2",
			Timeout:                 30 * time.Second,
			MaxRetries:              3,
			BaseBackoff:             500 * time.Millisecond,
			MaxBackoff:              10 * time.Second,
			MaxRetryAfter:           time.Minute,
			BreakerFailureThreshold: 5,
			BreakerCooldown:         30 * time.Second,
			BreakerHalfOpenRequests: 1,
		},
		Records: RecordsConfig{
			Backend:               RecordsPostgres,
			KeyPrefix:             "record:",
			MaxRetries:            3,
			BaseDelay:             100 * time.Millisecond,
			MaxDelay:              5 * time.Second,
			MaxConditionalRetries: 10,
		},
		Matcher: MatcherConfig{
			ProcessTimeout: 60 * time.Second,
			SweepInterval:  time.Minute,
			StaleAfter:     5 * time.Minute,
			SweepBatch:     50,
		},
		Offers: OffersConfig{CacheTTL: 5 * time.Minute},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig reads the YAML file at path on top of Default() and applies
// secrets from the environment (optionally seeded from a .env file).
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setStringFromEnv(&cfg.Orders.Token, "ORDERS_API_TOKEN")
	setStringFromEnv(&cfg.Payments.StripeKey, "STRIPE_API_KEY")
	setStringFromEnv(&cfg.Database.Password, "DATABASE_PASSWORD")
	setStringFromEnv(&cfg.Redis.Password, "REDIS_PASSWORD")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitAndTrim(brokers)
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.HTTP.CORSAllowedOrigins = splitAndTrim(origins)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

func (c Config) Validate() error {
	var errs []error

	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("storage must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage))
	}
	switch c.Records.Backend {
	case RecordsMemory, RecordsPostgres, RecordsRedis:
	default:
		errs = append(errs, fmt.Errorf("records.backend must be one of memory, postgres, redis, got %q", c.Records.Backend))
	}
	if c.Orders.MaxRetries < 0 {
		errs = append(errs, errors.New("orders.max_retries must be >= 0"))
	}
	if c.Orders.BaseBackoff <= 0 {
		errs = append(errs, errors.New("orders.base_backoff must be > 0"))
	}
	if c.Orders.BreakerFailureThreshold == 0 {
		errs = append(errs, errors.New("orders.breaker_failure_threshold must be > 0"))
	} else if c.Orders.MaxRetries >= 0 && int(c.Orders.BreakerFailureThreshold) <= c.Orders.MaxRetries {
		errs = append(errs, fmt.Errorf("orders.breaker_failure_threshold (%d) must exceed orders.max_retries (%d)", c.Orders.BreakerFailureThreshold, c.Orders.MaxRetries))
	}
	if c.Orders.LiveBooking && c.Orders.Token == "" {
		errs = append(errs, errors.New("orders.token (or ORDERS_API_TOKEN) is required when live_booking is enabled"))
	}
	if c.Records.MaxRetries < 0 {
		errs = append(errs, errors.New("records.max_retries must be >= 0"))
	}
	if c.Records.MaxConditionalRetries <= 0 {
		errs = append(errs, errors.New("records.max_conditional_retries must be > 0"))
	}
	if c.Matcher.SweepBatch <= 0 {
		errs = append(errs, errors.New("matcher.sweep_batch must be > 0"))
	}

	return errors.Join(errs...)
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
