package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	ListenAddr string
	BaseURL    string

	Store string

	DB struct {
		DSN string
	}

	Lock struct {
		Backend string
		TTL     time.Duration
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Kafka struct {
		Brokers []string
		Topic   string
	}

	Schedule struct {
		Calendar    string
		Timezone    string
		OpenAt      string
		CloseAt     string
		Horizon     time.Duration
		SlotQuantum time.Duration
	}

	Feed struct {
		Name                string
		IncludeAvailability bool
	}

	Log struct {
		Level  string
		Format string
	}

	PrometheusEnabled bool
	TrustedProxies    []string
}

// Load reads APP_* settings from the environment, with ./.env as an optional
// fallback source.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit env file. A missing file is not an error;
// real environment variables always take precedence over it.
func LoadFrom(envFile string) (*Config, error) {
	v := viper.New()
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		}
	}
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{}
	cfg.ListenAddr = v.GetString("APP_LISTEN_ADDR")
	cfg.BaseURL = v.GetString("APP_BASE_URL")
	cfg.Store = strings.ToLower(v.GetString("APP_STORE"))
	cfg.DB.DSN = v.GetString("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := v.GetString("APP_DB_HOST")
		name := v.GetString("APP_DB_NAME")
		user := v.GetString("APP_DB_USER")
		password := v.GetString("APP_DB_PASSWORD")
		port := v.GetString("APP_DB_PORT")
		sslmode := v.GetString("APP_DB_SSLMODE")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.Lock.Backend = strings.ToLower(v.GetString("APP_LOCK_BACKEND"))
	cfg.Lock.TTL = v.GetDuration("APP_LOCK_TTL")
	cfg.Redis.Addr = v.GetString("APP_REDIS_ADDR")
	cfg.Redis.Password = v.GetString("APP_REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("APP_REDIS_DB")

	cfg.Kafka.Brokers = splitList(v.GetString("APP_KAFKA_BROKERS"))
	cfg.Kafka.Topic = v.GetString("APP_KAFKA_TOPIC")

	cfg.Schedule.Calendar = v.GetString("APP_CALENDAR")
	cfg.Schedule.Timezone = v.GetString("APP_TIMEZONE")
	cfg.Schedule.OpenAt = v.GetString("APP_BUSINESS_OPEN")
	cfg.Schedule.CloseAt = v.GetString("APP_BUSINESS_CLOSE")
	cfg.Schedule.Horizon = v.GetDuration("APP_BOOKING_HORIZON")
	cfg.Schedule.SlotQuantum = v.GetDuration("APP_SLOT_QUANTUM")

	cfg.Feed.Name = v.GetString("APP_FEED_NAME")
	cfg.Feed.IncludeAvailability = v.GetBool("APP_FEED_INCLUDE_AVAILABILITY")

	cfg.Log.Level = v.GetString("APP_LOG_LEVEL")
	cfg.Log.Format = v.GetString("APP_LOG_FORMAT")

	cfg.PrometheusEnabled = v.GetBool("APP_PROMETHEUS_ENDPOINT_ENABLED")
	cfg.TrustedProxies = splitList(v.GetString("APP_TRUSTED_PROXIES"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_LISTEN_ADDR", ":8080")
	v.SetDefault("APP_BASE_URL", "http://localhost:8080")
	v.SetDefault("APP_STORE", StorePostgres)
	v.SetDefault("APP_DB_PORT", "5432")
	v.SetDefault("APP_DB_SSLMODE", "disable")
	v.SetDefault("APP_LOCK_BACKEND", LockLocal)
	v.SetDefault("APP_LOCK_TTL", "10s")
	v.SetDefault("APP_REDIS_DB", 0)
	v.SetDefault("APP_CALENDAR", "main")
	v.SetDefault("APP_TIMEZONE", "Asia/Jerusalem")
	v.SetDefault("APP_BUSINESS_OPEN", "06:00")
	v.SetDefault("APP_BUSINESS_CLOSE", "22:00")
	v.SetDefault("APP_BOOKING_HORIZON", "336h")
	v.SetDefault("APP_SLOT_QUANTUM", "15m")
	v.SetDefault("APP_FEED_NAME", "Car Wash")
	v.SetDefault("APP_FEED_INCLUDE_AVAILABILITY", true)
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("APP_LOG_FORMAT", "json")
	v.SetDefault("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
}

// Validate checks cross-field requirements that defaults cannot satisfy.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DB.DSN == "" {
			return errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("APP_STORE must be %q or %q (got %q)", StorePostgres, StoreMemory, c.Store)
	}

	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Redis.Addr == "" {
			return errors.New("APP_REDIS_ADDR is required when APP_LOCK_BACKEND=redis")
		}
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("APP_LOCK_TTL must be positive (got %s)", c.Lock.TTL)
		}
	default:
		return fmt.Errorf("APP_LOCK_BACKEND must be %q or %q (got %q)", LockLocal, LockRedis, c.Lock.Backend)
	}

	if c.Schedule.Horizon <= 0 {
		return fmt.Errorf("APP_BOOKING_HORIZON must be positive (got %s)", c.Schedule.Horizon)
	}
	if c.Schedule.SlotQuantum <= 0 {
		return fmt.Errorf("APP_SLOT_QUANTUM must be positive (got %s)", c.Schedule.SlotQuantum)
	}
	return nil
}

func splitList(v string) []string {
	var result []string
	for _, item := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
