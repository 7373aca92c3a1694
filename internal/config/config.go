package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server         ServerConfig         `json:"server"`
	Redis          RedisConfig          `json:"redis"`
	Database       DatabaseConfig       `json:"database"`
	Auth           AuthConfig           `json:"auth"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Audit          AuditConfig          `json:"audit"`
	Health         HealthConfig         `json:"health"`
}

type ServerConfig struct {
	Port           string   `json:"port"`
	Environment    string   `json:"environment"`
	MaxConnections int      `json:"max_connections"`
	CORSOrigins    []string `json:"cors_origins"`
	TrustedProxies []string `json:"trusted_proxies"`
}

type RedisConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Password       string `json:"password"`
	DB             int    `json:"db"`
	PoolSize       int    `json:"pool_size"`
	DialTimeoutMs  int    `json:"dial_timeout_ms"`
	ReadTimeoutMs  int    `json:"read_timeout_ms"`
	WriteTimeoutMs int    `json:"write_timeout_ms"`
	PolicyCacheMs  int    `json:"policy_cache_ms"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	LogLevel string `json:"log_level"` // silent, error, warn, info
}

type AuthConfig struct {
	JWTSecret      string `json:"jwt_secret"`
	JWTExpiryHours int    `json:"jwt_expiry_hours"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	ResetTimeoutMs   int `json:"reset_timeout_ms"`
}

type AuditConfig struct {
	Sink            string   `json:"sink"` // postgres, kafka, both or none
	BufferSize      int      `json:"buffer_size"`
	BatchSize       int      `json:"batch_size"`
	FlushIntervalMs int      `json:"flush_interval_ms"`
	RetentionDays   int      `json:"retention_days"`
	KafkaBrokers    []string `json:"kafka_brokers"`
	KafkaTopic      string   `json:"kafka_topic"`
}

type HealthConfig struct {
	IntervalMs int `json:"interval_ms"`
	TimeoutMs  int `json:"timeout_ms"`
}

const (
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
	AuditSinkBoth     = "both"
	AuditSinkNone     = "none"
)

// Returns the configuration used when no file or variable overrides a value
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "5000",
			Environment:    "development",
			MaxConnections: 1024,
		},
		Redis: RedisConfig{
			Host:           "localhost",
			Port:           6379,
			PoolSize:       50,
			DialTimeoutMs:  2000,
			ReadTimeoutMs:  500,
			WriteTimeoutMs: 500,
			PolicyCacheMs:  30000,
		},
		Database: DatabaseConfig{
			DSN:      "host=localhost user=postgres password=postgres dbname=ratelimiter port=5432 sslmode=disable",
			LogLevel: "warn",
		},
		Auth: AuthConfig{
			JWTExpiryHours: 24,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeoutMs:   10000,
		},
		Audit: AuditConfig{
			Sink:            AuditSinkPostgres,
			BufferSize:      10000,
			BatchSize:       100,
			FlushIntervalMs: 5000,
			RetentionDays:   30,
			KafkaTopic:      "ratelimiter.audit",
		},
		Health: HealthConfig{
			IntervalMs: 10000,
			TimeoutMs:  2000,
		},
	}
}

// Load reads the JSON file at path over the defaults, then applies environment
// overrides. A missing file is not an error; the defaults and environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("PORT", &c.Server.Port)
	str("ENVIRONMENT", &c.Server.Environment)
	list("CORS_ORIGIN", &c.Server.CORSOrigins)
	str("REDIS_HOST", &c.Redis.Host)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("DATABASE_URL", &c.Database.DSN)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("AUDIT_SINK", &c.Audit.Sink)
	list("KAFKA_BROKERS", &c.Audit.KafkaBrokers)
	str("KAFKA_TOPIC", &c.Audit.KafkaTopic)

	return errors.Join(
		num("REDIS_PORT", &c.Redis.Port),
		num("REDIS_DB", &c.Redis.DB),
		num("CIRCUIT_BREAKER_FAILURE_THRESHOLD", &c.CircuitBreaker.FailureThreshold),
		num("CIRCUIT_BREAKER_RESET_TIMEOUT_MS", &c.CircuitBreaker.ResetTimeoutMs),
		num("AUDIT_RETENTION_DAYS", &c.Audit.RetentionDays),
	)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required (JWT_SECRET)"))
	}
	if c.Auth.JWTExpiryHours <= 0 {
		errs = append(errs, errors.New("auth.jwt_expiry_hours must be positive"))
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		errs = append(errs, errors.New("circuit_breaker.failure_threshold must be positive"))
	}
	if c.CircuitBreaker.ResetTimeoutMs <= 0 {
		errs = append(errs, errors.New("circuit_breaker.reset_timeout_ms must be positive"))
	}

	switch c.Audit.Sink {
	case AuditSinkPostgres, AuditSinkNone:
	case AuditSinkKafka, AuditSinkBoth:
		if len(c.Audit.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("audit.kafka_brokers is required for sink %q", c.Audit.Sink))
		}
		if c.Audit.KafkaTopic == "" {
			errs = append(errs, errors.New("audit.kafka_topic is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.sink must be one of postgres, kafka, both, none; got %q", c.Audit.Sink))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (r RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
