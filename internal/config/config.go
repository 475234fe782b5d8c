// Package config loads service configuration from an optional YAML file and
// PRACTICE_* environment variables. Environment values win over the file,
// and the file wins over Default.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "PRACTICE_CONFIG"

type Config struct {
	Environment string         `yaml:"environment"`
	HTTP        HTTPConfig     `yaml:"http"`
	Postgres    PostgresConfig `yaml:"postgres"`
	Auth        AuthConfig     `yaml:"auth"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Redis       RedisConfig    `yaml:"redis"`
	Repair      RepairConfig   `yaml:"repair"`
}

type HTTPConfig struct {
	Addr            string          `yaml:"addr"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	// TrustedProxies lists addresses or CIDR ranges whose X-Forwarded-For is honoured.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TrustedPrefixes parses TrustedProxies. A bare address becomes a single-host prefix.
func (h HTTPConfig) TrustedPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, raw := range h.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("http.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// PostgresConfig selects the Postgres store. An empty DSN runs the in-memory store.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// KafkaConfig enables share notifications when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string      `yaml:"brokers"`
	Topic   string        `yaml:"topic"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig holds the pending audit ledger for the in-memory store when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RepairConfig controls the pending-audit repair loop used with the in-memory store.
type RepairConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func Default() Config {
	return Config{
		Environment: "development",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       RateLimitConfig{RPS: 50, Burst: 100},
		},
		Postgres: PostgresConfig{MaxOpenConns: 50, MaxIdleConns: 25, ConnMaxLifetime: 15 * time.Minute},
		Auth:     AuthConfig{Issuer: "practicedesk", TokenTTL: time.Hour},
		Kafka:    KafkaConfig{Topic: "document-shares", Timeout: 5 * time.Second},
		Redis:    RedisConfig{Prefix: "practicedesk:audit"},
		Repair:   RepairConfig{Interval: time.Minute},
	}
}

// Load reads path (if non-empty), applies environment overrides and validates.
// When path is empty the PRACTICE_CONFIG variable is consulted.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PRACTICE_ENV", &cfg.Environment)
	str("PRACTICE_HTTP_ADDR", &cfg.HTTP.Addr)
	str("PRACTICE_PG_DSN", &cfg.Postgres.DSN)
	str("PRACTICE_AUTH_SECRET", &cfg.Auth.Secret)
	str("PRACTICE_AUTH_ISSUER", &cfg.Auth.Issuer)
	str("PRACTICE_KAFKA_TOPIC", &cfg.Kafka.Topic)
	str("PRACTICE_REDIS_ADDR", &cfg.Redis.Addr)
	str("PRACTICE_REDIS_PASSWORD", &cfg.Redis.Password)
	if v, ok := lookup("PRACTICE_REDIS_DB"); ok && strings.TrimSpace(v) != "" {
		db, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: PRACTICE_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}
	if v, ok := lookup("PRACTICE_KAFKA_BROKERS"); ok && strings.TrimSpace(v) != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("PRACTICE_TRUSTED_PROXIES"); ok && strings.TrimSpace(v) != "" {
		cfg.HTTP.TrustedProxies = splitList(v)
	}
	if v, ok := lookup("PRACTICE_RATE_LIMIT_RPS"); ok && strings.TrimSpace(v) != "" {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("config: PRACTICE_RATE_LIMIT_RPS: %w", err)
		}
		cfg.HTTP.RateLimit.RPS = rps
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.HTTP.RateLimit.RPS <= 0 || c.HTTP.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("http.rate_limit rps and burst must be positive"))
	}
	if _, err := c.HTTP.TrustedPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret is required (PRACTICE_AUTH_SECRET)"))
	} else if c.Environment == "production" && len(c.Auth.Secret) < 32 {
		errs = append(errs, errors.New("auth.secret must be at least 32 bytes in production"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && strings.TrimSpace(c.Kafka.Topic) == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, errors.New("redis.db must not be negative"))
	}
	if c.Postgres.DSN == "" && c.Repair.Interval <= 0 {
		errs = append(errs, errors.New("repair.interval must be positive for the in-memory store"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
