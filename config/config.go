package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the service configuration: defaults, then the YAML file, then
// environment variables.
type Config struct {
	Service struct {
		Name     string `yaml:"name"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`

	HTTP struct {
		Addr           string   `yaml:"addr"`
		MetricsAddr    string   `yaml:"metrics_addr"` // optional separate metrics/health listener
		AllowOrigins   []string `yaml:"allow_origins"`
		ReplayCapacity int      `yaml:"replay_capacity"` // trigger stream backlog
	} `yaml:"http"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`

	Evaluator struct {
		Interval     time.Duration `yaml:"interval"`
		Workers      int           `yaml:"workers"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
		WarmupBars   int           `yaml:"warmup_bars"`
		StaleAfter   time.Duration `yaml:"stale_after"` // liveness threshold for /healthz
	} `yaml:"evaluator"`

	Catalog struct {
		Backend     string `yaml:"backend"` // memory | sqlite | postgres
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
	} `yaml:"catalog"`

	State struct {
		Backend string `yaml:"backend"` // memory | sqlite | redis
	} `yaml:"state"`

	Redis struct {
		Addr            string        `yaml:"addr"`
		Password        string        `yaml:"password"`
		DB              int           `yaml:"db"`
		Prefix          string        `yaml:"prefix"`
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerReset    time.Duration `yaml:"breaker_reset"`
	} `yaml:"redis"`

	NATS struct {
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	MarketData struct {
		Source  string        `yaml:"source"` // binance | sqlite
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
		Record  bool          `yaml:"record"` // store fetched closed bars in sqlite
	} `yaml:"marketdata"`

	Dispatch struct {
		DefaultChannel   string        `yaml:"default_channel"`
		WebhookAttempts  int           `yaml:"webhook_attempts"`
		WebhookTimeout   time.Duration `yaml:"webhook_timeout"`
		WebhookBaseDelay time.Duration `yaml:"webhook_base_delay"`
		WebhookMaxDelay  time.Duration `yaml:"webhook_max_delay"`
		TelegramToken    string        `yaml:"telegram_token"`
		TelegramChatID   int64         `yaml:"telegram_chat_id"`
		QueueKey         string        `yaml:"queue_key"`
	} `yaml:"dispatch"`

	Bus struct {
		Backend string `yaml:"backend"` // none | redis | nats | all
	} `yaml:"bus"`

	Housekeeping struct {
		PruneSpec string        `yaml:"prune_spec"`
		StatsSpec string        `yaml:"stats_spec"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"housekeeping"`
}

// Default returns a configuration that runs on one machine with SQLite and
// Binance market data.
func Default() *Config {
	c := &Config{}
	c.Service.Name = "condengine"
	c.Service.LogLevel = "info"
	c.HTTP.Addr = ":8080"
	c.HTTP.ReplayCapacity = 1024
	c.Evaluator.Interval = 5 * time.Second
	c.Evaluator.Workers = 8
	c.Evaluator.FetchTimeout = 10 * time.Second
	c.Evaluator.WarmupBars = 50
	c.Evaluator.StaleAfter = time.Minute
	c.Catalog.Backend = "sqlite"
	c.Catalog.SQLitePath = "data/condengine.db"
	c.Catalog.MaxConns = 10
	c.State.Backend = "sqlite"
	c.Redis.Addr = "localhost:6379"
	c.Redis.Prefix = "condengine"
	c.Redis.BreakerFailures = 5
	c.Redis.BreakerReset = 30 * time.Second
	c.NATS.URL = "nats://localhost:4222"
	c.NATS.Stream = "TRIGGERS"
	c.NATS.SubjectPrefix = "triggers"
	c.MarketData.Source = "binance"
	c.MarketData.BaseURL = "https://api.binance.com"
	c.MarketData.Timeout = 10 * time.Second
	c.Dispatch.DefaultChannel = "log"
	c.Dispatch.WebhookAttempts = 3
	c.Dispatch.WebhookTimeout = 5 * time.Second
	c.Dispatch.WebhookBaseDelay = 500 * time.Millisecond
	c.Dispatch.WebhookMaxDelay = 5 * time.Second
	c.Bus.Backend = "none"
	c.Housekeeping.PruneSpec = "@every 1h"
	c.Housekeeping.StatsSpec = "@every 5m"
	c.Housekeeping.Retention = 30 * 24 * time.Hour
	return c
}

// Load builds the configuration. path may be empty, in which case only the
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	overrideFromEnv(cfg)
	return cfg, nil
}

func overrideFromEnv(c *Config) {
	c.Service.LogLevel = getEnv("LOG_LEVEL", c.Service.LogLevel)
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.MetricsAddr = getEnv("METRICS_ADDR", c.HTTP.MetricsAddr)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.HTTP.AllowOrigins = splitList(v)
	}
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("JWT_ISSUER", c.Auth.Issuer)

	c.Evaluator.Interval = getDuration("EVAL_INTERVAL", c.Evaluator.Interval)
	c.Evaluator.Workers = getInt("EVAL_WORKERS", c.Evaluator.Workers)

	c.Catalog.Backend = getEnv("CATALOG_BACKEND", c.Catalog.Backend)
	c.Catalog.SQLitePath = getEnv("SQLITE_PATH", c.Catalog.SQLitePath)
	c.Catalog.PostgresDSN = getEnv("POSTGRES_DSN", c.Catalog.PostgresDSN)
	c.State.Backend = getEnv("STATE_BACKEND", c.State.Backend)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)

	c.MarketData.Source = getEnv("MARKETDATA_SOURCE", c.MarketData.Source)
	c.MarketData.BaseURL = getEnv("BINANCE_BASE_URL", c.MarketData.BaseURL)

	c.Dispatch.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Dispatch.TelegramToken)
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Dispatch.TelegramChatID = id
		} else {
			log.Printf("[config] skipping invalid TELEGRAM_CHAT_ID: %q", v)
		}
	}
	c.Bus.Backend = getEnv("BUS_BACKEND", c.Bus.Backend)
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []string
	oneOf := func(field, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Sprintf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), v))
	}
	oneOf("catalog.backend", c.Catalog.Backend, "memory", "sqlite", "postgres")
	oneOf("state.backend", c.State.Backend, "memory", "sqlite", "redis")
	oneOf("bus.backend", c.Bus.Backend, "none", "redis", "nats", "all")
	oneOf("marketdata.source", c.MarketData.Source, "binance", "sqlite")

	if c.Evaluator.Workers <= 0 {
		errs = append(errs, "evaluator.workers must be positive")
	}
	if c.Evaluator.Interval <= 0 {
		errs = append(errs, "evaluator.interval must be positive")
	}
	if c.Evaluator.WarmupBars < 0 {
		errs = append(errs, "evaluator.warmup_bars must not be negative")
	}
	if c.Dispatch.WebhookAttempts <= 0 {
		errs = append(errs, "dispatch.webhook_attempts must be positive")
	}
	if c.HTTP.Addr != "" && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when http.addr is set")
	}
	if c.Catalog.Backend == "postgres" && c.Catalog.PostgresDSN == "" {
		errs = append(errs, "catalog.postgres_dsn is required for the postgres catalog")
	}
	if c.Dispatch.TelegramToken != "" && c.Dispatch.TelegramChatID == 0 {
		errs = append(errs, "dispatch.telegram_chat_id is required with a telegram token")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.State.Backend == "redis" || c.Bus.Backend == "redis" || c.Bus.Backend == "all" ||
		c.Dispatch.DefaultChannel == "queue" || c.Dispatch.QueueKey != ""
}

// UsesSQLite reports whether the SQLite file must be opened.
func (c *Config) UsesSQLite() bool {
	return c.Catalog.Backend == "sqlite" || c.State.Backend == "sqlite" ||
		c.MarketData.Source == "sqlite" || c.MarketData.Record
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] skipping invalid %s: %q", key, v)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] skipping invalid %s: %q", key, v)
		return fallback
	}
	return d
}
