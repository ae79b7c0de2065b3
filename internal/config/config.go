package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/rl1809/stockbridge/internal/adapter/facade"
)

// Config is the process configuration, read from the environment.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"stockbridge.db?_pragma=busy_timeout(5000)"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	FacadeTimeout     time.Duration `env:"FACADE_TIMEOUT" envDefault:"10s"`
	RepositoryTimeout time.Duration `env:"REPOSITORY_TIMEOUT" envDefault:"5s"`
	DispatchWorkers   int           `env:"DISPATCH_WORKERS" envDefault:"8"`
	DeadLetterAfter   int           `env:"DEAD_LETTER_AFTER" envDefault:"3"`

	Warehouses Warehouses `env:"WAREHOUSES" envDefault:"[]"`

	BreakerFailures    uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerOpenTimeout time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"30s"`

	TrackingEnabled   bool     `env:"TRACKING_ENABLED" envDefault:"false"`
	TrackingLocations []string `env:"TRACKING_LOCATIONS" envSeparator:","`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"stockbridge@localhost"`
	StorageEmail string `env:"STORAGE_EMAIL"`

	OTELEndpoint string `env:"OTEL_ENDPOINT"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// Warehouses is the JSON list of HTTP warehouse systems, e.g.
//
//	[{"name":"synq","base_url":"http://synq:8181","locations":["SYNQ_WAREHOUSE"]}]
type Warehouses []facade.WarehouseConfig

func (w *Warehouses) UnmarshalText(text []byte) error {
	var list []facade.WarehouseConfig
	if err := json.Unmarshal(text, &list); err != nil {
		return fmt.Errorf("decode warehouses: %w", err)
	}

	seen := make(map[string]struct{}, len(list))
	for i, wh := range list {
		if wh.Name == "" || wh.BaseURL == "" {
			return fmt.Errorf("warehouse %d: name and base_url are required", i)
		}
		if _, dup := seen[wh.Name]; dup {
			return fmt.Errorf("warehouse %q is configured twice", wh.Name)
		}
		seen[wh.Name] = struct{}{}
	}

	*w = list
	return nil
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBDriver != "mysql" && cfg.DBDriver != "sqlite" {
		return Config{}, fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", cfg.DBDriver)
	}
	return cfg, nil
}
