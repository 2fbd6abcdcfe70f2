package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Service is the settlement service configuration.
type Service struct {
	Port          string         `env:"SERVICE_PORT" envDefault:"8090"`
	StateBackend  string         `env:"STATE_BACKEND" envDefault:"memory"`
	DatabaseURL   string         `env:"DATABASE_URL"`
	SQLitePath    string         `env:"SQLITE_PATH" envDefault:"transferlane.db"`
	Instance      common.Address `env:"INSTANCE_ADDRESS,required,notEmpty"`
	Token         common.Address `env:"TOKEN_ADDRESS,required,notEmpty"`
	TokenProxy    common.Address `env:"TOKEN_PROXY_ADDRESS,required,notEmpty"`
	AssetProxy    common.Address `env:"ASSET_PROXY_ADDRESS,required,notEmpty"`
	LedgerFixture string         `env:"LEDGER_FIXTURE"`
	ReadTimeout   time.Duration  `env:"READ_TIMEOUT" envDefault:"5s"`
	AuthMaxSkew   time.Duration  `env:"AUTH_MAX_SKEW" envDefault:"5m"`
	LogLevel      string         `env:"LOG_LEVEL" envDefault:"info"`
	WebhookURL    string         `env:"WEBHOOK_URL"`
	WebhookSecret string         `env:"WEBHOOK_SECRET"`
}

func LoadService() (Service, error) {
	var cfg Service
	if err := ParseEnv(&cfg); err != nil {
		return Service{}, err
	}
	cfg.StateBackend = strings.ToLower(strings.TrimSpace(cfg.StateBackend))
	if err := cfg.Validate(); err != nil {
		return Service{}, err
	}
	return cfg, nil
}

func (c Service) Validate() error {
	switch c.StateBackend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend)
	}
	for name, addr := range map[string]common.Address{
		"INSTANCE_ADDRESS":    c.Instance,
		"TOKEN_ADDRESS":       c.Token,
		"TOKEN_PROXY_ADDRESS": c.TokenProxy,
		"ASSET_PROXY_ADDRESS": c.AssetProxy,
	} {
		if addr == (common.Address{}) {
			return fmt.Errorf("%s must not be the zero address", name)
		}
	}
	if strings.TrimSpace(c.WebhookURL) != "" && c.WebhookSecret == "" {
		return errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	if c.ReadTimeout < 0 || c.AuthMaxSkew < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

func (c Service) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
