package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, read from the environment.
type Config struct {
	DatabaseURL   string        `env:"DATABASE_URL,required"`
	JWTSecret     string        `env:"JWT_SECRET,required"`
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:":8080"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	HoldPeriod    time.Duration `env:"HOLD_PERIOD" envDefault:"24h"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
