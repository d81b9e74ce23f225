// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config is the full process configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `env:"DB_PATH" envDefault:"./data/divvy.db"`

	// ListenAddr is the HTTP listen address.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// RedisAddr enables the shared rate-cache tier when non-empty.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// RateTTL is how long a fetched exchange rate stays fresh.
	RateTTL time.Duration `env:"RATE_TTL" envDefault:"15m"`

	// ConversionTimeout bounds each rate-source call.
	ConversionTimeout time.Duration `env:"CONVERSION_TIMEOUT" envDefault:"3s"`

	// StaticRates seeds the development rate source, e.g.
	// "USD/EUR=0.92,GBP/USD=1.27". Empty in deployments that inject a
	// real provider.
	StaticRates string `env:"STATIC_RATES"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	return env.ParseAs[Config]()
}

// ParseStaticRates turns the StaticRates string into a rate table.
func (c Config) ParseStaticRates() (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal)
	if c.StaticRates == "" {
		return rates, nil
	}
	for _, entry := range strings.Split(c.StaticRates, ",") {
		pair, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("malformed rate entry %q", entry)
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("malformed rate value in %q: %w", entry, err)
		}
		rates[pair] = rate
	}
	return rates, nil
}
