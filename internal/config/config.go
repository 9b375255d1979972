// Package config loads the ingestion pipeline's YAML configuration and
// applies environment-variable overrides for secrets and connection
// strings, following the pattern of the teacher's
// internal/infrastructure/db config loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration for the ingestord binary.
type AppConfig struct {
	Venues    VenuesConfig    `yaml:"venues"`
	Bus       BusConfig       `yaml:"bus"`
	Publisher PublisherConfig `yaml:"publisher"`
	HotStore  HotStoreConfig  `yaml:"hot_store"`
	Cold      ColdConfig      `yaml:"cold_replication"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// BusConfig configures the persistent message bus backend.
type BusConfig struct {
	Backend  string   `yaml:"backend"` // "kafka", "pulsar", or "stub"
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client_id"`
}

// PublisherConfig configures batching/retry/dedup for the publish layer.
type PublisherConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	LingerMS   int           `yaml:"linger_ms"`
	MaxRetries int           `yaml:"max_retries"`
	DedupTTL   time.Duration `yaml:"dedup_ttl"`
}

// HotStoreConfig configures the analytical hot store HTTP endpoint.
type HotStoreConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ColdConfig configures the windowed hot->cold replicator.
type ColdConfig struct {
	ColdHost   string        `yaml:"cold_host"`
	ColdDB     string        `yaml:"cold_db"`
	StateDir   string        `yaml:"state_dir"`
	WindowSize time.Duration `yaml:"window_size"`
}

// PostgresConfig configures the dead-letter store connection.
type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Enabled bool   `yaml:"enabled"`
}

// RedisConfig configures the optional dedup-cache backing store.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// HTTPConfig configures the /health, /stats, and /metrics server.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads YAML configuration from configPath (if it exists) and
// applies environment-variable overrides on top.
func Load(configPath string) (*AppConfig, error) {
	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides mirrors the teacher's PG_DSN/PG_ENABLED convention
// for secrets and connection strings that shouldn't live in YAML.
func applyEnvOverrides(cfg *AppConfig) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		cfg.Postgres.DSN = dsn
	}
	if enabled := os.Getenv("PG_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			cfg.Postgres.Enabled = v
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if brokers := os.Getenv("BUS_BROKERS"); brokers != "" {
		cfg.Bus.Brokers = splitComma(brokers)
	}
	if addr := os.Getenv("HTTP_LISTEN_ADDR"); addr != "" {
		cfg.HTTP.ListenAddr = addr
	}
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Default returns a fully populated configuration suitable for local
// development against stubbed backends.
func Default() *AppConfig {
	return &AppConfig{
		Venues: *DefaultVenuesConfig(),
		Bus:    BusConfig{Backend: "stub", ClientID: "ingestord"},
		Publisher: PublisherConfig{
			BatchSize: 100, LingerMS: 5000, MaxRetries: 3, DedupTTL: 2 * time.Minute,
		},
		HotStore: HotStoreConfig{BaseURL: "http://localhost:8123"},
		Cold: ColdConfig{
			ColdHost: "cold.internal:9000", ColdDB: "marketdata",
			StateDir: "./state", WindowSize: time.Hour,
		},
		Postgres: PostgresConfig{Enabled: false},
		Redis:    RedisConfig{Enabled: false},
		HTTP:     HTTPConfig{ListenAddr: ":8080"},
	}
}

// Validate checks the whole configuration tree for consistency.
func (c *AppConfig) Validate() error {
	if err := c.Venues.Validate(); err != nil {
		return err
	}
	if c.Publisher.BatchSize <= 0 {
		return fmt.Errorf("publisher.batch_size must be positive")
	}
	if c.Publisher.MaxRetries < 0 {
		return fmt.Errorf("publisher.max_retries cannot be negative")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres.enabled is true")
	}
	if c.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr cannot be empty")
	}
	return nil
}
