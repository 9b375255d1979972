package config

import (
	"fmt"
	"time"
)

// VenuesConfig describes every upstream exchange the pipeline connects
// to: its WS/REST endpoints, rate budget, and resilience policy.
// Adapted from the teacher's providers.yaml shape (rps/burst/daily
// budget/backoff/circuit per provider), generalized from price-data
// providers to exchange venues.
type VenuesConfig struct {
	Venues map[string]VenueConfig `yaml:"venues"`
	Global GlobalConfig           `yaml:"global"`
}

// VenueConfig configures one exchange venue.
type VenueConfig struct {
	WSBaseURL   string        `yaml:"ws_base_url"`
	RESTBaseURL string        `yaml:"rest_base_url"`
	RPS         float64       `yaml:"rps"`          // sustained requests/sec across all weight classes
	Burst       int           `yaml:"burst"`        // token-bucket burst capacity
	DailyBudget int           `yaml:"daily_budget"` // max REST weight units per rolling 24h window
	Backoff     BackoffConfig `yaml:"backoff"`
	Circuit     CircuitConfig `yaml:"circuit"`
	Enabled     bool          `yaml:"enabled"`
	Symbols     []string      `yaml:"symbols"` // venue-native symbols to subscribe/poll
}

// BackoffConfig configures capped multiplicative reconnect/retry backoff.
type BackoffConfig struct {
	InitialMS int     `yaml:"initial_ms"`
	MaxMS     int     `yaml:"max_ms"`
	Factor    float64 `yaml:"factor"`
}

// CircuitConfig configures the breaker wrapping a venue's REST calls.
type CircuitConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	OpenTimeoutMS    int    `yaml:"open_timeout_ms"`
}

// GlobalConfig holds settings shared across all venues.
type GlobalConfig struct {
	MaxConcurrentPerVenue int    `yaml:"max_concurrent_per_venue"`
	UserAgent             string `yaml:"user_agent"`
}

// Validate checks the venue configuration for internal consistency.
func (c *VenuesConfig) Validate() error {
	if c.Global.MaxConcurrentPerVenue <= 0 {
		return fmt.Errorf("global.max_concurrent_per_venue must be positive")
	}
	if c.Global.UserAgent == "" {
		return fmt.Errorf("global.user_agent cannot be empty")
	}
	for name, v := range c.Venues {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("venue %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks one venue's configuration.
func (v *VenueConfig) Validate() error {
	if !v.Enabled {
		return nil
	}
	if v.WSBaseURL == "" {
		return fmt.Errorf("ws_base_url cannot be empty")
	}
	if v.RESTBaseURL == "" {
		return fmt.Errorf("rest_base_url cannot be empty")
	}
	if v.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %f", v.RPS)
	}
	if v.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", v.Burst)
	}
	if v.DailyBudget <= 0 {
		return fmt.Errorf("daily_budget must be positive, got %d", v.DailyBudget)
	}
	if v.Backoff.MaxMS <= v.Backoff.InitialMS {
		return fmt.Errorf("backoff.max_ms (%d) must exceed backoff.initial_ms (%d)", v.Backoff.MaxMS, v.Backoff.InitialMS)
	}
	if v.Circuit.FailureThreshold == 0 {
		return fmt.Errorf("circuit.failure_threshold must be positive")
	}
	return nil
}

// InitialBackoff returns the venue's initial backoff as a time.Duration.
func (v *VenueConfig) InitialBackoff() time.Duration {
	return time.Duration(v.Backoff.InitialMS) * time.Millisecond
}

// MaxBackoff returns the venue's capped backoff as a time.Duration.
func (v *VenueConfig) MaxBackoff() time.Duration {
	return time.Duration(v.Backoff.MaxMS) * time.Millisecond
}

// OpenTimeout returns the circuit breaker's open-state timeout.
func (v *VenueConfig) OpenTimeout() time.Duration {
	return time.Duration(v.Circuit.OpenTimeoutMS) * time.Millisecond
}

// DefaultVenuesConfig returns sane defaults for the three supported
// venues, matching spec.md's documented weight classes.
func DefaultVenuesConfig() *VenuesConfig {
	return &VenuesConfig{
		Global: GlobalConfig{MaxConcurrentPerVenue: 4, UserAgent: "ingestord/1.0"},
		Venues: map[string]VenueConfig{
			"binance": {
				WSBaseURL:   "wss://stream.binance.com:9443",
				RESTBaseURL: "https://api.binance.com",
				RPS:         18,
				Burst:       40,
				DailyBudget: 160000,
				Backoff:     BackoffConfig{InitialMS: 500, MaxMS: 30000, Factor: 2.0},
				Circuit:     CircuitConfig{FailureThreshold: 5, OpenTimeoutMS: 30000},
				Enabled:     true,
				Symbols:     []string{"BTCUSDT", "ETHUSDT"},
			},
			"okx": {
				WSBaseURL:   "wss://ws.okx.com:8443/ws/v5/public",
				RESTBaseURL: "https://www.okx.com",
				RPS:         15,
				Burst:       20,
				DailyBudget: 120000,
				Backoff:     BackoffConfig{InitialMS: 500, MaxMS: 30000, Factor: 2.0},
				Circuit:     CircuitConfig{FailureThreshold: 5, OpenTimeoutMS: 30000},
				Enabled:     true,
				Symbols:     []string{"BTC-USDT", "ETH-USDT"},
			},
			"deribit": {
				WSBaseURL:   "wss://www.deribit.com/ws/api/v2",
				RESTBaseURL: "https://www.deribit.com",
				RPS:         10,
				Burst:       15,
				DailyBudget: 80000,
				Backoff:     BackoffConfig{InitialMS: 500, MaxMS: 30000, Factor: 2.0},
				Circuit:     CircuitConfig{FailureThreshold: 5, OpenTimeoutMS: 30000},
				Enabled:     true,
				Symbols:     []string{"BTC-PERPETUAL", "ETH-PERPETUAL"},
			},
		},
	}
}
