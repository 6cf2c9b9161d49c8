package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all recall configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Search      SearchConfig      `toml:"search"`
	Tiers       TierConfig        `toml:"tiers"`
	RateLimit   RateLimitConfig   `toml:"ratelimit"`
	Resilience  ResilienceConfig  `toml:"resilience"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type EmbeddingConfig struct {
	OllamaURL  string `toml:"ollama_url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

// SearchConfig tunes hybrid retrieval fusion.
type SearchConfig struct {
	RRFK          int     `toml:"rrf_k"`          // reciprocal rank fusion constant
	VectorWeight  float64 `toml:"vector_weight"`  // share of the fused score from the vector path
	DecayBase     float64 `toml:"decay_base"`     // temporal decay base
	DecayExponent float64 `toml:"decay_exponent"` // temporal decay age exponent
	DefaultLimit  int     `toml:"default_limit"`
}

// TierConfig bounds the three memory tiers and sets lifecycle thresholds.
type TierConfig struct {
	WorkingMaxItems     int     `toml:"working_max_items"`
	WorkingMaxAgeHours  int     `toml:"working_max_age_hours"`
	ShortTermMaxItems   int     `toml:"short_term_max_items"`
	ShortTermMaxAgeDays int     `toml:"short_term_max_age_days"`
	PromoteThreshold    float64 `toml:"promote_threshold"` // usage success needed for long-term
	DeleteThreshold     float64 `toml:"delete_threshold"`  // usage success below which aged records die

	// Per-tier decay rates (lambda in e^(-lambda*ageDays)).
	WorkingDecayLambda   float64 `toml:"working_decay_lambda"`
	ShortTermDecayLambda float64 `toml:"short_term_decay_lambda"`
	LongTermDecayLambda  float64 `toml:"long_term_decay_lambda"`
	DecayEpsilon         float64 `toml:"decay_epsilon"` // skip the write when the score barely moved
}

// OperationLimit is the per-operation rate limit.
type OperationLimit struct {
	PerMinute int `toml:"per_minute"`
	PerHour   int `toml:"per_hour"`
	PerDay    int `toml:"per_day"`
}

type RateLimitConfig struct {
	BurstMultiplier float64                   `toml:"burst_multiplier"`
	CooldownSeconds int                       `toml:"cooldown_seconds"`
	Operations      map[string]OperationLimit `toml:"operations"`
}

type ResilienceConfig struct {
	FailureThreshold int `toml:"failure_threshold"`
	ResetTimeoutMs   int `toml:"reset_timeout_ms"`
	HalfOpenRequests int `toml:"half_open_requests"`

	RetryMaxAttempts       int     `toml:"retry_max_attempts"`
	RetryInitialDelayMs    int     `toml:"retry_initial_delay_ms"`
	RetryBackoffMultiplier float64 `toml:"retry_backoff_multiplier"`
	RetryMaxDelayMs        int     `toml:"retry_max_delay_ms"`
}

type MaintenanceConfig struct {
	PromotionIntervalMinutes int `toml:"promotion_interval_minutes"`
	DecayIntervalMinutes     int `toml:"decay_interval_minutes"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37717,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Embedding: EmbeddingConfig{
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Search: SearchConfig{
			RRFK:          60,
			VectorWeight:  0.5,
			DecayBase:     0.9,
			DecayExponent: 0.5,
			DefaultLimit:  10,
		},
		Tiers: TierConfig{
			WorkingMaxItems:      200,
			WorkingMaxAgeHours:   24,
			ShortTermMaxItems:    1000,
			ShortTermMaxAgeDays:  7,
			PromoteThreshold:     0.6,
			DeleteThreshold:      0.3,
			WorkingDecayLambda:   0.1,
			ShortTermDecayLambda: 0.05,
			LongTermDecayLambda:  0.01,
			DecayEpsilon:         0.01,
		},
		RateLimit: RateLimitConfig{
			BurstMultiplier: 1.5,
			CooldownSeconds: 60,
			Operations: map[string]OperationLimit{
				"search":    {PerMinute: 30, PerHour: 500, PerDay: 5000},
				"embed":     {PerMinute: 60, PerHour: 1000, PerDay: 10000},
				"lifecycle": {PerMinute: 2, PerHour: 20, PerDay: 100},
			},
		},
		Resilience: ResilienceConfig{
			FailureThreshold:       5,
			ResetTimeoutMs:         30000,
			HalfOpenRequests:       3,
			RetryMaxAttempts:       3,
			RetryInitialDelayMs:    100,
			RetryBackoffMultiplier: 2.0,
			RetryMaxDelayMs:        5000,
		},
		Maintenance: MaintenanceConfig{
			PromotionIntervalMinutes: 60,
			DecayIntervalMinutes:     360,
		},
	}
}

// Load reads a TOML config file, layering it over Default().
// A missing file is not an error — defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
