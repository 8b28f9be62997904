// Package config loads the support core configuration: a YAML file layered
// with defaults, then environment overrides. Business data that must stay
// testable configuration (the refund bands per fare class) lives here, not
// in code.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// Config holds all support core configuration.
type Config struct {
	Name string `yaml:"name"`

	Ledger    LedgerConfig    `yaml:"ledger"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Session   SessionConfig   `yaml:"session"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LedgerConfig configures the transactional ledger engine.
type LedgerConfig struct {
	DatabasePath string `yaml:"database_path" env:"SUPPORT_DB"`

	// ModificationCutoffHours is the minimum hours before departure at
	// which a booking may still be modified.
	ModificationCutoffHours int `yaml:"modification_cutoff_hours"`

	// LockWait bounds how long a mutating call waits for the per-booking
	// lock before failing with a concurrency conflict.
	LockWait string `yaml:"lock_wait"`

	// RefundBands is the refund policy table per fare class. Bands are
	// matched by the largest MinHoursBefore not exceeding the actual
	// hours-before-departure.
	RefundBands map[support.TicketType][]RefundBand `yaml:"refund_bands"`
}

// RefundBand is one row of the refund policy table: at or beyond
// MinHoursBefore hours before departure the customer gets RefundPercent of
// the paid price minus CancellationFee, clamped at zero.
type RefundBand struct {
	MinHoursBefore  int     `yaml:"min_hours_before"`
	RefundPercent   int     `yaml:"refund_percent"`
	CancellationFee float64 `yaml:"cancellation_fee"`
}

// RetrievalConfig configures the knowledge retrieval engine.
type RetrievalConfig struct {
	ChunkSize    int     `yaml:"chunk_size"`    // target characters per chunk
	ChunkOverlap int     `yaml:"chunk_overlap"` // characters shared between neighbours
	TopK         int     `yaml:"top_k"`
	MinScore     float64 `yaml:"min_score"` // cosine similarity floor
}

// SessionConfig configures the context manager.
type SessionConfig struct {
	IdleTTL       string `yaml:"idle_ttl"`
	HistoryWindow int    `yaml:"history_window"` // turns kept per session
	JanitorSpec   string `yaml:"janitor_spec"`   // cron spec for eviction sweep
}

// DispatchConfig configures plan execution.
type DispatchConfig struct {
	BranchTimeout string `yaml:"branch_timeout"`
}

// LLMConfig configures the text-completion capability the synthesizer may
// use to phrase replies. Provider is "genai" or "openai".
type LLMConfig struct {
	Provider string `yaml:"provider" env:"SUPPORT_LLM_PROVIDER"`
	Model    string `yaml:"model" env:"SUPPORT_LLM_MODEL"`
	APIKey   string `yaml:"api_key" env:"GEMINI_API_KEY"`
	BaseURL  string `yaml:"base_url" env:"SUPPORT_LLM_BASE_URL"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Model  string `yaml:"model" env:"SUPPORT_EMBEDDING_MODEL"`
	APIKey string `yaml:"api_key" env:"GEMINI_API_KEY"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"SUPPORT_LOG_LEVEL"` // debug, info, warn, error
	Format string `yaml:"format"`                        // json, console
}

// Default returns the default configuration. The refund bands mirror the
// published UKConnect policy: flexible fares refund in full at any time;
// standard and first class step down from full refund beyond 24 hours to a
// 50% refund with a fee inside 4 hours.
func Default() *Config {
	return &Config{
		Name: "ukconnect-support",

		Ledger: LedgerConfig{
			DatabasePath:            "data/ukconnect.db",
			ModificationCutoffHours: 2,
			LockWait:                "2s",
			RefundBands: map[support.TicketType][]RefundBand{
				support.TicketFlexible: {
					{MinHoursBefore: 0, RefundPercent: 100, CancellationFee: 0},
				},
				support.TicketStandard: {
					{MinHoursBefore: 24, RefundPercent: 100, CancellationFee: 0},
					{MinHoursBefore: 4, RefundPercent: 75, CancellationFee: 25},
					{MinHoursBefore: 0, RefundPercent: 50, CancellationFee: 50},
				},
				support.TicketFirstClass: {
					{MinHoursBefore: 24, RefundPercent: 100, CancellationFee: 0},
					{MinHoursBefore: 4, RefundPercent: 75, CancellationFee: 50},
					{MinHoursBefore: 0, RefundPercent: 50, CancellationFee: 75},
				},
			},
		},

		Retrieval: RetrievalConfig{
			ChunkSize:    600,
			ChunkOverlap: 100,
			TopK:         5,
			MinScore:     0.35,
		},

		Session: SessionConfig{
			IdleTTL:       "30m",
			HistoryWindow: 20,
			JanitorSpec:   "@every 5m",
		},

		Dispatch: DispatchConfig{
			BranchTimeout: "20s",
		},

		LLM: LLMConfig{
			Provider: "genai",
			Model:    "gemini-2.5-flash",
			Timeout:  "60s",
		},

		Embedding: EmbeddingConfig{
			Model: "gemini-embedding-001",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides layers environment variables over the loaded values
// using the `env` struct tags.
func (c *Config) applyEnvOverrides() error {
	for _, target := range []interface{}{
		&c.Ledger, &c.LLM, &c.Embedding, &c.Logging,
	} {
		if err := env.Parse(target); err != nil {
			return fmt.Errorf("failed to apply env overrides: %w", err)
		}
	}

	// OPENAI_API_KEY wins for the openai provider; GEMINI_API_KEY is the
	// tagged default shared with embeddings.
	if c.LLM.Provider == "openai" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	}

	return nil
}

// Validate checks structural soundness of the business configuration.
func (c *Config) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("chunk_overlap %d must be smaller than chunk_size %d",
			c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}
	if c.Session.HistoryWindow <= 0 {
		return fmt.Errorf("session history_window must be positive, got %d", c.Session.HistoryWindow)
	}
	for tt, bands := range c.Ledger.RefundBands {
		if !support.ValidTicketType(tt) {
			return fmt.Errorf("refund_bands: unknown ticket type %q", tt)
		}
		if len(bands) == 0 {
			return fmt.Errorf("refund_bands: no bands for ticket type %q", tt)
		}
		for _, b := range bands {
			if b.RefundPercent < 0 || b.RefundPercent > 100 {
				return fmt.Errorf("refund_bands: percent %d out of range for %q", b.RefundPercent, tt)
			}
			if b.CancellationFee < 0 {
				return fmt.Errorf("refund_bands: negative fee for %q", tt)
			}
		}
	}
	return nil
}

// GetLockWait returns the per-booking lock wait as a duration.
func (c *Config) GetLockWait() time.Duration {
	d, err := time.ParseDuration(c.Ledger.LockWait)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetBranchTimeout returns the dispatch branch budget as a duration.
func (c *Config) GetBranchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Dispatch.BranchTimeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// GetSessionTTL returns the session idle TTL as a duration.
func (c *Config) GetSessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Session.IdleTTL)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetLLMTimeout returns the completion timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}
