// Package config loads and validates kbd's application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/kbgraph/kbd/internal/ratelimit"
)

// Config represents the complete application configuration.
type Config struct {
	Profile   string              `mapstructure:"profile"`
	Store     StoreConfig         `mapstructure:"store"`
	Embedding EmbeddingConfig     `mapstructure:"embedding"`
	LLM       LLMConfig           `mapstructure:"llm"`
	Graph     GraphConfig         `mapstructure:"graph"`
	Ingest    IngestConfig        `mapstructure:"ingest"`
	RestAPI   RestAPIConfig       `mapstructure:"rest_api"`
	Session   SessionConfig       `mapstructure:"session"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	RateLimit ratelimit.Config    `mapstructure:"rate_limit"`
}

// StoreConfig holds the knowledge store's on-disk location.
type StoreConfig struct {
	Path        string `mapstructure:"path"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// EmbeddingConfig configures the embedding client backing vector search.
type EmbeddingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"` // nomic-embed-text
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig selects and configures the LLM provider used for graph
// enrichment and query planning.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // "ollama" or "anthropic"
	OllamaBaseURL   string        `mapstructure:"ollama_base_url"`
	OllamaModel     string        `mapstructure:"ollama_model"` // qwen2.5:3b
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	AnthropicModel  string        `mapstructure:"anthropic_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// GraphConfig tunes the enrichment and traversal layer.
type GraphConfig struct {
	EntityResolutionThreshold float64 `mapstructure:"entity_resolution_threshold"`
	NeighborFanoutCap         int     `mapstructure:"neighbor_fanout_cap"`
}

// IngestConfig tunes the file ingestion pipeline.
type IngestConfig struct {
	MaxFileSizeBytes int64 `mapstructure:"max_file_size_bytes"`
	ChunkSizeChars   int   `mapstructure:"chunk_size_chars"`
}

// RestAPIConfig holds tool transport server configuration.
type RestAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	CORS    bool   `mapstructure:"cors"`
	// ManagerMode gates the administrative tools (ingest_file, stats,
	// doctor) behind an explicit opt-in, leaving the core tool surface
	// (store, store_batch, search, get, ask, summarize) always on.
	ManagerMode bool `mapstructure:"manager_mode"`
}

// SessionConfig holds session-tracking configuration.
type SessionConfig struct {
	AutoGenerate bool   `mapstructure:"auto_generate"`
	Strategy     string `mapstructure:"strategy"` // "git-directory", "manual", or "hash"
	ManualID     string `mapstructure:"manual_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
}

// DefaultConfig returns configuration with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Profile: "default",
		Store: StoreConfig{
			Path:        DatabasePath(),
			AutoMigrate: true,
		},
		Embedding: EmbeddingConfig{
			Enabled:    true,
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 1024,
			Timeout:    10 * time.Second,
		},
		LLM: LLMConfig{
			Provider:      "anthropic",
			OllamaBaseURL: "http://localhost:11434",
			OllamaModel:   "qwen2.5:3b",
			Timeout:       30 * time.Second,
		},
		Graph: GraphConfig{
			EntityResolutionThreshold: 0.85,
			NeighborFanoutCap:         10,
		},
		Ingest: IngestConfig{
			MaxFileSizeBytes: 512000,
			ChunkSizeChars:   4000,
		},
		RestAPI: RestAPIConfig{
			Enabled:     true,
			Port:        3002,
			Host:        "localhost",
			CORS:        true,
			ManagerMode: false,
		},
		Session: SessionConfig{
			AutoGenerate: true,
			Strategy:     "git-directory",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
		RateLimit: *ratelimit.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file with fallback to
// defaults. Searches, in order: ./config.yaml, ~/.kbd/config.yaml,
// /etc/kbd/config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".kbd"))
	v.AddConfigPath("/etc/kbd")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("profile", d.Profile)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.auto_migrate", d.Store.AutoMigrate)

	v.SetDefault("embedding.enabled", d.Embedding.Enabled)
	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout.String())

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.ollama_base_url", d.LLM.OllamaBaseURL)
	v.SetDefault("llm.ollama_model", d.LLM.OllamaModel)
	v.SetDefault("llm.anthropic_model", d.LLM.AnthropicModel)
	v.SetDefault("llm.timeout", d.LLM.Timeout.String())

	v.SetDefault("graph.entity_resolution_threshold", d.Graph.EntityResolutionThreshold)
	v.SetDefault("graph.neighbor_fanout_cap", d.Graph.NeighborFanoutCap)

	v.SetDefault("ingest.max_file_size_bytes", d.Ingest.MaxFileSizeBytes)
	v.SetDefault("ingest.chunk_size_chars", d.Ingest.ChunkSizeChars)

	v.SetDefault("rest_api.enabled", d.RestAPI.Enabled)
	v.SetDefault("rest_api.port", d.RestAPI.Port)
	v.SetDefault("rest_api.host", d.RestAPI.Host)
	v.SetDefault("rest_api.cors", d.RestAPI.CORS)
	v.SetDefault("rest_api.manager_mode", d.RestAPI.ManagerMode)

	v.SetDefault("session.auto_generate", d.Session.AutoGenerate)
	v.SetDefault("session.strategy", d.Session.Strategy)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.global.requests_per_second", d.RateLimit.Global.RequestsPerSecond)
	v.SetDefault("rate_limit.global.burst_size", d.RateLimit.Global.BurstSize)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be > 0")
	}

	if c.RestAPI.Enabled {
		if c.RestAPI.Port < 1 || c.RestAPI.Port > 65535 {
			return fmt.Errorf("rest_api.port must be between 1 and 65535")
		}
		if c.RestAPI.Host == "" {
			return fmt.Errorf("rest_api.host is required when rest_api is enabled")
		}
	}

	if c.Session.Strategy != "git-directory" && c.Session.Strategy != "manual" && c.Session.Strategy != "hash" {
		return fmt.Errorf("session.strategy must be one of: git-directory, manual, hash")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	validProviders := map[string]bool{"ollama": true, "anthropic": true}
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("llm.provider must be one of: ollama, anthropic")
	}
	// A missing anthropic_api_key is not a Validate() failure: the
	// provider's IsAvailable() probe degrades gracefully, and every
	// caller (enricher, planner) already falls back when the LLM is
	// unavailable rather than assuming it is configured.

	if c.Graph.EntityResolutionThreshold <= 0 || c.Graph.EntityResolutionThreshold > 1 {
		return fmt.Errorf("graph.entity_resolution_threshold must be within (0,1]")
	}

	return nil
}

// EnsureStoreDir creates the store's parent directory if it doesn't exist.
func (c *Config) EnsureStoreDir() error {
	dir := filepath.Dir(c.Store.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the configuration directory.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".kbd")
}

// DatabasePath returns the default store path.
func DatabasePath() string {
	return filepath.Join(ConfigPath(), "kb.db")
}
