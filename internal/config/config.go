package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Modzer0/Brain-sub000/internal/models"
)

const (
	// DefaultShortTermCapacity is the default short-term byte budget (1 GiB).
	DefaultShortTermCapacity int64 = 1 << 30

	// DefaultCompressionThreshold is the default short-term usage fraction that triggers compression.
	DefaultCompressionThreshold = 0.8

	// DefaultAssociationDepth is the default traversal depth for associated memories.
	DefaultAssociationDepth = 2
)

// Storage backends for the long-term tier.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds all configuration for brain-memory.
type Config struct {
	Memory    MemoryConfig              `mapstructure:"memory"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Organizer models.OrganizationConfig `mapstructure:"organization"`
	Claude    ClaudeConfig              `mapstructure:"claude"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	API       APIConfig                 `mapstructure:"api"`
	Lifecycle LifecycleConfig           `mapstructure:"lifecycle"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// ClaudeConfig holds Anthropic Claude API settings used for importance scoring.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Enabled reports whether an API key is configured.
func (c ClaudeConfig) Enabled() bool { return c.APIKey != "" }

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	masked := maskAPIKey(c.APIKey)
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", masked, c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// MemoryConfig holds short-term tier and coherence settings.
type MemoryConfig struct {
	MemoryDir            string  `mapstructure:"memory_dir"`
	ShortTermCapacity    int64   `mapstructure:"short_term_capacity"`
	CompressionThreshold float64 `mapstructure:"compression_threshold"`
	AssociationDepth     int     `mapstructure:"association_depth"`
	CoherenceDir         string  `mapstructure:"coherence_dir"` // default <memory_dir>/Memory/Coherence
	SessionID            string  `mapstructure:"session_id"`
}

// StorageConfig selects the long-term backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DBPath  string `mapstructure:"db_path"` // default <memory_dir>/long_term.db
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LifecycleConfig holds periodic maintenance settings for long-running servers.
type LifecycleConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	return load(viper.New(), filepath.Join(homeDir(), ".brain-memory"), ".")
}

func load(v *viper.Viper, configPaths ...string) (*Config, error) {
	memoryDir := filepath.Join(homeDir(), ".brain-memory", "memory")
	org := models.DefaultOrganizationConfig()

	// Defaults
	v.SetDefault("memory.memory_dir", memoryDir)
	v.SetDefault("memory.short_term_capacity", DefaultShortTermCapacity)
	v.SetDefault("memory.compression_threshold", DefaultCompressionThreshold)
	v.SetDefault("memory.association_depth", DefaultAssociationDepth)
	v.SetDefault("memory.coherence_dir", "")
	v.SetDefault("memory.session_id", "")

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.db_path", "")

	v.SetDefault("organization.recency_weight", org.RecencyWeight)
	v.SetDefault("organization.importance_weight", org.ImportanceWeight)
	v.SetDefault("organization.relevance_weight", org.RelevanceWeight)

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	v.SetDefault("lifecycle.interval_minutes", 30)

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	// Environment variables
	v.SetEnvPrefix("BRAIN_MEMORY")
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("memory.memory_dir", "BRAIN_MEMORY_DIR")
	_ = v.BindEnv("storage.backend", "BRAIN_MEMORY_STORAGE_BACKEND")
	_ = v.BindEnv("api.listen_addr", "BRAIN_MEMORY_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "BRAIN_MEMORY_API_AUTH_TOKEN")
	_ = v.BindEnv("logging.level", "BRAIN_MEMORY_LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK: use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyDerivedDefaults fills paths that depend on memory_dir.
func (c *Config) applyDerivedDefaults() {
	if c.Memory.CoherenceDir == "" {
		c.Memory.CoherenceDir = filepath.Join(c.Memory.MemoryDir, "Memory", "Coherence")
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Memory.MemoryDir, "long_term.db")
	}
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Memory.MemoryDir == "" {
		return fmt.Errorf("memory.memory_dir must not be empty")
	}
	if c.Memory.ShortTermCapacity <= 0 {
		return fmt.Errorf("memory.short_term_capacity must be greater than 0")
	}
	if c.Memory.CompressionThreshold <= 0 {
		return fmt.Errorf("memory.compression_threshold must be greater than 0")
	}
	if c.Memory.AssociationDepth < 0 {
		return fmt.Errorf("memory.association_depth must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path must not be empty for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendSQLite, BackendMemory, c.Storage.Backend)
	}
	if err := c.Organizer.Validate(); err != nil {
		return fmt.Errorf("organization: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Lifecycle.IntervalMinutes < 0 {
		return fmt.Errorf("lifecycle.interval_minutes must be >= 0")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
