// Package config holds the application settings file and the operational
// limits file. Settings live in config.json in the config directory; limits
// live in limits.yaml alongside it and overlay compiled-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tandemhq/tandem-core/paths"
	"github.com/tandemhq/tandem-core/session"
)

// Config holds the application configuration
type Config struct {
	DefaultProvider    string  `json:"default_provider,omitempty"`     // Provider for new sessions (default "anthropic")
	DefaultModel       string  `json:"default_model,omitempty"`        // Model for new sessions
	DefaultTemperature float64 `json:"default_temperature,omitempty"`  // Sampling temperature for new sessions
	DefaultMaxTokens   int     `json:"default_max_tokens,omitempty"`   // Max response tokens for new sessions (default 8192)
	Debug              bool    `json:"debug,omitempty"`                // Verbose logging
	MaxTranscriptLines int     `json:"max_transcript_lines,omitempty"` // Max content lines kept when persisting history (default 10000)

	mu       sync.RWMutex
	filePath string
}

// Default values applied when the config file is absent or omits a field.
const (
	DefaultProvider        = "anthropic"
	DefaultModel           = "claude-sonnet-4"
	DefaultMaxTokens       = 8192
	DefaultTranscriptLines = 10000
)

// Load reads the config from disk, or creates a new one if it doesn't exist
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}

	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.ensureInitialized()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Fill zero fields with defaults before Validate() since Validate() only reads
	cfg.ensureInitialized()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ensureInitialized fills unset fields with their defaults.
//
// Thread-safety: This method is NOT thread-safe and must only be called
// during single-threaded initialization (i.e., from Load() before the Config
// is shared across goroutines).
func (c *Config) ensureInitialized() {
	if c.DefaultProvider == "" {
		c.DefaultProvider = DefaultProvider
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = DefaultMaxTokens
	}
	if c.MaxTranscriptLines <= 0 {
		c.MaxTranscriptLines = DefaultTranscriptLines
	}
}

// Validate checks that the config is internally consistent.
// This is a read-only operation - call ensureInitialized() first if needed.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.DefaultTemperature < 0 || c.DefaultTemperature > 2 {
		return fmt.Errorf("default_temperature %v out of range [0, 2]", c.DefaultTemperature)
	}
	if c.DefaultMaxTokens < 0 {
		return fmt.Errorf("default_max_tokens cannot be negative")
	}
	if c.MaxTranscriptLines < 0 {
		return fmt.Errorf("max_transcript_lines cannot be negative")
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, err := paths.ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.filePath, data, 0644)
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// DefaultSessionConfig returns the session config applied to newly created
// sessions when the caller does not supply one.
func (c *Config) DefaultSessionConfig() session.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return session.Config{
		Provider:    c.DefaultProvider,
		Model:       c.DefaultModel,
		Temperature: c.DefaultTemperature,
		MaxTokens:   c.DefaultMaxTokens,
	}
}

// GetDebug returns whether verbose logging is enabled
func (c *Config) GetDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Debug
}

// SetDebug sets whether verbose logging is enabled
func (c *Config) SetDebug(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Debug = enabled
}

// GetMaxTranscriptLines returns the max content lines kept when persisting history
func (c *Config) GetMaxTranscriptLines() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.MaxTranscriptLines <= 0 {
		return DefaultTranscriptLines
	}
	return c.MaxTranscriptLines
}

// SetMaxTranscriptLines sets the max content lines kept when persisting history
func (c *Config) SetMaxTranscriptLines(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MaxTranscriptLines = n
}
