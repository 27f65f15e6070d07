package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Version    int        `toml:"version"`
	Binary     string     `toml:"binary"`      // search tool, defaults to rg
	MaxResults int        `toml:"max_results"` // display cap per query
	Throttle   Throttle   `toml:"throttle"`
	UISettings UISettings `toml:"ui"`
}

// Throttle configures the render flush coalescer, in milliseconds
type Throttle struct {
	FirstDelayMs int `toml:"first_delay_ms"`
	GapMs        int `toml:"gap_ms"`
}

// UISettings represents UI-related configuration
type UISettings struct {
	ShowStatusBar bool   `toml:"show_status_bar"`
	Pager         string `toml:"pager"` // "ov" (built-in) or an external command
}

// ConfigService handles configuration management
type ConfigService interface {
	Load() (*Config, error)
	Save(config *Config) error
	LoadFromPath(path string) (*Config, error)
	SaveToPath(config *Config, path string) error
}

// configService is the concrete implementation
type configService struct {
	filePath string
}

// NewConfigService creates a new config service
func NewConfigService() ConfigService {
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			configDir = "."
		}
		configDir = filepath.Join(configDir, ".config")
	}

	ripgripDir := filepath.Join(configDir, "ripgrip")
	os.MkdirAll(ripgripDir, 0755)

	return &configService{
		filePath: filepath.Join(ripgripDir, "config.toml"),
	}
}

// Load loads the configuration from file
func (cs *configService) Load() (*Config, error) {
	if _, err := os.Stat(cs.filePath); os.IsNotExist(err) {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}
	return cs.LoadFromPath(cs.filePath)
}

// Save saves the configuration to file
func (cs *configService) Save(config *Config) error {
	return cs.SaveToPath(config, cs.filePath)
}

// LoadFromPath loads configuration from a specific path
func (cs *configService) LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Unset values keep their defaults
	if cfg.Binary == "" {
		cfg.Binary = "rg"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 200
	}
	if cfg.Throttle.FirstDelayMs <= 0 {
		cfg.Throttle.FirstDelayMs = 10
	}
	if cfg.Throttle.GapMs <= 0 {
		cfg.Throttle.GapMs = 200
	}

	return cfg, nil
}

// SaveToPath saves configuration to a specific path
func (cs *configService) SaveToPath(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:    1,
		Binary:     "rg",
		MaxResults: 200,
		Throttle: Throttle{
			FirstDelayMs: 10,
			GapMs:        200,
		},
		UISettings: UISettings{
			ShowStatusBar: true,
			Pager:         "ov",
		},
	}
}
