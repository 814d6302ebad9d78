package web

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/namelink/internal/config"
)

// Config represents the web server configuration
type Config struct {
	Server   ServerConfig  `json:"server"`
	Auth     AuthConfig    `json:"auth"`
	Features FeatureConfig `json:"features"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key"`
}

// FeatureConfig contains feature toggles
type FeatureConfig struct {
	PersistRuns       bool `json:"persist_runs"`
	MaxRequestRecords int  `json:"max_request_records"`
}

// LoadConfig loads configuration from a JSON file on top of the defaults
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return cfg, nil
}

// ConfigFromEnv reads WEB_* variables on top of the defaults
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.Server.Host = config.GetEnv("WEB_HOST", cfg.Server.Host)
	cfg.Server.Port = config.GetEnvInt("WEB_PORT", cfg.Server.Port)
	cfg.Auth.APIKey = config.GetEnv("WEB_API_KEY", "")
	cfg.Auth.Enabled = cfg.Auth.APIKey != ""
	cfg.Features.PersistRuns = config.GetEnvBool("WEB_PERSIST_RUNS", cfg.Features.PersistRuns)
	cfg.Features.MaxRequestRecords = config.GetEnvInt("WEB_MAX_REQUEST_RECORDS", cfg.Features.MaxRequestRecords)
	return cfg
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Features: FeatureConfig{
			PersistRuns:       true,
			MaxRequestRecords: 100000,
		},
	}
}
