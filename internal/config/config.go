// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	OwnerID     string
	LLM         LLMConfig
}

// LLMConfig holds the model backend connection settings. When BaseURL or
// ModelName is empty the server falls back to the built-in stub streamer.
type LLMConfig struct {
	BaseURL   string
	APIKey    string
	ModelName string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/evochat.db"),
		OwnerID:     getEnv("OWNER_ID", "local"),
		LLM: LLMConfig{
			BaseURL:   getEnv("LLM_BASE_URL", ""),
			APIKey:    getEnv("LLM_API_KEY", ""),
			ModelName: getEnv("LLM_MODEL_NAME", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("OWNER_ID cannot be empty")
	}
	if c.LLM.BaseURL != "" && c.LLM.ModelName == "" {
		return fmt.Errorf("LLM_MODEL_NAME is required when LLM_BASE_URL is set")
	}
	return nil
}

// LLMConfigured reports whether a real model backend is configured.
func (c *Config) LLMConfigured() bool {
	return c.LLM.BaseURL != "" && c.LLM.ModelName != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
