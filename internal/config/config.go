// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for token cache and master files (always absolute)
	ConfigDir string // Directory holding blacklist.json, market_filters/, market_schedule.json
	DBPath    string // Path to the sqlite database file

	// Brokerage API credentials
	AppKey    string
	AppSecret string
	BaseURL   string

	// Optional public market-data endpoint for the Stage-0 source cascade
	MarketDataURL string

	// Master-file CDN base URL
	MasterFileURL string

	LogLevel string
	Port     int // Status server port
	DevMode  bool
}

// Load reads configuration from environment variables.
// A .env file in the working directory is honored if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("STOCKPIPE_DATA_DIR", "data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	configDir := getEnv("STOCKPIPE_CONFIG_DIR", "config")
	absConfigDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory path: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		ConfigDir:     absConfigDir,
		DBPath:        getEnv("STOCKPIPE_DB_PATH", filepath.Join(absDataDir, "stockpipe.db")),
		AppKey:        getEnv("KIS_APP_KEY", ""),
		AppSecret:     getEnv("KIS_APP_SECRET", ""),
		BaseURL:       getEnv("KIS_BASE_URL", "https://openapi.koreainvestment.com:9443"),
		MarketDataURL: getEnv("MARKET_DATA_URL", ""),
		MasterFileURL: getEnv("MASTER_FILE_URL", "https://new.real.download.dws.co.kr/common/master"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnvAsInt("STOCKPIPE_PORT", 8090),
		DevMode:       getEnvAsBool("DEV_MODE", false),
	}

	return cfg, nil
}

// TokenCachePath returns the broker token cache file location.
func (c *Config) TokenCachePath() string {
	return filepath.Join(c.DataDir, ".token_cache")
}

// MasterFileDir returns the master-file cache directory.
func (c *Config) MasterFileDir() string {
	return filepath.Join(c.DataDir, "master_files")
}

// BlacklistPath returns the temporary-blacklist file location.
func (c *Config) BlacklistPath() string {
	return filepath.Join(c.ConfigDir, "blacklist.json")
}

// MarketFilterDir returns the per-region Stage-0 rule directory.
func (c *Config) MarketFilterDir() string {
	return filepath.Join(c.ConfigDir, "market_filters")
}

// MarketSchedulePath returns the holiday/session calendar file.
func (c *Config) MarketSchedulePath() string {
	return filepath.Join(c.ConfigDir, "market_schedule.json")
}

// HasCredentials reports whether brokerage API credentials are configured.
func (c *Config) HasCredentials() bool {
	return c.AppKey != "" && c.AppSecret != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
