package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Mediation   MediationConfig           `json:"mediation"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	FileBaseDir       string `json:"file_base_dir"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
	CleanupInterval   int    `json:"cleanup_interval"`    // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// MediationConfig tunes the assist pipeline: the per-user sliding-window
// limit, the gateway retry policy, and the transcript window handed to the
// prompt builder.
type MediationConfig struct {
	AssistRateLimit    int `json:"assist_rate_limit"`
	AssistRateWindow   int `json:"assist_rate_window"` // seconds
	AssistMaxAttempts  int `json:"assist_max_attempts"`
	AssistRetryBaseMS  int `json:"assist_retry_base_ms"`
	RecentMessageLimit int `json:"recent_message_limit"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset mediation settings with their documented values.
func (c *Config) ApplyDefaults() {
	if c.Mediation.AssistRateLimit <= 0 {
		c.Mediation.AssistRateLimit = 10
	}
	if c.Mediation.AssistRateWindow <= 0 {
		c.Mediation.AssistRateWindow = 60
	}
	if c.Mediation.AssistMaxAttempts <= 0 {
		c.Mediation.AssistMaxAttempts = 3
	}
	if c.Mediation.AssistRetryBaseMS <= 0 {
		c.Mediation.AssistRetryBaseMS = 1000
	}
	if c.Mediation.RecentMessageLimit <= 0 {
		c.Mediation.RecentMessageLimit = 50
	}
}

// AssistRateWindowDuration returns the sliding window as a duration.
func (c *Config) AssistRateWindowDuration() time.Duration {
	return time.Duration(c.Mediation.AssistRateWindow) * time.Second
}

// AssistRetryBaseDelay returns the first backoff delay for gateway retries.
func (c *Config) AssistRetryBaseDelay() time.Duration {
	return time.Duration(c.Mediation.AssistRetryBaseMS) * time.Millisecond
}
