package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Database      DatabaseConfig   `json:"database"`
	Port          int              `json:"port"`
	JWTSecret     string           `json:"jwt_secret"`
	LogConfig     logger.LogConfig `json:"log_config"`
	Editor        EditorConfig     `json:"editor"`
	AI            AIConfig         `json:"ai"`
	CORSAllowlist []string         `json:"cors_allowlist"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// EditorConfig tunes the per-session save machinery. The content debounce is
// the fast always-persist path; the version debounce is the longer quiet
// period before a history snapshot is cut.
type EditorConfig struct {
	ContentDebounceMS   int `json:"content_debounce_ms"`
	VersionDebounceMS   int `json:"version_debounce_ms"`
	StreamFlushMS       int `json:"stream_flush_ms"`
	StreamFlushBytes    int `json:"stream_flush_bytes"`
	ForkTimeToleranceMS int `json:"fork_time_tolerance_ms"`
	SessionIdleMinutes  int `json:"session_idle_minutes"`
}

type AIConfig struct {
	Provider      string      `json:"provider"`
	Model         string      `json:"model"`
	Timeout       int         `json:"timeout"`
	MaxInputChars int         `json:"max_input_chars"`
	RateLimitMS   int         `json:"rate_limit_ms"`
	Data          interface{} `json:"data"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Editor.ContentDebounceMS <= 0 {
		cfg.Editor.ContentDebounceMS = 300
	}
	if cfg.Editor.VersionDebounceMS <= 0 {
		cfg.Editor.VersionDebounceMS = 5000
	}
	if cfg.Editor.StreamFlushMS <= 0 {
		cfg.Editor.StreamFlushMS = 250
	}
	if cfg.Editor.StreamFlushBytes <= 0 {
		cfg.Editor.StreamFlushBytes = 512
	}
	if cfg.Editor.ForkTimeToleranceMS <= 0 {
		cfg.Editor.ForkTimeToleranceMS = 1000
	}
	if cfg.Editor.SessionIdleMinutes <= 0 {
		cfg.Editor.SessionIdleMinutes = 30
	}
	if cfg.AI.RateLimitMS <= 0 {
		cfg.AI.RateLimitMS = 1000
	}
	return &cfg, nil
}
