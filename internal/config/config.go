package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Engine        struct {
		MaxAttempts      int    `json:"max_attempts"`
		InitialBackoffMS int    `json:"initial_backoff_ms"`
		ResumePollSec    int    `json:"resume_poll_sec"`
		DigestCron       string `json:"digest_cron"`
	} `json:"engine"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	SMTP struct {
		Host string `json:"host"`
		Port int    `json:"port"`
		User string `json:"user"`
		Pass string `json:"pass"`
		From string `json:"from"`
	} `json:"smtp"`
	FrontendURL string `json:"frontend_url"`
	NATS        struct {
		URL string `json:"url"`
	} `json:"nats"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
}

// ResumePoll returns the resumer poll interval.
func (c *Config) ResumePoll() time.Duration {
	return time.Duration(c.Engine.ResumePollSec) * time.Second
}

// InitialBackoff returns the first retry delay for failed steps.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Engine.InitialBackoffMS) * time.Millisecond
}

func Load(path string) (*Config, error) {
	// .env is optional; real env vars still win below.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".linkup"),
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.Engine.MaxAttempts = 5
	cfg.Engine.InitialBackoffMS = 500
	cfg.Engine.ResumePollSec = 60
	cfg.Engine.DigestCron = "CRON_TZ=America/New_York 0 9 * * *"
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = ":4000"
	cfg.SMTP.Port = 587
	cfg.FrontendURL = "http://localhost:5173"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if v := os.Getenv("LINKUP_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.SMTP.User = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.SMTP.Pass = v
	}
	if v := os.Getenv("SENDER_EMAIL"); v != "" {
		cfg.SMTP.From = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.FrontendURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
