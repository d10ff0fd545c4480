// Package config handles application configuration from an optional YAML
// file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string        `yaml:"telegram_bot_token"`
	DatabasePath     string        `yaml:"database_path"`
	LogLevel         string        `yaml:"log_level"`
	LogJSON          bool          `yaml:"log_json"`
	AllowedUsers     []int64       `yaml:"allowed_users"`
	NotifyChatID     int64         `yaml:"notify_chat_id"`
	HTTPAddr         string        `yaml:"http_addr"`
	WebhookSecret    string        `yaml:"webhook_secret"`
	OperatingMode    string        `yaml:"operating_mode"`
	Storage          StorageConfig `yaml:"storage"`
	Source           SourceConfig  `yaml:"source"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver        string `yaml:"driver"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// SourceConfig points at the chat platform API.
type SourceConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Identifier string        `yaml:"identifier"`
	Key        string        `yaml:"key"`
	Timeout    time.Duration `yaml:"timeout"`
}

func defaults() *Config {
	return &Config{
		DatabasePath:  "./data/bot.db",
		LogLevel:      "info",
		HTTPAddr:      ":8080",
		OperatingMode: "live",
		Storage:       StorageConfig{Driver: DriverSQLite},
		Source: SourceConfig{
			BaseURL: "https://api.crisp.chat/v1",
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads the YAML file named by SWEEPBOT_CONFIG, if any, and then applies
// environment variable overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("SWEEPBOT_CONFIG"); path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.WebhookSecret, "WEBHOOK_SECRET")
	setString(&cfg.OperatingMode, "OPERATING_MODE")
	setString(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setString(&cfg.Storage.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Storage.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.Source.BaseURL, "SOURCE_BASE_URL")
	setString(&cfg.Source.Identifier, "SOURCE_IDENTIFIER")
	setString(&cfg.Source.Key, "SOURCE_KEY")

	if raw := os.Getenv("LOG_JSON"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid LOG_JSON %q: %w", raw, err)
		}
		cfg.LogJSON = v
	}

	if raw := os.Getenv("NOTIFY_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid NOTIFY_CHAT_ID %q: %w", raw, err)
		}
		cfg.NotifyChatID = id
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		cfg.AllowedUsers = nil
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Source.Identifier == "" || c.Source.Key == "" {
		errs = append(errs, errors.New("SOURCE_IDENTIFIER and SOURCE_KEY are required"))
	}
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.OperatingMode {
	case "live", "debug":
	default:
		errs = append(errs, fmt.Errorf("unknown operating mode %q", c.OperatingMode))
	}
	return errors.Join(errs...)
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
