package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	TelegramToken    string  `yaml:"telegram_token"`
	ChatIDs          []int64 `yaml:"chat_ids"`
	CachePath        string  `yaml:"cache_path"`
	EmojiPath        string  `yaml:"emoji_path"`
	AutopostTime     string  `yaml:"autopost_time"`
	NightlyRefresh   string  `yaml:"nightly_refresh"`
	Timezone         string  `yaml:"timezone"`
	FetchTimeoutSecs int     `yaml:"fetch_timeout_secs"`
	LogLevel         string  `yaml:"log_level"`
}

// timeOfDayRegex validates HH:MM format with proper ranges.
var timeOfDayRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("HOLIDAY_BOT_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

func applyDefaults(cfg *Config) {
	if cfg.CachePath == "" {
		cfg.CachePath = "./holiday_cache.json"
	}
	if cfg.EmojiPath == "" {
		cfg.EmojiPath = "./holiday_emojis.json"
	}
	if cfg.AutopostTime == "" {
		cfg.AutopostTime = "00:00"
	}
	if cfg.NightlyRefresh == "" {
		cfg.NightlyRefresh = "23:50"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Moscow"
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 10
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if token := os.Getenv("HOLIDAY_BOT_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}
	if cachePath := os.Getenv("HOLIDAY_BOT_CACHE"); cachePath != "" {
		cfg.CachePath = cachePath
	}
}

func validate(cfg *Config) error {
	if cfg.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required")
	}
	if len(cfg.ChatIDs) == 0 {
		return fmt.Errorf("chat_ids is required")
	}
	if !timeOfDayRegex.MatchString(cfg.AutopostTime) {
		return fmt.Errorf("autopost_time must be in HH:MM format (00:00-23:59), got %q", cfg.AutopostTime)
	}
	if !timeOfDayRegex.MatchString(cfg.NightlyRefresh) {
		return fmt.Errorf("nightly_refresh must be in HH:MM format (00:00-23:59), got %q", cfg.NightlyRefresh)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	return nil
}
