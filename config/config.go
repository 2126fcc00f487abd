// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Kyiv on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken          string        `envconfig:"BOT_TOKEN"`
	ScheduleURL       string        `envconfig:"SCHEDULE_URL" default:"https://www.roe.vsei.ua/disconnections"`
	Timezone          string        `envconfig:"TIMEZONE" default:"Europe/Kyiv"`
	StorageBucket     string        `envconfig:"STORAGE_BUCKET"`
	LocalStorage      string        `envconfig:"LOCAL_STORAGE"`
	SQLitePath        string        `envconfig:"SQLITE_PATH"`
	GoogleCredentials string        `envconfig:"GOOGLE_CREDENTIALS_JSON"`
	Port              string        `envconfig:"PORT" default:"8080"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	FetchTimeout      time.Duration `envconfig:"FETCH_TIMEOUT" default:"20s"`
	DailyHour         int           `envconfig:"DEFAULT_DAILY_HOUR" default:"7"`
	DailyMinute       int           `envconfig:"DEFAULT_DAILY_MINUTE" default:"30"`
	RemindMinutes     int           `envconfig:"DEFAULT_REMIND_MINUTES" default:"60"`
	TodayRateLimit    int           `envconfig:"TODAY_RATE_LIMIT" default:"10"` // per chat per hour
}

// Load reads an optional .env file, then environment variables into Config.
// Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	var cfg Config
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if u, err := url.Parse(c.ScheduleURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SCHEDULE_URL must be an http(s) URL, got %q", c.ScheduleURL)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.DailyHour < 0 || c.DailyHour > 23 {
		return fmt.Errorf("DEFAULT_DAILY_HOUR must be 0-23, got %d", c.DailyHour)
	}
	if c.DailyMinute < 0 || c.DailyMinute > 59 {
		return fmt.Errorf("DEFAULT_DAILY_MINUTE must be 0-59, got %d", c.DailyMinute)
	}
	if c.RemindMinutes < 0 || c.RemindMinutes > 24*60 {
		return fmt.Errorf("DEFAULT_REMIND_MINUTES must be 0-1440, got %d", c.RemindMinutes)
	}
	if c.TodayRateLimit < 1 {
		return fmt.Errorf("TODAY_RATE_LIMIT must be at least 1, got %d", c.TodayRateLimit)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Location returns the service time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Backend names the user store selected by the settings: "gcs", "sqlite" or "local".
func (c *Config) Backend() string {
	switch {
	case c.StorageBucket != "":
		return "gcs"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "local"
	}
}

// LocalDir returns the directory for JSON user records.
func (c *Config) LocalDir() string {
	if c.LocalStorage != "" {
		return c.LocalStorage
	}
	return "./data"
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
}
