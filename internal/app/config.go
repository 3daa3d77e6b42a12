// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package app provides the application context (config, logging) that
// every service in this module is constructed from. There are no global
// singletons: everything here is plain data passed through constructors.
package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMonitoringInterval = 300 * time.Second
	minMonitoringInterval     = 60 * time.Second
	defaultHTTPTimeout        = 30 * time.Second
)

// PlatformConfig describes one configured chat-platform backend.
type PlatformConfig struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // "discord" or "feishu"
	WebhookURL string `yaml:"webhook_url"`
	BotToken   string `yaml:"bot_token"`
	ChannelID  string `yaml:"channel_id"`
	Primary    bool   `yaml:"primary"`
}

// Config is the fully resolved set of environment knobs the bot reads at
// startup.
type Config struct {
	DatabaseURL        string
	ManualSubsystems   []string
	MonitoringInterval time.Duration
	LastUpdateAtOverride *time.Time
	MaxNewsCount       int
	BotMentionName     string
	ThreadCardTimeout  time.Duration
	Platforms          []PlatformConfig
	HTTPTimeout        time.Duration
}

type staticFile struct {
	Platforms []PlatformConfig `yaml:"platforms"`
}

// LoadConfig reads the environment knobs, optionally layering a static YAML
// file (PLATFORMS_CONFIG_FILE) for per-platform webhook/token wiring that
// doesn't fit comfortably into single env vars.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		MonitoringInterval: defaultMonitoringInterval,
		ThreadCardTimeout:  24 * time.Hour,
		HTTPTimeout:        defaultHTTPTimeout,
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if manual := os.Getenv("MANUAL_SUBSYSTEMS"); manual != "" {
		cfg.ManualSubsystems = splitCommaList(manual)
	}

	if iv := os.Getenv("MONITORING_INTERVAL"); iv != "" {
		seconds, err := strconv.Atoi(iv)
		if err != nil {
			return nil, fmt.Errorf("invalid MONITORING_INTERVAL %q: %w", iv, err)
		}
		interval := time.Duration(seconds) * time.Second
		if interval < minMonitoringInterval {
			interval = minMonitoringInterval
		}
		cfg.MonitoringInterval = interval
	}

	if raw := os.Getenv("LAST_UPDATE_AT"); raw != "" {
		t, err := parseISO8601(raw)
		if err != nil {
			// An invalid override falls back to the database-derived
			// high-water mark instead of failing startup.
			Errorf("invalid LAST_UPDATE_AT %q, ignoring: %v", raw, err)
		} else {
			cfg.LastUpdateAtOverride = &t
		}
	}

	if mc := os.Getenv("MAX_NEWS_COUNT"); mc != "" {
		n, err := strconv.Atoi(mc)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_NEWS_COUNT %q: %w", mc, err)
		}
		cfg.MaxNewsCount = n
	}

	cfg.BotMentionName = os.Getenv("BOT_MENTION_NAME")

	if th := os.Getenv("THREAD_CARD_TIMEOUT_HOURS"); th != "" {
		hours, err := strconv.Atoi(th)
		if err != nil {
			return nil, fmt.Errorf("invalid THREAD_CARD_TIMEOUT_HOURS %q: %w", th, err)
		}
		cfg.ThreadCardTimeout = time.Duration(hours) * time.Hour
	}

	if path := os.Getenv("PLATFORMS_CONFIG_FILE"); path != "" {
		platforms, err := loadPlatformsFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg.Platforms = platforms
	}

	return cfg, nil
}

func loadPlatformsFile(path string) ([]PlatformConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Platforms, nil
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseISO8601 accepts ISO-8601 timestamps with either a Z suffix or a
// numeric offset; time.RFC3339 covers both forms.
func parseISO8601(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
