// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

// Package config defines the engine configuration and its layered loader.
// Precedence: environment variables > config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the audit engine.
type Config struct {
	Audit     AuditConfig     `koanf:"audit"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Security  SecurityConfig  `koanf:"security"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// AuditConfig controls the log file, signing key, writer, rotation, and
// query cache.
type AuditConfig struct {
	// LogPath is the active NDJSON audit log file.
	LogPath string `koanf:"log_path"`

	// KeyPath is the HMAC signing key file. Created on first start if
	// absent.
	KeyPath string `koanf:"key_path"`

	// AllowedDirs restricts where LogPath, KeyPath, and export targets
	// may resolve. Empty means the directory of LogPath.
	AllowedDirs []string `koanf:"allowed_dirs"`

	QueueSize     int           `koanf:"queue_size"`
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`

	// MaxSizeMB triggers rotation when the active file exceeds it.
	MaxSizeMB int `koanf:"max_size_mb"`

	// RetentionDays removes rotated archives older than this. 0 keeps
	// archives forever.
	RetentionDays int `koanf:"retention_days"`

	CacheTTL time.Duration `koanf:"cache_ttl"`

	// ComplianceMode hashes PII detail values before events are signed
	// and written; the redacted form is what the log holds, so the
	// originals are unrecoverable.
	ComplianceMode bool `koanf:"compliance_mode"`

	// PIIFields overrides the detail keys treated as PII in compliance
	// mode. Empty uses the built-in set.
	PIIFields []string `koanf:"pii_fields"`
}

// RateLimitConfig controls the per-source event admission limiter.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	Rate    float64 `koanf:"rate"`
	Burst   int     `koanf:"burst"`
}

// SecurityConfig controls the security-event monitor and webhook vetting.
type SecurityConfig struct {
	// EventsPath is the NDJSON file for security events. Empty disables
	// file persistence (events stay in the in-memory ring).
	EventsPath string `koanf:"events_path"`

	RingSize int `koanf:"ring_size"`

	// WebhookSchemes is the scheme allow-list for outbound webhooks.
	WebhookSchemes []string `koanf:"webhook_schemes"`

	// AllowLocalWebhooks permits loopback and private webhook targets.
	// Test environments only.
	AllowLocalWebhooks bool `koanf:"allow_local_webhooks"`
}

// AlertsConfig controls the error-threshold dispatcher and its sinks.
type AlertsConfig struct {
	ErrorThreshold int           `koanf:"error_threshold"`
	Cooldown       time.Duration `koanf:"cooldown"`
	SendTimeout    time.Duration `koanf:"send_timeout"`

	Slack   SlackSinkConfig   `koanf:"slack"`
	Discord DiscordSinkConfig `koanf:"discord"`
	Webhook WebhookSinkConfig `koanf:"webhook"`
	Email   EmailSinkConfig   `koanf:"email"`
}

// SlackSinkConfig configures the Slack alert sink.
type SlackSinkConfig struct {
	WebhookURL string `koanf:"webhook_url"`
	Enabled    bool   `koanf:"enabled"`
}

// DiscordSinkConfig configures the Discord alert sink.
type DiscordSinkConfig struct {
	WebhookURL string `koanf:"webhook_url"`
	Enabled    bool   `koanf:"enabled"`
}

// WebhookSinkConfig configures the generic webhook alert sink.
type WebhookSinkConfig struct {
	WebhookURL string            `koanf:"webhook_url"`
	Headers    map[string]string `koanf:"headers"`
	Enabled    bool              `koanf:"enabled"`
}

// EmailSinkConfig configures the SMTP alert sink.
type EmailSinkConfig struct {
	Host     string   `koanf:"host"`
	Port     int      `koanf:"port"`
	Username string   `koanf:"username"`
	Password string   `koanf:"password"`
	From     string   `koanf:"from"`
	To       []string `koanf:"to"`
	Enabled  bool     `koanf:"enabled"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Audit: AuditConfig{
			LogPath:       "/data/audit/audit.log",
			KeyPath:       "/data/audit/audit.key",
			AllowedDirs:   nil,
			QueueSize:     1000,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
			MaxSizeMB:     100,
			RetentionDays: 90,
			CacheTTL:      30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Burst:   200,
		},
		Security: SecurityConfig{
			EventsPath:         "/data/audit/security.log",
			RingSize:           1000,
			WebhookSchemes:     []string{"https"},
			AllowLocalWebhooks: false,
		},
		Alerts: AlertsConfig{
			ErrorThreshold: 10,
			Cooldown:       5 * time.Minute,
			SendTimeout:    10 * time.Second,
			Email: EmailSinkConfig{
				Port: 587,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks configuration invariants after loading.
func (c *Config) Validate() error {
	if c.Audit.LogPath == "" {
		return fmt.Errorf("audit.log_path is required")
	}
	if c.Audit.KeyPath == "" {
		return fmt.Errorf("audit.key_path is required")
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit.queue_size must be positive, got %d", c.Audit.QueueSize)
	}
	if c.Audit.BatchSize <= 0 {
		return fmt.Errorf("audit.batch_size must be positive, got %d", c.Audit.BatchSize)
	}
	if c.Audit.BatchSize > c.Audit.QueueSize {
		return fmt.Errorf("audit.batch_size (%d) cannot exceed audit.queue_size (%d)",
			c.Audit.BatchSize, c.Audit.QueueSize)
	}
	if c.Audit.FlushInterval <= 0 {
		return fmt.Errorf("audit.flush_interval must be positive")
	}
	if c.Audit.MaxSizeMB <= 0 {
		return fmt.Errorf("audit.max_size_mb must be positive, got %d", c.Audit.MaxSizeMB)
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days cannot be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate_limit.rate must be positive, got %v", c.RateLimit.Rate)
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive, got %d", c.RateLimit.Burst)
		}
	}
	if c.Security.RingSize <= 0 {
		return fmt.Errorf("security.ring_size must be positive, got %d", c.Security.RingSize)
	}
	if c.Alerts.ErrorThreshold <= 0 {
		return fmt.Errorf("alerts.error_threshold must be positive, got %d", c.Alerts.ErrorThreshold)
	}
	if c.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown cannot be negative")
	}
	if c.Alerts.Email.Enabled {
		if c.Alerts.Email.Host == "" {
			return fmt.Errorf("alerts.email.host is required when email alerts are enabled")
		}
		if len(c.Alerts.Email.To) == 0 {
			return fmt.Errorf("alerts.email.to is required when email alerts are enabled")
		}
	}
	switch c.Logging.Format {
	case "json", "console", "":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
