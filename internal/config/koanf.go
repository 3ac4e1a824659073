// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"auditlog.yaml",
	"auditlog.yml",
	"/etc/auditlog/config.yaml",
	"/etc/auditlog/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "AUDITLOG_CONFIG"

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// AUDIT_LOG_PATH -> audit.log_path, ALERT_SLACK_WEBHOOK_URL ->
	// alerts.slack.webhook_url, and so on.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the config paths parsed as comma-separated slices
// when they arrive as env var strings.
var sliceConfigPaths = []string{
	"audit.allowed_dirs",
	"audit.pii_fields",
	"security.webhook_schemes",
	"alerts.email.to",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML): leave it alone.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are ignored, so unrelated environment
// noise cannot pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Audit writer and rotation
		"audit_log_path":        "audit.log_path",
		"audit_key_path":        "audit.key_path",
		"audit_allowed_dirs":    "audit.allowed_dirs",
		"audit_queue_size":      "audit.queue_size",
		"audit_batch_size":      "audit.batch_size",
		"audit_flush_interval":  "audit.flush_interval",
		"audit_max_size_mb":     "audit.max_size_mb",
		"audit_retention_days":  "audit.retention_days",
		"audit_cache_ttl":       "audit.cache_ttl",
		"audit_compliance_mode": "audit.compliance_mode",
		"audit_pii_fields":      "audit.pii_fields",

		// Rate limiting
		"rate_limit_enabled": "rate_limit.enabled",
		"rate_limit_rate":    "rate_limit.rate",
		"rate_limit_burst":   "rate_limit.burst",

		// Security monitor and webhook vetting
		"security_events_path": "security.events_path",
		"security_ring_size":   "security.ring_size",
		"webhook_schemes":      "security.webhook_schemes",
		"allow_local_webhooks": "security.allow_local_webhooks",

		// Alert dispatcher
		"alert_error_threshold": "alerts.error_threshold",
		"alert_cooldown":        "alerts.cooldown",
		"alert_send_timeout":    "alerts.send_timeout",

		// Alert sinks
		"alert_slack_webhook_url":   "alerts.slack.webhook_url",
		"alert_slack_enabled":       "alerts.slack.enabled",
		"alert_discord_webhook_url": "alerts.discord.webhook_url",
		"alert_discord_enabled":     "alerts.discord.enabled",
		"alert_webhook_url":         "alerts.webhook.webhook_url",
		"alert_webhook_enabled":     "alerts.webhook.enabled",
		"alert_email_host":          "alerts.email.host",
		"alert_email_port":          "alerts.email.port",
		"alert_email_username":      "alerts.email.username",
		"alert_email_password":      "alerts.email.password",
		"alert_email_from":          "alerts.email.from",
		"alert_email_to":            "alerts.email.to",
		"alert_email_enabled":       "alerts.email.enabled",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
