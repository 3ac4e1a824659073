// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	"github.com/leadflow/auditlog/internal/validation"
)

// discordMaxContent is Discord's hard limit on message content length.
const discordMaxContent = 2000

// DiscordNotifier posts alerts to a Discord webhook.
type DiscordNotifier struct {
	mu         sync.RWMutex
	webhookURL string
	client     *http.Client
	enabled    bool
}

// DiscordConfig configures the Discord notifier.
type DiscordConfig struct {
	WebhookURL string `koanf:"webhook_url" json:"webhook_url"`
	Enabled    bool   `koanf:"enabled" json:"enabled"`
}

// discordPayload is the minimal webhook message format.
type discordPayload struct {
	Content string `json:"content"`
}

// NewDiscordNotifier creates a Discord notifier with SSRF vetting of the
// webhook URL.
func NewDiscordNotifier(config DiscordConfig, uv *validation.URLValidator) (*DiscordNotifier, error) {
	if config.WebhookURL != "" {
		if err := uv.Validate(config.WebhookURL); err != nil {
			return nil, fmt.Errorf("discord webhook URL rejected: %w", err)
		}
	}
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled,
		client:     newSecureClient(),
	}, nil
}

// Name returns the notifier name.
func (n *DiscordNotifier) Name() string {
	return "discord"
}

// Enabled returns whether this notifier is enabled.
func (n *DiscordNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.webhookURL != ""
}

// SetEnabled enables or disables the notifier.
func (n *DiscordNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Send posts the alert to the Discord webhook, truncating to the
// platform's content limit.
func (n *DiscordNotifier) Send(ctx context.Context, alert *Alert) error {
	n.mu.RLock()
	webhookURL := n.webhookURL
	enabled := n.enabled
	n.mu.RUnlock()

	if !enabled || webhookURL == "" {
		return nil
	}

	content := fmt.Sprintf("**%s**\n%s", alert.Title, alert.Message)
	if len(content) > discordMaxContent {
		content = content[:discordMaxContent-3] + "..."
	}

	body, err := json.Marshal(discordPayload{Content: content})
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send discord alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
