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

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	mu         sync.RWMutex
	webhookURL string
	client     *http.Client
	enabled    bool
}

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	WebhookURL string `koanf:"webhook_url" json:"webhook_url"`
	Enabled    bool   `koanf:"enabled" json:"enabled"`
}

// slackPayload is the minimal incoming-webhook message format.
type slackPayload struct {
	Text string `json:"text"`
}

// NewSlackNotifier creates a Slack notifier. The webhook URL is vetted
// against SSRF targets; an invalid URL is an error, not a disabled sink.
func NewSlackNotifier(config SlackConfig, uv *validation.URLValidator) (*SlackNotifier, error) {
	if config.WebhookURL != "" {
		if err := uv.Validate(config.WebhookURL); err != nil {
			return nil, fmt.Errorf("slack webhook URL rejected: %w", err)
		}
	}
	return &SlackNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled,
		client:     newSecureClient(),
	}, nil
}

// Name returns the notifier name.
func (n *SlackNotifier) Name() string {
	return "slack"
}

// Enabled returns whether this notifier is enabled.
func (n *SlackNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.webhookURL != ""
}

// SetEnabled enables or disables the notifier.
func (n *SlackNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Send posts the alert text to the Slack webhook.
func (n *SlackNotifier) Send(ctx context.Context, alert *Alert) error {
	n.mu.RLock()
	webhookURL := n.webhookURL
	enabled := n.enabled
	n.mu.RUnlock()

	if !enabled || webhookURL == "" {
		return nil
	}

	payload := slackPayload{
		Text: fmt.Sprintf("*%s*\n%s", alert.Title, alert.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
