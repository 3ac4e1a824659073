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
	"time"

	"github.com/goccy/go-json"

	"github.com/leadflow/auditlog/internal/validation"
)

// WebhookNotifier sends alerts to a generic webhook endpoint.
type WebhookNotifier struct {
	mu         sync.RWMutex
	webhookURL string
	headers    map[string]string
	client     *http.Client
	enabled    bool
}

// WebhookConfig configures the generic webhook notifier.
type WebhookConfig struct {
	WebhookURL string            `koanf:"webhook_url" json:"webhook_url"`
	Headers    map[string]string `koanf:"headers" json:"headers,omitempty"` // Custom headers (e.g., auth)
	Enabled    bool              `koanf:"enabled" json:"enabled"`
}

// WebhookPayload is the JSON payload sent to the webhook endpoint.
type WebhookPayload struct {
	Alert     *Alert    `json:"alert"`
	EventType string    `json:"event_type"` // audit_alert
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // auditlog
}

// NewWebhookNotifier creates a generic webhook notifier with SSRF vetting
// of the endpoint URL.
func NewWebhookNotifier(config WebhookConfig, uv *validation.URLValidator) (*WebhookNotifier, error) {
	if config.WebhookURL != "" {
		if err := uv.Validate(config.WebhookURL); err != nil {
			return nil, fmt.Errorf("webhook URL rejected: %w", err)
		}
	}

	headers := make(map[string]string)
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &WebhookNotifier{
		webhookURL: config.WebhookURL,
		headers:    headers,
		enabled:    config.Enabled,
		client:     newSecureClient(),
	}, nil
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Enabled returns whether this notifier is enabled.
func (n *WebhookNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.webhookURL != ""
}

// SetEnabled enables or disables the notifier.
func (n *WebhookNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Send delivers the alert wrapped in a WebhookPayload envelope.
func (n *WebhookNotifier) Send(ctx context.Context, alert *Alert) error {
	n.mu.RLock()
	webhookURL := n.webhookURL
	enabled := n.enabled
	headers := make(map[string]string)
	for k, v := range n.headers {
		headers[k] = v
	}
	n.mu.RUnlock()

	if !enabled || webhookURL == "" {
		return nil
	}

	payload := WebhookPayload{
		Alert:     alert,
		EventType: "audit_alert",
		Timestamp: time.Now().UTC(),
		Source:    "auditlog",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
