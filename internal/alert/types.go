// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

// Package alert turns sustained error activity in the audit stream into
// notifications. A Dispatcher counts error events per workflow and, when
// a threshold is crossed, fans an Alert out to the registered notifiers
// (Slack, Discord, generic webhook, email). A per-workflow cooldown keeps
// a misbehaving workflow from flooding the sinks.
package alert

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Alert describes a threshold crossing delivered to notification sinks.
type Alert struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Workflow   string    `json:"workflow"`
	ErrorCount int       `json:"error_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewAlert creates an alert with a fresh UUID and the current time.
func NewAlert(title, message, workflow string, errorCount int) *Alert {
	return &Alert{
		ID:         uuid.New().String(),
		Title:      title,
		Message:    message,
		Workflow:   workflow,
		ErrorCount: errorCount,
		Timestamp:  time.Now().UTC(),
	}
}

// Notifier delivers alerts to an external sink.
type Notifier interface {
	// Name returns a stable identifier for logging and metrics.
	Name() string

	// Enabled reports whether the notifier should receive alerts.
	Enabled() bool

	// Send delivers the alert. Implementations must respect ctx.
	Send(ctx context.Context, alert *Alert) error
}

// errRedirectBlocked is returned by the shared client's redirect policy.
// Redirects are refused so a vetted webhook URL cannot bounce a request
// to an internal address after validation.
var errRedirectBlocked = errors.New("redirects are not allowed")

// newSecureClient builds the HTTP client shared by all notifiers:
// short timeout, redirects refused.
func newSecureClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return errRedirectBlocked
		},
	}
}
