// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"github.com/leadflow/auditlog/internal/validation"
)

// EmailNotifier delivers alerts over SMTP. The subject passes through
// header sanitization so alert content can never inject extra headers,
// and the body is stripped of sequences that could end SMTP DATA early.
type EmailNotifier struct {
	mu      sync.RWMutex
	config  EmailConfig
	enabled bool

	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// EmailConfig configures the SMTP notifier.
type EmailConfig struct {
	Host     string   `koanf:"host" json:"host"`
	Port     int      `koanf:"port" json:"port"`
	Username string   `koanf:"username" json:"username"`
	Password string   `koanf:"password" json:"password"`
	From     string   `koanf:"from" json:"from" validate:"omitempty,email"`
	To       []string `koanf:"to" json:"to" validate:"dive,email"`
	Enabled  bool     `koanf:"enabled" json:"enabled"`
}

// NewEmailNotifier creates an SMTP notifier. Sender and recipient
// addresses are validated up front, the address list via the struct's
// validate tags.
func NewEmailNotifier(config EmailConfig) (*EmailNotifier, error) {
	if config.Enabled {
		if err := validation.ValidateStruct(&config); err != nil {
			return nil, fmt.Errorf("invalid email notifier config: %w", err)
		}
		if _, err := validation.ValidateEmail(config.From); err != nil {
			return nil, fmt.Errorf("invalid from address: %w", err)
		}
		if len(config.To) == 0 {
			return nil, fmt.Errorf("email notifier enabled without recipients")
		}
	}
	if config.Port == 0 {
		config.Port = 587
	}
	return &EmailNotifier{
		config:   config,
		enabled:  config.Enabled,
		sendMail: smtp.SendMail,
	}, nil
}

// Name returns the notifier name.
func (n *EmailNotifier) Name() string {
	return "email"
}

// Enabled returns whether this notifier is enabled.
func (n *EmailNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.config.Host != "" && len(n.config.To) > 0
}

// SetEnabled enables or disables the notifier.
func (n *EmailNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Send delivers the alert as a plain-text email. smtp.SendMail has no
// context support, so the send runs in a goroutine and the call returns
// on completion or ctx expiry, whichever comes first.
func (n *EmailNotifier) Send(ctx context.Context, alert *Alert) error {
	n.mu.RLock()
	cfg := n.config
	enabled := n.enabled
	send := n.sendMail
	n.mu.RUnlock()

	if !enabled || cfg.Host == "" || len(cfg.To) == 0 {
		return nil
	}

	subject := validation.SanitizeHeader(fmt.Sprintf("[auditlog] %s", alert.Title), 0)
	body := validation.SanitizeBody(alert.Message)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\nWorkflow: %s\r\nError count: %d\r\nAlert ID: %s\r\nTime: %s\r\n",
		body, alert.Workflow, alert.ErrorCount, alert.ID,
		alert.Timestamp.Format("2006-01-02 15:04:05 UTC"))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- send(addr, auth, cfg.From, cfg.To, []byte(msg.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email alert: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
