// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"bytes"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/leadflow/auditlog/internal/logging"
	"github.com/leadflow/auditlog/internal/security"
)

// streamClient posts event batches to registered webhooks. Same hardening
// as the alert sinks: short timeout, no redirects.
var streamClient = &http.Client{
	Timeout: 5 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return errors.New("redirects are not allowed")
	},
}

// AddWebhook registers a URL to receive every durably written event
// batch as a JSON array. The URL is vetted against SSRF targets once, at
// registration; rejections are recorded as security events.
func (l *Logger) AddWebhook(url string) error {
	if err := l.urlValidator.Validate(url); err != nil {
		l.monitor.Record(security.TypeValidationError, map[string]interface{}{
			"webhook": url,
			"error":   err.Error(),
		})
		return err
	}

	l.webhookMu.Lock()
	defer l.webhookMu.Unlock()
	for _, existing := range l.webhooks {
		if existing == url {
			return nil
		}
	}
	l.webhooks = append(l.webhooks, url)
	logging.Info().Str("webhook", url).Msg("Audit event webhook registered")
	return nil
}

// RemoveWebhook deregisters a URL. Unknown URLs are a no-op.
func (l *Logger) RemoveWebhook(url string) {
	l.webhookMu.Lock()
	defer l.webhookMu.Unlock()
	for i, existing := range l.webhooks {
		if existing == url {
			l.webhooks = append(l.webhooks[:i], l.webhooks[i+1:]...)
			return
		}
	}
}

// streamToWebhooks runs on the writer goroutine after each flush. Sends
// happen in a goroutine per webhook so a slow endpoint cannot stall the
// write path. Delivery is best effort; failures are logged, and TLS
// certificate failures additionally become security events.
func (l *Logger) streamToWebhooks(events []Event) {
	l.webhookMu.RLock()
	if len(l.webhooks) == 0 {
		l.webhookMu.RUnlock()
		return
	}
	targets := make([]string, len(l.webhooks))
	copy(targets, l.webhooks)
	l.webhookMu.RUnlock()

	body, err := json.Marshal(events)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to serialize event batch for streaming")
		return
	}

	for _, url := range targets {
		go l.postBatch(url, body)
	}
}

// postBatch delivers one serialized batch to one webhook.
func (l *Logger) postBatch(url string, body []byte) {
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		logging.Warn().Err(err).Str("webhook", url).Msg("Failed to build stream request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := streamClient.Do(req)
	if err != nil {
		var certErr *tls.CertificateVerificationError
		if errors.As(err, &certErr) {
			l.monitor.Record(security.TypeWebhookTLSError, map[string]interface{}{
				"webhook": url,
				"error":   err.Error(),
			})
		}
		logging.Warn().Err(err).Str("webhook", url).Msg("Event stream delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logging.Warn().Int("status", resp.StatusCode).Str("webhook", url).
			Msg("Event stream webhook returned error status")
	}
}
