// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leadflow/auditlog/internal/alert"
	"github.com/leadflow/auditlog/internal/cache"
	"github.com/leadflow/auditlog/internal/config"
	"github.com/leadflow/auditlog/internal/logging"
	"github.com/leadflow/auditlog/internal/metrics"
	"github.com/leadflow/auditlog/internal/ratelimit"
	"github.com/leadflow/auditlog/internal/security"
	"github.com/leadflow/auditlog/internal/validation"
)

// Logger is the audit engine facade. Construct one at the application's
// composition root and pass it to every component that logs; there is no
// package-level singleton.
//
// LogEvent and the typed helpers never block on disk I/O and never
// propagate write failures: validation and rate-limit rejections are
// returned to the immediate caller, everything after admission is
// absorbed into the security event stream.
type Logger struct {
	logPath string

	signer     *Signer
	limiter    *ratelimit.Limiter
	cache      *cache.Cache
	monitor    *security.Monitor
	dispatcher *alert.Dispatcher
	rotator    *Rotator
	writer     *Writer

	urlValidator *validation.URLValidator

	anonymize atomic.Bool
	piiFields map[string]struct{}

	webhookMu sync.RWMutex
	webhooks  []string

	// scans counts file scans, observable by cache tests.
	scans atomic.Int64

	closed       atomic.Bool
	shutdownOnce sync.Once
}

// New builds the engine from configuration. Construction errors (unsafe
// paths, unreadable key) are fatal: the process must not start with a
// partially working audit trail. The dispatcher may be nil when alerting
// is not wanted.
func New(cfg *config.Config, dispatcher *alert.Dispatcher) (*Logger, error) {
	allowedDirs := cfg.Audit.AllowedDirs
	if len(allowedDirs) == 0 {
		allowedDirs = []string{filepath.Dir(cfg.Audit.LogPath)}
	}

	logPath, err := validation.ValidateFilePath(cfg.Audit.LogPath, allowedDirs)
	if err != nil {
		return nil, fmt.Errorf("audit log path rejected: %w", err)
	}
	keyPath, err := validation.ValidateFilePath(cfg.Audit.KeyPath, allowedDirs)
	if err != nil {
		return nil, fmt.Errorf("signing key path rejected: %w", err)
	}

	key, err := LoadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	signer, err := NewSigner(key)
	if err != nil {
		return nil, err
	}

	monitor, err := security.NewMonitorSize(cfg.Security.EventsPath, cfg.Security.RingSize)
	if err != nil {
		return nil, fmt.Errorf("security monitor: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		})
	}

	cacheTTL := cfg.Audit.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	queryCache := cache.New(cacheTTL)

	rotator := NewRotator(RotatorConfig{
		Path:          logPath,
		MaxSizeBytes:  int64(cfg.Audit.MaxSizeMB) * 1024 * 1024,
		RetentionDays: cfg.Audit.RetentionDays,
	})

	piiFields := cfg.Audit.PIIFields
	if len(piiFields) == 0 {
		piiFields = defaultPIIFields
	}
	piiSet := make(map[string]struct{}, len(piiFields))
	for _, f := range piiFields {
		piiSet[f] = struct{}{}
	}

	l := &Logger{
		logPath:    logPath,
		signer:     signer,
		limiter:    limiter,
		cache:      queryCache,
		monitor:    monitor,
		dispatcher: dispatcher,
		rotator:    rotator,
		piiFields:  piiSet,
		urlValidator: validation.NewURLValidator(
			cfg.Security.WebhookSchemes, cfg.Security.AllowLocalWebhooks),
	}
	l.anonymize.Store(cfg.Audit.ComplianceMode)

	writer, err := NewWriter(WriterConfig{
		Path:          logPath,
		QueueSize:     cfg.Audit.QueueSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, rotator, queryCache, monitor, l.streamToWebhooks)
	if err != nil {
		monitor.Close()
		queryCache.Stop()
		if limiter != nil {
			limiter.Stop()
		}
		return nil, err
	}
	l.writer = writer

	logging.Info().
		Str("log_path", logPath).
		Int("batch_size", cfg.Audit.BatchSize).
		Dur("flush_interval", cfg.Audit.FlushInterval).
		Msg("Audit engine started")
	return l, nil
}

// Monitor exposes the security event stream.
func (l *Logger) Monitor() *security.Monitor {
	return l.monitor
}

// EnableComplianceMode toggles PII redaction for subsequently logged
// events. Events already on disk are untouched.
func (l *Logger) EnableComplianceMode(enabled bool) {
	l.anonymize.Store(enabled)
	logging.Info().Bool("anonymize_pii", enabled).Msg("Compliance mode changed")
}

// RateLimitStats reports admission limiter counters, or the zero value
// when rate limiting is disabled.
func (l *Logger) RateLimitStats() ratelimit.Stats {
	if l.limiter == nil {
		return ratelimit.Stats{}
	}
	return l.limiter.Stats()
}

// Signer exposes the integrity signer for offline verification tooling.
func (l *Logger) Signer() *Signer {
	return l.signer
}

// LogEvent validates, rate-limits, signs, and enqueues one event.
// Returned errors are advisory: the caller should catch-and-continue,
// never fail its own request path over an audit rejection.
func (l *Logger) LogEvent(eventType, actor, leadID, workflow string, details map[string]interface{}) error {
	if l.closed.Load() {
		return ErrShutdown
	}

	if err := l.validate(eventType, leadID, workflow, details); err != nil {
		metrics.EventsDropped.WithLabelValues("validation").Inc()
		l.monitor.Record(security.TypeValidationError, map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		})
		return err
	}

	if l.limiter != nil {
		key := sourceKey(workflow, leadID)
		if !l.limiter.Allow(key) {
			metrics.EventsDropped.WithLabelValues("rate_limit").Inc()
			metrics.RateLimitRejections.Inc()
			l.monitor.Record(security.TypeRateLimitExceeded, map[string]interface{}{
				"source": key,
			})
			return fmt.Errorf("%w: source %s", ErrRateLimited, key)
		}
	}

	if details == nil {
		details = map[string]interface{}{}
	}
	if l.anonymize.Load() {
		details = redactDetails(details, l.piiFields)
	}
	ev := Event{
		Timestamp: Now(),
		EventType: eventType,
		Actor:     validation.SanitizeActor(actor),
		LeadID:    leadID,
		Workflow:  workflow,
		Details:   details,
	}

	sig, err := l.signer.Sign(&ev)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("sign_error").Inc()
		return fmt.Errorf("failed to sign event: %w", err)
	}
	ev.Signature = sig

	if err := l.writer.Enqueue(ev); err != nil {
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		l.monitor.Record(security.TypeAuditWriteError, map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		})
		return err
	}
	return nil
}

// validate applies field rules before any write work happens. Oversized
// or malformed input is rejected, never truncated.
func (l *Logger) validate(eventType, leadID, workflow string, details map[string]interface{}) error {
	if _, err := validation.ValidateEventType(eventType); err != nil {
		return err
	}
	if leadID != "" {
		if _, err := validation.ValidateLeadID(leadID); err != nil {
			return err
		}
	}
	if workflow != "" {
		if _, err := validation.ValidateWorkflow(workflow); err != nil {
			return err
		}
	}
	return validation.ValidateDetails(details)
}

// sourceKey derives the rate-limit bucket key.
func sourceKey(workflow, leadID string) string {
	if workflow == "" && leadID == "" {
		return ratelimit.DefaultKey
	}
	return workflow + ":" + leadID
}

// Flush blocks until every event accepted so far is durably written.
func (l *Logger) Flush() error {
	if l.closed.Load() {
		return ErrShutdown
	}
	return l.writer.Flush()
}

// Shutdown stops accepting events, flushes the queue, and releases every
// resource. Idempotent; the application must call it on exit or buffered
// events are lost.
func (l *Logger) Shutdown() error {
	var err error
	l.shutdownOnce.Do(func() {
		l.closed.Store(true)
		err = l.writer.Close()
		if l.limiter != nil {
			l.limiter.Stop()
		}
		l.cache.Stop()
		if l.dispatcher != nil {
			l.dispatcher.Close()
		}
		if cerr := l.monitor.Close(); err == nil {
			err = cerr
		}
		logging.Info().Msg("Audit engine stopped")
	})
	return err
}

// Typed helpers for the lead-automation pipeline. Each is a thin wrapper
// over LogEvent with the matching event type.

// LogLeadIngested records a new lead entering the pipeline.
func (l *Logger) LogLeadIngested(leadID, source string, details map[string]interface{}) error {
	details = withDetail(details, "source", source)
	return l.LogEvent(EventLeadIngested, "", leadID, "", details)
}

// LogLeadQualified records a lead passing qualification.
func (l *Logger) LogLeadQualified(leadID, workflow string, score float64) error {
	return l.LogEvent(EventLeadQualified, "", leadID, workflow,
		map[string]interface{}{"score": score})
}

// LogLeadRouted records a lead handed to an owner or queue.
func (l *Logger) LogLeadRouted(leadID, workflow, destination string) error {
	return l.LogEvent(EventLeadRouted, "", leadID, workflow,
		map[string]interface{}{"destination": destination})
}

// LogCRMCreate records a CRM record creation for a lead.
func (l *Logger) LogCRMCreate(leadID, crmID string, details map[string]interface{}) error {
	details = withDetail(details, "crm_id", crmID)
	return l.LogEvent(EventCRMCreate, "", leadID, "", details)
}

// LogCRMUpdate records a CRM field sync for a lead.
func (l *Logger) LogCRMUpdate(leadID, crmID string, details map[string]interface{}) error {
	details = withDetail(details, "crm_id", crmID)
	return l.LogEvent(EventCRMUpdate, "", leadID, "", details)
}

// LogEmailSent records a campaign email delivery.
func (l *Logger) LogEmailSent(leadID, workflow, template string) error {
	return l.LogEvent(EventEmailSent, "", leadID, workflow,
		map[string]interface{}{"template": template})
}

// LogEmailScheduled records a deferred email.
func (l *Logger) LogEmailScheduled(leadID, workflow, template string, sendAt string) error {
	return l.LogEvent(EventEmailScheduled, "", leadID, workflow,
		map[string]interface{}{"template": template, "send_at": sendAt})
}

// LogEmailCancelled records a cancelled scheduled email.
func (l *Logger) LogEmailCancelled(leadID, workflow, template string) error {
	return l.LogEvent(EventEmailCancelled, "", leadID, workflow,
		map[string]interface{}{"template": template})
}

// LogWorkflowStarted records a workflow activation.
func (l *Logger) LogWorkflowStarted(workflow, actor string) error {
	return l.LogEvent(EventWorkflowStarted, actor, "", workflow, nil)
}

// LogWorkflowStopped records a workflow deactivation.
func (l *Logger) LogWorkflowStopped(workflow, actor string) error {
	return l.LogEvent(EventWorkflowStopped, actor, "", workflow, nil)
}

// LogError records a pipeline error and feeds the alert dispatcher's
// threshold counter.
func (l *Logger) LogError(workflow, leadID, message string, details map[string]interface{}) error {
	details = withDetail(details, "message", message)
	err := l.LogEvent(EventError, "", leadID, workflow, details)
	if err == nil && l.dispatcher != nil {
		l.dispatcher.ObserveError(workflow, message)
	}
	return err
}

// withDetail returns details with one extra key, allocating when nil.
func withDetail(details map[string]interface{}, key string, value interface{}) map[string]interface{} {
	if details == nil {
		details = make(map[string]interface{}, 1)
	}
	details[key] = value
	return details
}
