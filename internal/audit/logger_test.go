// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/leadflow/auditlog/internal/config"
	"github.com/leadflow/auditlog/internal/security"
	"github.com/leadflow/auditlog/internal/validation"
)

func TestLogEventRejectsInvalidInput(t *testing.T) {
	l := newTestLogger(t, nil)

	tests := []struct {
		name      string
		eventType string
		leadID    string
		workflow  string
		details   map[string]interface{}
	}{
		{"bad lead charset", EventLeadIngested, "lead;drop", "", nil},
		{"lead too long", EventLeadIngested, strings.Repeat("a", 51), "", nil},
		{"regex metachars", EventLeadIngested, "(a+)+$", "", nil},
		{"bad workflow", EventLeadIngested, "lead-1", "wf with spaces", nil},
		{"bad event type", "lead ingested", "lead-1", "", nil},
		{"oversized details", EventLeadIngested, "lead-1", "", map[string]interface{}{
			"blob": strings.Repeat("x", validation.MaxDetailsSize+1),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.LogEvent(tt.eventType, "", tt.leadID, tt.workflow, tt.details)
			if err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	events, err := l.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("rejected events must not be written, found %d", len(events))
	}

	if got := l.Monitor().Count(security.TypeValidationError); got != 6 {
		t.Errorf("validation security events = %d, want 6", got)
	}
}

func TestLogEventRateLimit(t *testing.T) {
	l := newTestLogger(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, Rate: 10, Burst: 20}
	})

	admitted := 0
	var rejected error
	for i := 0; i < 21; i++ {
		err := l.LogEvent(EventLeadIngested, "", "lead-1", "inbound", nil)
		if err == nil {
			admitted++
		} else {
			rejected = err
		}
	}
	if admitted != 20 {
		t.Errorf("admitted = %d, want burst of 20", admitted)
	}
	if !errors.Is(rejected, ErrRateLimited) {
		t.Errorf("rejection error = %v, want ErrRateLimited", rejected)
	}
	if l.Monitor().Count(security.TypeRateLimitExceeded) == 0 {
		t.Error("rate limit rejection must record a security event")
	}

	// Other sources are unaffected.
	if err := l.LogEvent(EventLeadIngested, "", "lead-2", "inbound", nil); err != nil {
		t.Errorf("different source should be admitted: %v", err)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	l := newTestLogger(t, nil)

	_ = l.LogEvent(EventLeadIngested, "", "lead-1", "", nil)

	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := l.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	if err := l.LogEvent(EventLeadIngested, "", "lead-2", "", nil); !errors.Is(err, ErrShutdown) {
		t.Errorf("LogEvent after Shutdown = %v, want ErrShutdown", err)
	}
	if err := l.Flush(); !errors.Is(err, ErrShutdown) {
		t.Errorf("Flush after Shutdown = %v, want ErrShutdown", err)
	}
}

func TestShutdownFlushesPending(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")
	l := newTestLogger(t, func(cfg *config.Config) {
		cfg.Audit.LogPath = logPath
		cfg.Audit.KeyPath = filepath.Join(dir, "audit.key")
	})

	for i := 0; i < 7; i++ {
		if err := l.LogEvent(EventLeadIngested, "", "lead-1", "", nil); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}
	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if got := len(readLines(t, logPath)); got != 7 {
		t.Errorf("final flush persisted %d events, want 7", got)
	}
}

func TestKeyPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	mutate := func(cfg *config.Config) {
		cfg.Audit.LogPath = filepath.Join(dir, "audit.log")
		cfg.Audit.KeyPath = filepath.Join(dir, "audit.key")
	}

	first := newTestLogger(t, mutate)
	if err := first.LogEvent(EventLeadIngested, "", "lead-1", "", nil); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := first.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// A second engine against the same key file must verify signatures
	// produced before the restart.
	second := newTestLogger(t, mutate)
	report, err := second.VerifyLog(false)
	if err != nil {
		t.Fatalf("VerifyLog: %v", err)
	}
	if report.Total != 1 || report.Valid != 1 || report.Invalid != 0 {
		t.Errorf("report = %+v, want 1 valid event", report)
	}
}

func TestVerifyLogDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")
	l := newTestLogger(t, func(cfg *config.Config) {
		cfg.Audit.LogPath = logPath
		cfg.Audit.KeyPath = filepath.Join(dir, "audit.key")
	})

	_ = l.LogEvent(EventLeadIngested, "", "lead-1", "", map[string]interface{}{"source": "webform"})
	_ = l.LogEvent(EventCRMUpdate, "", "lead-2", "", nil)
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Tamper with the first line on disk.
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	edited := strings.Replace(string(data), "webform", "webforn", 1)
	if edited == string(data) {
		t.Fatal("tamper target not found in file")
	}
	if err := os.WriteFile(logPath, []byte(edited), 0640); err != nil {
		t.Fatalf("write: %v", err)
	}

	report, err := l.VerifyLog(false)
	if err != nil {
		t.Fatalf("VerifyLog: %v", err)
	}
	if report.Total != 2 || report.Valid != 1 || report.Invalid != 1 {
		t.Errorf("report = %+v, want 1 valid and 1 invalid", report)
	}
}

func TestWebhookStreamDeliversBatches(t *testing.T) {
	var mu sync.Mutex
	var received []Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var batch []Event
		if err := json.Unmarshal(body, &batch); err == nil {
			mu.Lock()
			received = append(received, batch...)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := newTestLogger(t, nil)
	if err := l.AddWebhook(srv.URL); err != nil {
		t.Fatalf("AddWebhook: %v", err)
	}

	_ = l.LogEvent(EventLeadIngested, "", "lead-1", "", nil)
	_ = l.LogEvent(EventCRMUpdate, "", "lead-1", "", nil)
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stream delivered %d events, want 2", len(received))
}

func TestAddWebhookRejectsSSRF(t *testing.T) {
	l := newTestLogger(t, func(cfg *config.Config) {
		cfg.Security.AllowLocalWebhooks = false
		cfg.Security.WebhookSchemes = []string{"https"}
	})

	for _, url := range []string{
		"http://127.0.0.1/hook",
		"https://169.254.169.254/latest/meta-data/",
		"https://10.0.0.5/hook",
		"ftp://example.com/hook",
	} {
		if err := l.AddWebhook(url); err == nil {
			t.Errorf("AddWebhook(%q) should be rejected", url)
		}
	}

	if l.Monitor().Count(security.TypeValidationError) == 0 {
		t.Error("SSRF rejections must record security events")
	}
}

func TestNewRejectsPathOutsideAllowedDirs(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	cfg := &config.Config{
		Audit: config.AuditConfig{
			LogPath:       filepath.Join(outside, "audit.log"),
			KeyPath:       filepath.Join(dir, "audit.key"),
			AllowedDirs:   []string{dir},
			QueueSize:     10,
			BatchSize:     5,
			FlushInterval: time.Second,
			MaxSizeMB:     1,
			CacheTTL:      time.Second,
		},
	}
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("log path outside allowed dirs must be fatal at construction")
	}
}

func TestTypedHelpers(t *testing.T) {
	l := newTestLogger(t, nil)

	if err := l.LogLeadIngested("lead-1", "webform", nil); err != nil {
		t.Fatalf("LogLeadIngested: %v", err)
	}
	if err := l.LogLeadQualified("lead-1", "inbound", 0.87); err != nil {
		t.Fatalf("LogLeadQualified: %v", err)
	}
	if err := l.LogCRMCreate("lead-1", "sf-001", nil); err != nil {
		t.Fatalf("LogCRMCreate: %v", err)
	}
	if err := l.LogEmailSent("lead-1", "inbound", "welcome"); err != nil {
		t.Fatalf("LogEmailSent: %v", err)
	}
	if err := l.LogWorkflowStarted("inbound", "admin"); err != nil {
		t.Fatalf("LogWorkflowStarted: %v", err)
	}
	if err := l.LogError("inbound", "lead-1", "crm timeout", nil); err != nil {
		t.Fatalf("LogError: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events, err := l.Query(QueryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("got %d events, want 6", len(events))
	}

	if events[0].EventType != EventLeadIngested || events[0].Details["source"] != "webform" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if num, ok := events[1].Details["score"].(json.Number); !ok || num.String() != "0.87" {
		t.Errorf("score = %v, want 0.87", events[1].Details["score"])
	}
	if events[4].Actor != "admin" {
		t.Errorf("workflow event actor = %q, want admin", events[4].Actor)
	}
	if events[5].Details["message"] != "crm timeout" {
		t.Errorf("error message = %v", events[5].Details["message"])
	}

	// Every persisted event carries a verifiable signature.
	report, err := l.VerifyLog(false)
	if err != nil {
		t.Fatalf("VerifyLog: %v", err)
	}
	if report.Valid != 6 || report.Invalid != 0 {
		t.Errorf("report = %+v, want 6 valid", report)
	}
}

func redactedToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "[REDACTED_" + hex.EncodeToString(sum[:])[:16] + "]"
}

func TestComplianceModeRedactsPII(t *testing.T) {
	l := newTestLogger(t, func(cfg *config.Config) {
		cfg.Audit.ComplianceMode = true
	})

	err := l.LogEvent(EventLeadIngested, "", "lead-1", "", map[string]interface{}{
		"email":  "alice@example.com",
		"phone":  "+15550100",
		"source": "webform",
	})
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events, err := l.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if got := events[0].Details["email"]; got != redactedToken("alice@example.com") {
		t.Errorf("email = %v, want deterministic redaction token", got)
	}
	if got := events[0].Details["phone"]; got != redactedToken("+15550100") {
		t.Errorf("phone = %v, want deterministic redaction token", got)
	}
	if got := events[0].Details["source"]; got != "webform" {
		t.Errorf("non-PII detail changed: %v", got)
	}

	// The signature covers the redacted form, so the log still verifies.
	report, err := l.VerifyLog(false)
	if err != nil {
		t.Fatalf("VerifyLog: %v", err)
	}
	if report.Valid != 1 || report.Invalid != 0 {
		t.Errorf("report = %+v, want 1 valid event", report)
	}
}

func TestComplianceModeCustomFields(t *testing.T) {
	l := newTestLogger(t, func(cfg *config.Config) {
		cfg.Audit.ComplianceMode = true
		cfg.Audit.PIIFields = []string{"customer_ref"}
	})

	err := l.LogEvent(EventCRMCreate, "", "lead-1", "", map[string]interface{}{
		"customer_ref": "ACME-0042",
		"email":        "bob@example.com",
	})
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events, err := l.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := events[0].Details["customer_ref"]; got != redactedToken("ACME-0042") {
		t.Errorf("customer_ref = %v, want redaction token", got)
	}
	// The custom set replaces the default one entirely.
	if got := events[0].Details["email"]; got != "bob@example.com" {
		t.Errorf("email = %v, want unredacted value", got)
	}
}

func TestEnableComplianceModeToggle(t *testing.T) {
	l := newTestLogger(t, nil)

	l.EnableComplianceMode(true)
	_ = l.LogEvent(EventLeadIngested, "", "lead-1", "", map[string]interface{}{"email": "a@example.com"})
	l.EnableComplianceMode(false)
	_ = l.LogEvent(EventLeadIngested, "", "lead-2", "", map[string]interface{}{"email": "b@example.com"})
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events, err := l.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !strings.HasPrefix(events[0].Details["email"].(string), "[REDACTED_") {
		t.Errorf("first event email = %v, want redacted", events[0].Details["email"])
	}
	if events[1].Details["email"] != "b@example.com" {
		t.Errorf("second event email = %v, want plain value", events[1].Details["email"])
	}
}

func TestRateLimitStats(t *testing.T) {
	l := newTestLogger(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, Rate: 1, Burst: 2}
	})

	for i := 0; i < 5; i++ {
		_ = l.LogEvent(EventLeadIngested, "", "lead-1", "inbound", nil)
	}

	stats := l.RateLimitStats()
	if stats.ActiveSources != 1 {
		t.Errorf("ActiveSources = %d, want 1", stats.ActiveSources)
	}
	if stats.BlockedEvents == 0 {
		t.Error("rejections should show up in BlockedEvents")
	}

	disabled := newTestLogger(t, nil)
	if s := disabled.RateLimitStats(); s.ActiveSources != 0 || s.BlockedEvents != 0 {
		t.Errorf("disabled limiter stats = %+v, want zero value", s)
	}
}

func TestVerifyPreservesLargeIntegerDetails(t *testing.T) {
	l := newTestLogger(t, nil)

	// 2^53+1 has no exact float64 representation. The literal must
	// survive the disk round trip byte for byte or the event fails its
	// own integrity check.
	const externalID = int64(9007199254740993)
	err := l.LogEvent(EventCRMCreate, "", "lead-1", "", map[string]interface{}{
		"external_id": externalID,
	})
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	report, err := l.VerifyLog(false)
	if err != nil {
		t.Fatalf("VerifyLog: %v", err)
	}
	if report.Total != 1 || report.Valid != 1 || report.Invalid != 0 {
		t.Errorf("report = %+v, want 1 valid event", report)
	}

	events, err := l.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	num, ok := events[0].Details["external_id"].(json.Number)
	if !ok {
		t.Fatalf("external_id is %T, want json.Number", events[0].Details["external_id"])
	}
	if got, err := num.Int64(); err != nil || got != externalID {
		t.Errorf("external_id = %v, want %d", num, externalID)
	}
}

func TestActorDefaultsToSystem(t *testing.T) {
	l := newTestLogger(t, nil)

	_ = l.LogEvent(EventLeadIngested, "", "lead-1", "", nil)
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events, err := l.Query(QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 || events[0].Actor != "system" {
		t.Errorf("empty actor should persist as system, got %+v", events)
	}
}
