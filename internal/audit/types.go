// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

// Package audit implements the tamper-evident event log: validated,
// HMAC-signed events queued to a single writer goroutine that batches
// them to an NDJSON file, with size-triggered rotation, cached queries,
// integrity verification, and export.
package audit

import (
	"errors"
	"fmt"
	"time"
)

// Event types recorded by the lead-automation pipeline.
const (
	EventLeadIngested    = "lead_ingested"
	EventLeadQualified   = "lead_qualified"
	EventLeadRouted      = "lead_routed"
	EventCRMCreate       = "crm_create"
	EventCRMUpdate       = "crm_update"
	EventEmailSent       = "email_sent"
	EventEmailScheduled  = "email_scheduled"
	EventEmailCancelled  = "email_cancelled"
	EventWorkflowStarted = "workflow_started"
	EventWorkflowStopped = "workflow_stopped"
	EventError           = "error"
)

var (
	// ErrRateLimited reports that the per-source limiter refused the
	// event. Advisory only; the caller decides whether to drop it.
	ErrRateLimited = errors.New("audit: rate limit exceeded")

	// ErrQueueFull reports that the writer queue is at capacity.
	ErrQueueFull = errors.New("audit: event queue full")

	// ErrShutdown reports an operation on a logger after Shutdown.
	ErrShutdown = errors.New("audit: logger is shut down")
)

// timestampLayout is the canonical wire format: UTC with fixed-width
// microsecond precision, so the same instant always serializes to the
// same bytes for signing.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp is a time.Time that marshals in the canonical fixed-width
// UTC microsecond format.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a canonical Timestamp, truncated to
// microsecond precision.
func Now() Timestamp {
	return Timestamp{time.Now().UTC().Truncate(time.Microsecond)}
}

// MarshalJSON encodes the timestamp in the canonical layout.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(timestampLayout) + `"`), nil
}

// UnmarshalJSON accepts the canonical layout and, for tolerance when
// reading hand-edited files, plain RFC 3339.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	s = s[1 : len(s)-1]

	parsed, err := time.Parse(timestampLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// Event is one immutable audit record. Field declaration order is the
// canonical wire order; the signature covers the serialization of all
// preceding fields with Signature empty.
type Event struct {
	Timestamp Timestamp              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Actor     string                 `json:"actor"`
	LeadID    string                 `json:"lead_id,omitempty"`
	Workflow  string                 `json:"workflow,omitempty"`
	Details   map[string]interface{} `json:"details"`
	Signature string                 `json:"signature,omitempty"`
}
