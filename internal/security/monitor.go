// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

// Package security records engine-level security events: validation
// rejections, rate-limit hits, webhook TLS failures, and audit write
// errors. Events go to a bounded in-memory ring and a dedicated
// append-only file, never mixed into the main audit stream.
package security

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/leadflow/auditlog/internal/logging"
	"github.com/leadflow/auditlog/internal/metrics"
)

// EventType categorizes security events.
type EventType string

const (
	TypeValidationError   EventType = "validation_error"
	TypeRateLimitExceeded EventType = "rate_limit_exceeded"
	TypeWebhookTLSError   EventType = "webhook_tls_error"
	TypeAuditWriteError   EventType = "audit_write_error"
)

// Event is a single security event. Field order matches the on-disk
// line format: {type, details, timestamp}.
type Event struct {
	Type      EventType              `json:"type"`
	Details   map[string]interface{} `json:"details"`
	Timestamp time.Time              `json:"timestamp"`
}

// DefaultRingSize is how many recent events the in-memory ring retains.
const DefaultRingSize = 1000

// Monitor keeps recent security events in memory and appends each to a
// dedicated log file. Recording never fails into the caller: file write
// errors are logged and dropped.
type Monitor struct {
	mu       sync.Mutex
	ring     []Event
	next     int
	filled   bool
	file     *os.File
	disabled bool
}

// NewMonitor opens (creating if needed) the security event file at path.
// An empty path disables file persistence; the ring still works.
func NewMonitor(path string) (*Monitor, error) {
	return NewMonitorSize(path, DefaultRingSize)
}

// NewMonitorSize is NewMonitor with an explicit ring capacity.
func NewMonitorSize(path string, ringSize int) (*Monitor, error) {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	m := &Monitor{
		ring: make([]Event, ringSize),
	}

	if path == "" {
		m.disabled = true
		return m, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open security event file: %w", err)
	}
	m.file = f
	return m, nil
}

// Record appends a security event to the ring and the file.
func (m *Monitor) Record(eventType EventType, details map[string]interface{}) {
	ev := Event{
		Type:      eventType,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	metrics.SecurityEvents.WithLabelValues(string(eventType)).Inc()

	m.mu.Lock()
	m.ring[m.next] = ev
	m.next++
	if m.next == len(m.ring) {
		m.next = 0
		m.filled = true
	}
	file := m.file
	m.mu.Unlock()

	if file == nil {
		return
	}

	line, err := json.Marshal(&ev)
	if err != nil {
		logging.Warn().Err(err).Str("type", string(eventType)).Msg("failed to marshal security event")
		return
	}
	line = append(line, '\n')

	m.mu.Lock()
	_, err = file.Write(line)
	m.mu.Unlock()
	if err != nil {
		logging.Warn().Err(err).Str("type", string(eventType)).Msg("failed to write security event")
	}
}

// Recent returns up to n most recent events, newest last, optionally
// filtered by type (empty type matches all).
func (m *Monitor) Recent(eventType EventType, n int) []Event {
	// Ring capacity is fixed after construction.
	if n <= 0 {
		n = len(m.ring)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.filled {
		size = len(m.ring)
	}

	out := make([]Event, 0, n)
	// Walk the ring oldest to newest.
	start := 0
	if m.filled {
		start = m.next
	}
	for i := 0; i < size; i++ {
		ev := m.ring[(start+i)%len(m.ring)]
		if eventType != "" && ev.Type != eventType {
			continue
		}
		out = append(out, ev)
	}

	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Count returns the number of retained events of the given type
// (empty type counts all).
func (m *Monitor) Count(eventType EventType) int {
	return len(m.Recent(eventType, 0))
}

// Close closes the security event file. Safe to call when disabled.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
