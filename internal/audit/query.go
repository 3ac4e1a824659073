// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/leadflow/auditlog/internal/cache"
	"github.com/leadflow/auditlog/internal/metrics"
)

const (
	// DefaultQueryLimit applies when a filter leaves Limit at zero.
	DefaultQueryLimit = 100

	// MaxQueryLimit bounds result memory regardless of the caller.
	MaxQueryLimit = 10000

	// maxTrackedLeads bounds unique-lead accounting in statistics.
	maxTrackedLeads = 10000

	// maxLineSize bounds a single NDJSON line during scans. Details are
	// capped at 50KB before write, so this leaves ample headroom.
	maxLineSize = 1 << 20
)

// QueryFilter selects events. All string filters are literal values
// compared for equality, never compiled as patterns. Zero values mean
// "any".
type QueryFilter struct {
	EventType string    `json:"event_type,omitempty"`
	LeadID    string    `json:"lead_id,omitempty"`
	Workflow  string    `json:"workflow,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`

	// IncludeRotated extends the scan to compressed rotated segments.
	IncludeRotated bool `json:"include_rotated,omitempty"`
}

// Statistics aggregates event counts over the scanned log.
type Statistics struct {
	TotalEvents int64            `json:"total_events"`
	EventCounts map[string]int64 `json:"event_counts"`
	UniqueLeads int              `json:"unique_leads"`
	ErrorCount  int64            `json:"error_count"`
}

// Query scans the log for events matching the AND-combined filter and
// returns the most recent Limit matches in write order. Results are
// served from the query cache when a previous identical query is still
// within TTL; the cache is invalidated wholesale on every flush and
// rotation.
func (l *Logger) Query(filter QueryFilter) ([]Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryLimit
	}
	if filter.Limit > MaxQueryLimit {
		filter.Limit = MaxQueryLimit
	}

	key := cache.GenerateKey("query", filter)
	if cached, ok := l.cache.Get(key); ok {
		metrics.CacheHits.Inc()
		return cached.([]Event), nil
	}
	metrics.CacheMisses.Inc()

	matches := make([]Event, 0, filter.Limit)
	err := l.scan(filter.IncludeRotated, func(ev Event) {
		if !filter.matches(&ev) {
			return
		}
		if len(matches) == filter.Limit {
			copy(matches, matches[1:])
			matches = matches[:filter.Limit-1]
		}
		matches = append(matches, ev)
	})
	if err != nil {
		return nil, err
	}

	l.cache.Set(key, matches)
	return matches, nil
}

// GetLeadHistory returns up to 1000 events for one lead, oldest first
// within the returned window.
func (l *Logger) GetLeadHistory(leadID string) ([]Event, error) {
	return l.Query(QueryFilter{LeadID: leadID, Limit: 1000})
}

// GetStatistics aggregates counts by event type, optionally restricted
// to one workflow. Unique-lead tracking is capped so a very large log
// cannot exhaust memory.
func (l *Logger) GetStatistics(workflow string) (*Statistics, error) {
	key := cache.GenerateKey("stats", workflow)
	if cached, ok := l.cache.Get(key); ok {
		metrics.CacheHits.Inc()
		return cached.(*Statistics), nil
	}
	metrics.CacheMisses.Inc()

	stats := &Statistics{EventCounts: make(map[string]int64)}
	leads := make(map[string]struct{})

	err := l.scan(false, func(ev Event) {
		if workflow != "" && ev.Workflow != workflow {
			return
		}
		stats.TotalEvents++
		stats.EventCounts[ev.EventType]++
		if ev.EventType == EventError {
			stats.ErrorCount++
		}
		if ev.LeadID != "" && len(leads) < maxTrackedLeads {
			leads[ev.LeadID] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	stats.UniqueLeads = len(leads)

	l.cache.Set(key, stats)
	return stats, nil
}

// matches applies the filter to one event. String comparisons are plain
// equality; filter values never reach a regex engine.
func (f *QueryFilter) matches(ev *Event) bool {
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.LeadID != "" && ev.LeadID != f.LeadID {
		return false
	}
	if f.Workflow != "" && ev.Workflow != f.Workflow {
		return false
	}
	if !f.StartTime.IsZero() && ev.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && ev.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// scan streams every event in the log through fn, rotated segments first
// when requested, then the active file. Lines that fail to parse are
// skipped; a partially written tail line must not fail a whole query.
func (l *Logger) scan(includeRotated bool, fn func(Event)) error {
	l.scans.Add(1)

	var paths []string
	if includeRotated && l.rotator != nil {
		paths = append(paths, l.rotator.Segments()...)
	}
	paths = append(paths, l.logPath)

	for _, path := range paths {
		if err := scanFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

// scanFile reads one NDJSON file, transparently decompressing .gz
// segments. Numbers decode as json.Number so detail values re-serialize
// to the exact literal that was signed; a float64 round trip would
// corrupt integers above 2^53 and fail verification.
func scanFile(path string, fn func(Event)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to read compressed segment %s: %w", path, err)
		}
		defer gz.Close()
		reader = gz
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&ev); err != nil {
			continue
		}
		fn(ev)
	}
	return scanner.Err()
}
