// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// Export formats for query results.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Export runs a query and renders the matches in the requested format.
// CSV columns are the fixed event fields followed by the union of detail
// keys in sorted order, so the layout is stable across exports.
func (l *Logger) Export(filter QueryFilter, format string) ([]byte, error) {
	events, err := l.Query(filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return json.MarshalIndent(events, "", "  ")
	case FormatCSV:
		return exportCSV(events)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// exportCSV renders events with a stable column layout.
func exportCSV(events []Event) ([]byte, error) {
	detailKeys := map[string]struct{}{}
	for i := range events {
		for k := range events[i].Details {
			detailKeys[k] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(detailKeys))
	for k := range detailKeys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{"timestamp", "event_type", "actor", "lead_id", "workflow", "signature"}, sorted...)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range events {
		ev := &events[i]
		row := []string{
			ev.Timestamp.UTC().Format(timestampLayout),
			ev.EventType,
			ev.Actor,
			ev.LeadID,
			ev.Workflow,
			ev.Signature,
		}
		for _, k := range sorted {
			v, ok := ev.Details[k]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, detailString(v))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// detailString renders one detail value for CSV; non-scalar values fall
// back to their JSON encoding.
func detailString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case float64, float32, int, int64, uint64, bool:
		return fmt.Sprintf("%v", val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
