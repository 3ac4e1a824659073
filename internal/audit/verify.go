// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

// Report summarizes an integrity check over the log. Invalid events are
// reported, never repaired: a broken signature is evidence, not a bug to
// fix in place.
type Report struct {
	Total   int64 `json:"total"`
	Valid   int64 `json:"valid"`
	Invalid int64 `json:"invalid"`

	// Missing counts events that carry no signature at all.
	Missing int64 `json:"missing"`
}

// VerifyLog checks every event's signature in the active log and,
// optionally, rotated segments.
func (l *Logger) VerifyLog(includeRotated bool) (*Report, error) {
	report := &Report{}
	err := l.scan(includeRotated, func(ev Event) {
		report.Total++
		if ev.Signature == "" {
			report.Missing++
			report.Invalid++
			return
		}
		if l.signer.Verify(&ev) {
			report.Valid++
		} else {
			report.Invalid++
		}
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// VerifyFile checks one log file with an explicit signer, for offline
// tooling pointed at an archived segment.
func VerifyFile(path string, signer *Signer) (*Report, error) {
	report := &Report{}
	err := scanFile(path, func(ev Event) {
		report.Total++
		if ev.Signature == "" {
			report.Missing++
			report.Invalid++
			return
		}
		if signer.Verify(&ev) {
			report.Valid++
		} else {
			report.Invalid++
		}
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
