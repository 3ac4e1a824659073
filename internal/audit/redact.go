// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// defaultPIIFields are the detail keys redacted in compliance mode when
// the configuration does not name its own set.
var defaultPIIFields = []string{"email", "phone", "name", "address", "ssn"}

// redactValue replaces a PII value with a token carrying a truncated
// hash of the original, so equal inputs stay correlatable across events
// without being recoverable.
func redactValue(v interface{}) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", v)))
	return "[REDACTED_" + hex.EncodeToString(sum[:])[:16] + "]"
}

// redactDetails returns a copy of details with every configured PII key
// replaced. The input map is left untouched; callers may still hold it.
func redactDetails(details map[string]interface{}, fields map[string]struct{}) map[string]interface{} {
	redacted := make(map[string]interface{}, len(details))
	for k, v := range details {
		if _, ok := fields[k]; ok {
			redacted[k] = redactValue(v)
		} else {
			redacted[k] = v
		}
	}
	return redacted
}
