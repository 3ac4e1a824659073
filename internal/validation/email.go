// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

package validation

import "strings"

// MaxHeaderLength is the RFC 5322 line length limit used as the default
// cap for sanitized header values.
const MaxHeaderLength = 998

// ValidateEmail checks an email address shape using the validator
// singleton's email rule. Returns the address unchanged on success.
func ValidateEmail(email string) (string, error) {
	if email == "" {
		return "", &FieldError{Field: "email", Reason: "cannot be empty"}
	}
	if err := GetValidator().Var(email, "email"); err != nil {
		return "", &FieldError{Field: "email", Reason: "not a valid email address"}
	}
	// Addresses never legitimately contain CR/LF; reject outright
	// rather than sanitize.
	if strings.ContainsAny(email, "\r\n") {
		return "", &FieldError{Field: "email", Reason: "contains line breaks"}
	}
	return email, nil
}

// SanitizeHeader strips CR, LF, and tab sequences from a header value to
// prevent SMTP header injection, then bounds its length.
func SanitizeHeader(text string, maxLen int) string {
	if maxLen <= 0 || maxLen > MaxHeaderLength {
		maxLen = MaxHeaderLength
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	s := replacer.Replace(text)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// SanitizeBody strips carriage returns and NUL bytes from a message
// body. Bare newlines are legitimate body content; removing CRs is what
// breaks the CRLF.CRLF sequence that would terminate SMTP DATA early.
func SanitizeBody(text string) string {
	return strings.NewReplacer("\r", "", "\x00", "").Replace(text)
}
